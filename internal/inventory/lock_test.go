package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
)

type fakeTx struct {
	ticketTypes map[string]*domain.TicketType
	showtimes   map[string]*domain.Showtime
	discounts   map[string]*domain.Discount

	lockedIDs     [][]string
	discountLocks []string
	sold          map[string]int
	seats         map[string][]string
	available     map[string]int
	uses          map[string]int
}

func newFakeTx() *fakeTx {
	return &fakeTx{
		ticketTypes: map[string]*domain.TicketType{},
		showtimes:   map[string]*domain.Showtime{},
		discounts:   map[string]*domain.Discount{},
		sold:        map[string]int{},
		seats:       map[string][]string{},
		available:   map[string]int{},
		uses:        map[string]int{},
	}
}

func (f *fakeTx) LockTicketTypes(ctx context.Context, ids []string) ([]*domain.TicketType, error) {
	f.lockedIDs = append(f.lockedIDs, ids)
	var out []*domain.TicketType
	for _, id := range ids {
		if tt, ok := f.ticketTypes[id]; ok {
			cp := *tt
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeTx) LockShowtime(ctx context.Context, id string) (*domain.Showtime, error) {
	s, ok := f.showtimes[id]
	if !ok {
		return nil, domain.ErrShowtimeNotFound
	}
	cp := *s
	cp.BookedSeats = append([]string(nil), s.BookedSeats...)
	return &cp, nil
}

func (f *fakeTx) LockDiscount(ctx context.Context, id string) (*domain.Discount, error) {
	f.discountLocks = append(f.discountLocks, id)
	d, ok := f.discounts[id]
	if !ok {
		return nil, domain.ErrDiscountNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *fakeTx) UpdateTicketTypeSold(ctx context.Context, id string, sold int) error {
	f.sold[id] = sold
	return nil
}

func (f *fakeTx) UpdateShowtimeSeats(ctx context.Context, id string, booked []string, available int) error {
	f.seats[id] = booked
	f.available[id] = available
	return nil
}

func (f *fakeTx) UpdateDiscountUses(ctx context.Context, id string, uses int) error {
	f.uses[id] = uses
	return nil
}

func intPtr(v int) *int { return &v }

func TestLock_TicketTypesSortedAndDeduped(t *testing.T) {
	tx := newFakeTx()
	tx.ticketTypes["tt-b"] = &domain.TicketType{ID: "tt-b", QuantityAvailable: 5}
	tx.ticketTypes["tt-a"] = &domain.TicketType{ID: "tt-a", QuantityAvailable: 5}

	l := New(tx)
	got, err := l.TicketTypes(context.Background(), []string{"tt-b", "tt-a", "tt-b"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	require.Len(t, tx.lockedIDs, 1)
	assert.Equal(t, []string{"tt-a", "tt-b"}, tx.lockedIDs[0])
}

func TestLock_TicketTypeMissing(t *testing.T) {
	tx := newFakeTx()
	l := New(tx)
	_, err := l.TicketTypes(context.Background(), []string{"nope"})
	assert.ErrorIs(t, err, domain.ErrTicketTypeNotFound)
}

func TestLock_OrderEnforced(t *testing.T) {
	tx := newFakeTx()
	tx.discounts["d1"] = &domain.Discount{ID: "d1", Active: true}
	tx.showtimes["s1"] = &domain.Showtime{ID: "s1"}

	l := New(tx)
	_, err := l.Discount(context.Background(), "d1")
	require.NoError(t, err)

	_, err = l.Showtime(context.Background(), "s1")
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)
}

func TestLock_DiscountsLockedInIDOrder(t *testing.T) {
	tx := newFakeTx()
	tx.discounts["pct"] = &domain.Discount{ID: "pct", Active: true}
	tx.discounts["fixed"] = &domain.Discount{ID: "fixed", Active: true}

	l := New(tx)
	held, err := l.Discounts(context.Background(), []string{"pct", "gone", "fixed", "pct"})
	require.NoError(t, err)

	assert.Equal(t, []string{"fixed", "gone", "pct"}, tx.discountLocks)
	assert.Len(t, held, 2)
	assert.NotContains(t, held, "gone")
}

func TestLock_DiscountStageCannotGrow(t *testing.T) {
	tx := newFakeTx()
	tx.discounts["d1"] = &domain.Discount{ID: "d1", Active: true}
	tx.discounts["d2"] = &domain.Discount{ID: "d2", Active: true}

	l := New(tx)
	_, err := l.Discounts(context.Background(), []string{"d2"})
	require.NoError(t, err)

	d, err := l.Discount(context.Background(), "d2")
	require.NoError(t, err)
	assert.Equal(t, "d2", d.ID)

	_, err = l.Discount(context.Background(), "d1")
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)
	assert.Equal(t, []string{"d2"}, tx.discountLocks)
}

func TestLock_SingleDiscountMissing(t *testing.T) {
	l := New(newFakeTx())
	_, err := l.Discount(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrDiscountNotFound)
}

func TestLock_ConsumeQuotaAllOrNothing(t *testing.T) {
	tx := newFakeTx()
	tx.ticketTypes["general"] = &domain.TicketType{ID: "general", QuantityAvailable: 10, QuantitySold: 8}
	tx.ticketTypes["vip"] = &domain.TicketType{ID: "vip", QuantityAvailable: 2, QuantitySold: 0}

	l := New(tx)
	types, err := l.TicketTypes(context.Background(), []string{"general", "vip"})
	require.NoError(t, err)

	err = l.ConsumeQuota(map[string]int{"general": 3, "vip": 1})
	var insufficient *domain.InsufficientInventoryError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, "general", insufficient.TicketTypeID)
	assert.Equal(t, 3, insufficient.Requested)
	assert.Equal(t, 2, insufficient.Remaining)
	assert.Equal(t, 0, types["vip"].QuantitySold)

	require.NoError(t, l.ConsumeQuota(map[string]int{"general": 2, "vip": 1}))
	require.NoError(t, l.Flush(context.Background()))
	assert.Equal(t, 10, tx.sold["general"])
	assert.Equal(t, 1, tx.sold["vip"])
}

func TestLock_ReleaseQuotaFloorsAtZero(t *testing.T) {
	tx := newFakeTx()
	tx.ticketTypes["general"] = &domain.TicketType{ID: "general", QuantityAvailable: 10, QuantitySold: 1}

	l := New(tx)
	_, err := l.TicketTypes(context.Background(), []string{"general"})
	require.NoError(t, err)
	require.NoError(t, l.ReleaseQuota(map[string]int{"general": 4}))
	require.NoError(t, l.Flush(context.Background()))
	assert.Equal(t, 0, tx.sold["general"])
}

func TestLock_QuotaWithoutLock(t *testing.T) {
	l := New(newFakeTx())
	err := l.ConsumeQuota(map[string]int{"general": 1})
	assert.ErrorIs(t, err, domain.ErrInvariantViolation)
}

func TestLock_BookAndReleaseSeats(t *testing.T) {
	tx := newFakeTx()
	tx.showtimes["s1"] = &domain.Showtime{ID: "s1", TotalSeats: 10, AvailableSeats: 8, BookedSeats: []string{"A1", "A2"}}

	l := New(tx)
	_, err := l.Showtime(context.Background(), "s1")
	require.NoError(t, err)

	err = l.BookSeats([]string{"A3", "A1"})
	var unavailable *domain.SeatUnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, []string{"A1"}, unavailable.Seats)

	require.NoError(t, l.BookSeats([]string{"A3", "A4"}))
	require.NoError(t, l.ReleaseSeats([]string{"A1", "B9"}))
	require.NoError(t, l.Flush(context.Background()))

	assert.ElementsMatch(t, []string{"A2", "A3", "A4"}, tx.seats["s1"])
	assert.Equal(t, 7, tx.available["s1"])
	assert.Equal(t, []string{"A1", "A2"}, tx.showtimes["s1"].BookedSeats)
}

func TestLock_DiscountUses(t *testing.T) {
	tx := newFakeTx()
	tx.discounts["d1"] = &domain.Discount{ID: "d1", Active: true, MaxUses: intPtr(1)}

	l := New(tx)
	_, err := l.Discount(context.Background(), "d1")
	require.NoError(t, err)

	require.NoError(t, l.ConsumeDiscountUse("d1"))
	assert.ErrorIs(t, l.ConsumeDiscountUse("d1"), domain.ErrInvariantViolation)

	require.NoError(t, l.ReleaseDiscountUse("d1"))
	require.NoError(t, l.ReleaseDiscountUse("d1"))
	require.NoError(t, l.Flush(context.Background()))
	assert.Equal(t, 0, tx.uses["d1"])
}

func TestLock_FlushSkipsUntouchedRows(t *testing.T) {
	tx := newFakeTx()
	tx.ticketTypes["general"] = &domain.TicketType{ID: "general", QuantityAvailable: 10}

	l := New(tx)
	_, err := l.TicketTypes(context.Background(), []string{"general"})
	require.NoError(t, err)
	require.NoError(t, l.Flush(context.Background()))
	assert.Empty(t, tx.sold)
}
