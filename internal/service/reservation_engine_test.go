package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
	"github.com/prohmpiriya/reservation-engine/internal/repository"
	"github.com/prohmpiriya/reservation-engine/pkg/logger"
)

func TestReserve_EventBooking(t *testing.T) {
	f := newFixture(t)

	res := f.reserveGeneral(t, 2)

	b := res.Booking
	assert.False(t, res.Replayed)
	assert.Equal(t, domain.BookingStatusPending, b.Status)
	assert.Equal(t, domain.PaymentStatusPending, b.PaymentStatus)
	assert.Equal(t, domain.Money(10000), b.Subtotal)
	assert.Equal(t, domain.Money(0), b.DiscountAmount)
	assert.Equal(t, domain.Money(300), b.Fees)
	assert.Equal(t, domain.Money(10300), b.Total)
	assert.Equal(t, "USD", b.Currency)
	assert.True(t, strings.HasPrefix(b.Reference, "BK-"))
	assert.Len(t, b.Reference, len("BK-")+8)

	require.Len(t, res.Tickets, 2)
	for _, tl := range res.Tickets {
		assert.Equal(t, "general", tl.TicketTypeID)
		assert.Empty(t, tl.SeatID)
		assert.Equal(t, domain.Money(5000), tl.Price)
		assert.Equal(t, domain.TicketStatusValid, tl.Status)
		assert.True(t, strings.HasPrefix(tl.TicketNumber, "TK-"))
	}
	assert.NotEqual(t, res.Tickets[0].TicketNumber, res.Tickets[1].TicketNumber)

	assert.Equal(t, 2, f.ticketType(t, "general").QuantitySold)
	stored, err := f.store.GetBooking(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.Reference, stored.Reference)
	assert.Equal(t, []string{string(domain.TemplateBookingConfirmation)}, f.templates())
}

func TestReserve_MovieBookingUsesSeatTiers(t *testing.T) {
	f := newFixture(t)

	res := f.reserveSeats(t, "A1", "B1")

	assert.Equal(t, domain.Money(2500), res.Booking.Subtotal)
	assert.Equal(t, domain.Money(75), res.Booking.Fees)
	assert.Equal(t, domain.Money(2575), res.Booking.Total)
	require.Len(t, res.Tickets, 2)
	assert.Equal(t, "A1", res.Tickets[0].SeatID)
	assert.Equal(t, domain.Money(1500), res.Tickets[0].Price)
	assert.Equal(t, "B1", res.Tickets[1].SeatID)
	assert.Equal(t, domain.Money(1000), res.Tickets[1].Price)

	st := f.showtime(t)
	assert.ElementsMatch(t, []string{"A1", "B1"}, st.BookedSeats)
	assert.Equal(t, 14, st.TotalSeats)
	assert.Equal(t, 12, st.AvailableSeats)
}

func TestReserve_ValidationErrors(t *testing.T) {
	manySeats := make([]string, DefaultMaxTickets+1)
	for i := range manySeats {
		manySeats[i] = fmt.Sprintf("%c%d", 'A'+i/5, i%5+1)
	}

	tests := []struct {
		name string
		req  *ReserveRequest
	}{
		{"missing customer", &ReserveRequest{Kind: domain.BookingKindEvent, TargetID: "evt-1",
			Selections: []Selection{{TicketTypeID: "general", Quantity: 1}}}},
		{"unknown kind", &ReserveRequest{CustomerID: "c", Kind: "concert", TargetID: "evt-1"}},
		{"missing target", &ReserveRequest{CustomerID: "c", Kind: domain.BookingKindEvent,
			Selections: []Selection{{TicketTypeID: "general", Quantity: 1}}}},
		{"event without selections", &ReserveRequest{CustomerID: "c", Kind: domain.BookingKindEvent, TargetID: "evt-1"}},
		{"event with seats", &ReserveRequest{CustomerID: "c", Kind: domain.BookingKindEvent, TargetID: "evt-1",
			Selections: []Selection{{TicketTypeID: "general", Quantity: 1}}, Seats: []string{"A1"}}},
		{"zero quantity", &ReserveRequest{CustomerID: "c", Kind: domain.BookingKindEvent, TargetID: "evt-1",
			Selections: []Selection{{TicketTypeID: "general", Quantity: 0}}}},
		{"duplicate ticket type", &ReserveRequest{CustomerID: "c", Kind: domain.BookingKindEvent, TargetID: "evt-1",
			Selections: []Selection{{TicketTypeID: "general", Quantity: 1}, {TicketTypeID: "general", Quantity: 2}}}},
		{"movie without seats", &ReserveRequest{CustomerID: "c", Kind: domain.BookingKindMovie, TargetID: "show-1"}},
		{"movie with promo code", &ReserveRequest{CustomerID: "c", Kind: domain.BookingKindMovie, TargetID: "show-1",
			Seats: []string{"A1"}, PromoCode: "SAVE"}},
		{"duplicate seats", &ReserveRequest{CustomerID: "c", Kind: domain.BookingKindMovie, TargetID: "show-1",
			Seats: []string{"A1", "A1"}}},
		{"too many tickets", &ReserveRequest{CustomerID: "c", Kind: domain.BookingKindEvent, TargetID: "evt-1",
			Selections: []Selection{{TicketTypeID: "general", Quantity: 15}, {TicketTypeID: "vip", Quantity: DefaultMaxTickets - 14}}}},
		{"too many seats", &ReserveRequest{CustomerID: "c", Kind: domain.BookingKindMovie, TargetID: "show-1",
			Seats: manySeats}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.engine.Reserve(context.Background(), tt.req)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrValidation)
			assert.True(t, domain.IsPrecondition(err))
		})
	}
}

func TestReserve_InvalidSeatsFailBeforeLocking(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Reserve(context.Background(), &ReserveRequest{
		CustomerID: "cust-1",
		Kind:       domain.BookingKindMovie,
		TargetID:   "show-1",
		Seats:      []string{"A1", "D1", "A6", "C5", "a2"},
	})

	var seatErr *domain.InvalidSeatError
	require.ErrorAs(t, err, &seatErr)
	assert.Equal(t, []string{"D1", "A6", "C5", "a2"}, seatErr.Seats)
	assert.Empty(t, f.showtime(t).BookedSeats)
}

func TestReserve_NotBookable(t *testing.T) {
	t.Run("draft event", func(t *testing.T) {
		f := newFixture(t)
		f.store.AddEvent(domain.Event{ID: "evt-1", Status: domain.EventStatusDraft, StartsAt: testNow.Add(72 * time.Hour)})
		_, err := f.engine.Reserve(context.Background(), &ReserveRequest{
			CustomerID: "c", Kind: domain.BookingKindEvent, TargetID: "evt-1",
			Selections: []Selection{{TicketTypeID: "general", Quantity: 1}},
		})
		assert.ErrorIs(t, err, domain.ErrNotBookable)
	})

	t.Run("event already started", func(t *testing.T) {
		f := newFixture(t)
		f.clock.Advance(73 * time.Hour)
		_, err := f.engine.Reserve(context.Background(), &ReserveRequest{
			CustomerID: "c", Kind: domain.BookingKindEvent, TargetID: "evt-1",
			Selections: []Selection{{TicketTypeID: "general", Quantity: 1}},
		})
		assert.ErrorIs(t, err, domain.ErrNotBookable)
	})

	t.Run("inactive showtime", func(t *testing.T) {
		f := newFixture(t)
		st := f.showtime(t)
		st.Active = false
		f.store.AddShowtime(*st)
		_, err := f.engine.Reserve(context.Background(), &ReserveRequest{
			CustomerID: "c", Kind: domain.BookingKindMovie, TargetID: "show-1", Seats: []string{"A1"},
		})
		assert.ErrorIs(t, err, domain.ErrNotBookable)
	})
}

func TestReserve_UnknownTargets(t *testing.T) {
	f := newFixture(t)
	f.store.AddEvent(domain.Event{ID: "evt-2", Status: domain.EventStatusPublished, StartsAt: testNow.Add(time.Hour)})
	f.store.AddTicketType(domain.TicketType{ID: "other", EventID: "evt-2", Price: 100, QuantityAvailable: 5})
	ctx := context.Background()

	_, err := f.engine.Reserve(ctx, &ReserveRequest{
		CustomerID: "c", Kind: domain.BookingKindEvent, TargetID: "missing",
		Selections: []Selection{{TicketTypeID: "general", Quantity: 1}},
	})
	assert.ErrorIs(t, err, domain.ErrEventNotFound)

	_, err = f.engine.Reserve(ctx, &ReserveRequest{
		CustomerID: "c", Kind: domain.BookingKindEvent, TargetID: "evt-1",
		Selections: []Selection{{TicketTypeID: "nope", Quantity: 1}},
	})
	assert.ErrorIs(t, err, domain.ErrTicketTypeNotFound)

	_, err = f.engine.Reserve(ctx, &ReserveRequest{
		CustomerID: "c", Kind: domain.BookingKindEvent, TargetID: "evt-1",
		Selections: []Selection{{TicketTypeID: "other", Quantity: 1}},
	})
	assert.ErrorIs(t, err, domain.ErrTicketTypeNotFound)
	assert.Equal(t, 0, f.ticketType(t, "general").QuantitySold)
}

func TestReserve_InsufficientInventory(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Reserve(context.Background(), &ReserveRequest{
		CustomerID: "c", Kind: domain.BookingKindEvent, TargetID: "evt-1",
		Selections: []Selection{{TicketTypeID: "general", Quantity: 2}, {TicketTypeID: "vip", Quantity: 6}},
	})

	var invErr *domain.InsufficientInventoryError
	require.ErrorAs(t, err, &invErr)
	assert.Equal(t, "vip", invErr.TicketTypeID)
	assert.Equal(t, 5, invErr.Remaining)
	assert.True(t, domain.IsContention(err))
	// all or nothing
	assert.Equal(t, 0, f.ticketType(t, "general").QuantitySold)
	assert.Equal(t, 0, f.ticketType(t, "vip").QuantitySold)
}

func TestReserve_LastTwoTicketsRace(t *testing.T) {
	f := newFixture(t)
	f.store.AddTicketType(domain.TicketType{ID: "general", EventID: "evt-1", Name: "General",
		Price: 5000, QuantityAvailable: 10, QuantitySold: 8})

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes []*ReserveResult
		failures  []error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.engine.Reserve(context.Background(), &ReserveRequest{
				CustomerID: fmt.Sprintf("cust-%d", i), Kind: domain.BookingKindEvent, TargetID: "evt-1",
				Selections: []Selection{{TicketTypeID: "general", Quantity: 2}},
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			successes = append(successes, res)
		}(i)
	}
	wg.Wait()

	require.Len(t, successes, 1)
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], domain.ErrInsufficientInventory)
	assert.Len(t, successes[0].Tickets, 2)
	assert.Equal(t, 10, f.ticketType(t, "general").QuantitySold)
}

func TestReserve_NoOversellUnderConcurrency(t *testing.T) {
	f := newFixture(t)

	const attempts = 30
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		tickets int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.engine.Reserve(context.Background(), &ReserveRequest{
				CustomerID: fmt.Sprintf("cust-%d", i), Kind: domain.BookingKindEvent, TargetID: "evt-1",
				Selections: []Selection{{TicketTypeID: "general", Quantity: 1}},
			})
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrInsufficientInventory)
				return
			}
			mu.Lock()
			tickets += len(res.Tickets)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	sold := f.ticketType(t, "general").QuantitySold
	assert.Equal(t, 10, sold)
	assert.Equal(t, sold, tickets)
}

func TestReserve_SeatConflict(t *testing.T) {
	f := newFixture(t)
	f.reserveSeats(t, "A1", "A2")

	_, err := f.engine.Reserve(context.Background(), &ReserveRequest{
		CustomerID: "cust-2", Kind: domain.BookingKindMovie, TargetID: "show-1", Seats: []string{"A1", "A3"},
	})

	var seatErr *domain.SeatUnavailableError
	require.ErrorAs(t, err, &seatErr)
	assert.Equal(t, []string{"A1"}, seatErr.Seats)
	st := f.showtime(t)
	assert.ElementsMatch(t, []string{"A1", "A2"}, st.BookedSeats)
	assert.Equal(t, 12, st.AvailableSeats)
}

func TestReserve_NoDoubleSeatUnderConcurrency(t *testing.T) {
	f := newFixture(t)

	const attempts = 10
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		winners  int
		conflict int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.engine.Reserve(context.Background(), &ReserveRequest{
				CustomerID: fmt.Sprintf("cust-%d", i), Kind: domain.BookingKindMovie, TargetID: "show-1",
				Seats: []string{"B2", "B3"},
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				winners++
			} else if errors.Is(err, domain.ErrSeatUnavailable) {
				conflict++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	assert.Equal(t, attempts-1, conflict)
	assert.ElementsMatch(t, []string{"B2", "B3"}, f.showtime(t).BookedSeats)
}

func TestReserve_PicksLargestDiscount(t *testing.T) {
	f := newFixture(t)
	f.store.AddDiscount(domain.Discount{ID: "early", EventID: "evt-1", Name: "Early bird",
		Type: domain.DiscountTypePercentage, Percent: 10, Active: true})
	f.store.AddDiscount(domain.Discount{ID: "promo", EventID: "evt-1", Code: "SAVE15", Name: "Promo",
		Type: domain.DiscountTypeFixed, Amount: 1500, Active: true})

	res, err := f.engine.Reserve(context.Background(), &ReserveRequest{
		CustomerID: "c", Kind: domain.BookingKindEvent, TargetID: "evt-1",
		Selections: []Selection{{TicketTypeID: "general", Quantity: 2}},
		PromoCode:  "SAVE15",
	})
	require.NoError(t, err)

	assert.Equal(t, "promo", res.Booking.DiscountID)
	assert.Equal(t, domain.Money(1500), res.Booking.DiscountAmount)
	assert.Equal(t, domain.Money(8800), res.Booking.Total)

	promo, err := f.store.GetDiscount("promo")
	require.NoError(t, err)
	assert.Equal(t, 1, promo.CurrentUses)
	early, err := f.store.GetDiscount("early")
	require.NoError(t, err)
	assert.Equal(t, 0, early.CurrentUses)
}

func TestReserve_TieGoesToCategoryDiscount(t *testing.T) {
	f := newFixture(t)
	f.store.AddDiscount(domain.Discount{ID: "members", EventID: "evt-1", Name: "Members",
		Type: domain.DiscountTypeFixed, Amount: 1000, Active: true})
	f.store.AddDiscount(domain.Discount{ID: "promo", EventID: "evt-1", Code: "TENOFF",
		Type: domain.DiscountTypeFixed, Amount: 1000, Active: true})

	res, err := f.engine.Reserve(context.Background(), &ReserveRequest{
		CustomerID: "c", Kind: domain.BookingKindEvent, TargetID: "evt-1",
		Selections: []Selection{{TicketTypeID: "general", Quantity: 2}},
		PromoCode:  "TENOFF",
	})
	require.NoError(t, err)
	assert.Equal(t, "members", res.Booking.DiscountID)
}

func TestReserve_UnknownPromoCode(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Reserve(context.Background(), &ReserveRequest{
		CustomerID: "c", Kind: domain.BookingKindEvent, TargetID: "evt-1",
		Selections: []Selection{{TicketTypeID: "general", Quantity: 1}},
		PromoCode:  "NOPE",
	})

	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "promo_code", vErr.Field)
}

func TestReserve_DiscountCapHoldsUnderRace(t *testing.T) {
	f := newFixture(t)
	f.store.AddDiscount(domain.Discount{ID: "last-one", EventID: "evt-1", Name: "Last one",
		Type: domain.DiscountTypePercentage, Percent: 20, Active: true, MaxUses: intPtr(1)})

	const attempts = 5
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		discounted int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.engine.Reserve(context.Background(), &ReserveRequest{
				CustomerID: fmt.Sprintf("cust-%d", i), Kind: domain.BookingKindEvent, TargetID: "evt-1",
				Selections: []Selection{{TicketTypeID: "general", Quantity: 1}},
			})
			if !assert.NoError(t, err) {
				return
			}
			if res.Booking.HasDiscount() {
				mu.Lock()
				discounted++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, discounted)
	d, err := f.store.GetDiscount("last-one")
	require.NoError(t, err)
	assert.Equal(t, 1, d.CurrentUses)
	assert.Equal(t, attempts, f.ticketType(t, "general").QuantitySold)
}

// racingStore exhausts a promo between the unlocked lookup and the lock
type racingStore struct {
	*repository.MemoryStore
	exhaust func()
}

func (s *racingStore) FindDiscountByCode(ctx context.Context, eventID, code string) (*domain.Discount, error) {
	d, err := s.MemoryStore.FindDiscountByCode(ctx, eventID, code)
	if err == nil && s.exhaust != nil {
		s.exhaust()
	}
	return d, err
}

func TestReserve_SilentDowngradeWhenDiscountExhaustedUnderLock(t *testing.T) {
	f := newFixture(t)
	f.store.AddDiscount(domain.Discount{ID: "fans", EventID: "evt-1", Name: "Fans",
		Type: domain.DiscountTypePercentage, Percent: 5, Active: true})
	promo := domain.Discount{ID: "flash", EventID: "evt-1", Code: "FLASH", Name: "Flash sale",
		Type: domain.DiscountTypePercentage, Percent: 50, Active: true, MaxUses: intPtr(3), CurrentUses: 2}
	f.store.AddDiscount(promo)

	store := &racingStore{MemoryStore: f.store, exhaust: func() {
		used := promo
		used.CurrentUses = 3
		f.store.AddDiscount(used)
	}}
	engine := NewReservationEngine(store, nil, nil, &ReservationEngineConfig{
		FeePercent: 3, Clock: f.clock, Logger: logger.NewNop(),
	})

	res, err := engine.Reserve(context.Background(), &ReserveRequest{
		CustomerID: "c", Kind: domain.BookingKindEvent, TargetID: "evt-1",
		Selections: []Selection{{TicketTypeID: "general", Quantity: 2}},
		PromoCode:  "FLASH",
	})
	require.NoError(t, err)

	assert.Equal(t, "fans", res.Booking.DiscountID)
	assert.Equal(t, domain.Money(500), res.Booking.DiscountAmount)
	assert.Equal(t, domain.Money(9800), res.Booking.Total)
	flash, err := f.store.GetDiscount("flash")
	require.NoError(t, err)
	assert.Equal(t, 3, flash.CurrentUses)
}

// staleDiscountStore serves an outdated category discount list inside every
// transaction and holds each transaction at its first discount lock until a
// second transaction also holds one, or a short wait runs out
type staleDiscountStore struct {
	*repository.MemoryStore
	stale []domain.Discount

	mu      sync.Mutex
	arrived int
	both    chan struct{}
	orders  [][]string
}

func (s *staleDiscountStore) Begin(ctx context.Context) (repository.Tx, error) {
	tx, err := s.MemoryStore.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &staleDiscountTx{Tx: tx, store: s}, nil
}

func (s *staleDiscountStore) arrive() {
	s.mu.Lock()
	s.arrived++
	if s.arrived == 2 {
		close(s.both)
	}
	s.mu.Unlock()

	select {
	case <-s.both:
	case <-time.After(200 * time.Millisecond):
	}
}

type staleDiscountTx struct {
	repository.Tx
	store  *staleDiscountStore
	locked []string
}

func (t *staleDiscountTx) ListCategoryDiscounts(ctx context.Context, eventID string) ([]*domain.Discount, error) {
	out := make([]*domain.Discount, 0, len(t.store.stale))
	for _, d := range t.store.stale {
		cp := d
		out = append(out, &cp)
	}
	return out, nil
}

func (t *staleDiscountTx) LockDiscount(ctx context.Context, id string) (*domain.Discount, error) {
	d, err := t.Tx.LockDiscount(ctx, id)
	if err != nil {
		return nil, err
	}
	t.locked = append(t.locked, id)
	if len(t.locked) == 1 {
		t.store.arrive()
	}
	return d, nil
}

func (t *staleDiscountTx) Commit(ctx context.Context) error {
	if len(t.locked) > 0 {
		t.store.mu.Lock()
		t.store.orders = append(t.store.orders, t.locked)
		t.store.mu.Unlock()
	}
	return t.Tx.Commit(ctx)
}

func TestReserve_DiscountLocksNeverCycle(t *testing.T) {
	f := newFixture(t)
	fixed := domain.Discount{ID: "fixed", EventID: "evt-1", Name: "Flat",
		Type: domain.DiscountTypeFixed, Amount: 3000, Active: true, MaxUses: intPtr(1)}
	pct := domain.Discount{ID: "pct", EventID: "evt-1", Name: "Half off",
		Type: domain.DiscountTypePercentage, Percent: 50, Active: true, MaxUses: intPtr(1)}
	store := &staleDiscountStore{MemoryStore: f.store, stale: []domain.Discount{pct, fixed}, both: make(chan struct{})}

	fixed.CurrentUses, pct.CurrentUses = 1, 1
	f.store.AddDiscount(fixed)
	f.store.AddDiscount(pct)

	engine := NewReservationEngine(store, nil, nil, &ReservationEngineConfig{
		FeePercent: 3, Clock: f.clock, Logger: logger.NewNop(),
	})

	// vip x5 prefers the percentage discount, general x1 the fixed one
	selections := [][]Selection{
		{{TicketTypeID: "vip", Quantity: 5}},
		{{TicketTypeID: "general", Quantity: 1}},
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	results := make([]*ReserveResult, len(selections))
	errs := make([]error, len(selections))
	for i, sel := range selections {
		wg.Add(1)
		go func(i int, sel []Selection) {
			defer wg.Done()
			results[i], errs[i] = engine.Reserve(ctx, &ReserveRequest{
				CustomerID: fmt.Sprintf("cust-%d", i), Kind: domain.BookingKindEvent, TargetID: "evt-1",
				Selections: sel,
			})
		}(i, sel)
	}
	wg.Wait()

	for i := range selections {
		require.NoError(t, errs[i])
		assert.False(t, results[i].Booking.HasDiscount())
	}
	require.Len(t, store.orders, 2)
	for _, order := range store.orders {
		assert.Equal(t, []string{"fixed", "pct"}, order)
	}
}

func TestReserve_IdempotencyKeyReplays(t *testing.T) {
	f := newFixture(t)
	req := &ReserveRequest{
		CustomerID: "cust-1", Kind: domain.BookingKindEvent, TargetID: "evt-1",
		Selections:     []Selection{{TicketTypeID: "general", Quantity: 2}},
		IdempotencyKey: "key-1",
	}

	first, err := f.engine.Reserve(context.Background(), req)
	require.NoError(t, err)
	second, err := f.engine.Reserve(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Booking.ID, second.Booking.ID)
	assert.Len(t, second.Tickets, 2)
	assert.Equal(t, 2, f.ticketType(t, "general").QuantitySold)

	other := *req
	other.CustomerID = "cust-2"
	_, err = f.engine.Reserve(context.Background(), &other)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestReserve_ConcurrentDuplicatesShareOneBooking(t *testing.T) {
	f := newFixture(t)

	const attempts = 5
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		ids = make(map[string]struct{})
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.engine.Reserve(context.Background(), &ReserveRequest{
				CustomerID: "cust-1", Kind: domain.BookingKindEvent, TargetID: "evt-1",
				Selections:     []Selection{{TicketTypeID: "general", Quantity: 2}},
				IdempotencyKey: "same-key",
			})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			ids[res.Booking.ID] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, ids, 1)
	assert.Equal(t, 2, f.ticketType(t, "general").QuantitySold)
}

// scriptedCodes replays fixed references, then falls back to a counter
type scriptedCodes struct {
	mu         sync.Mutex
	references []string
	tickets    int
}

func (s *scriptedCodes) Reference() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.references) == 0 {
		return "", errors.New("no more references")
	}
	ref := s.references[0]
	if len(s.references) > 1 {
		s.references = s.references[1:]
	}
	return ref, nil
}

func (s *scriptedCodes) TicketNumber() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets++
	return fmt.Sprintf("TK-%010d", s.tickets), nil
}

func TestReserve_RegeneratesCollidingReference(t *testing.T) {
	f := newFixture(t)
	codes := &scriptedCodes{references: []string{"BK-AAAAAAAA", "BK-AAAAAAAA", "BK-BBBBBBBB"}}
	engine := NewReservationEngine(f.store, nil, nil, &ReservationEngineConfig{
		FeePercent: 3, Clock: f.clock, Codes: codes, Logger: logger.NewNop(),
	})
	req := &ReserveRequest{
		CustomerID: "c", Kind: domain.BookingKindEvent, TargetID: "evt-1",
		Selections: []Selection{{TicketTypeID: "general", Quantity: 1}},
	}

	first, err := engine.Reserve(context.Background(), req)
	require.NoError(t, err)
	second, err := engine.Reserve(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "BK-AAAAAAAA", first.Booking.Reference)
	assert.Equal(t, "BK-BBBBBBBB", second.Booking.Reference)
}

func TestReserve_GivesUpAfterRepeatedCollisions(t *testing.T) {
	f := newFixture(t)
	codes := &scriptedCodes{references: []string{"BK-SAMESAME"}}
	engine := NewReservationEngine(f.store, nil, nil, &ReservationEngineConfig{
		FeePercent: 3, Clock: f.clock, Codes: codes, Logger: logger.NewNop(),
	})
	req := &ReserveRequest{
		CustomerID: "c", Kind: domain.BookingKindEvent, TargetID: "evt-1",
		Selections: []Selection{{TicketTypeID: "general", Quantity: 1}},
	}

	_, err := engine.Reserve(context.Background(), req)
	require.NoError(t, err)
	_, err = engine.Reserve(context.Background(), req)
	require.Error(t, err)

	assert.Contains(t, err.Error(), "unique")
	assert.Equal(t, 1, f.ticketType(t, "general").QuantitySold)
}
