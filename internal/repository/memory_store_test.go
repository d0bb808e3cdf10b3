package repository

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
)

func seededStore() *MemoryStore {
	s := NewMemoryStore()
	s.AddEvent(domain.Event{ID: "evt-1", Name: "Concert", Status: domain.EventStatusPublished,
		StartsAt: time.Now().Add(72 * time.Hour), Currency: "USD"})
	s.AddTicketType(domain.TicketType{ID: "general", EventID: "evt-1", Name: "General", Price: 5000, QuantityAvailable: 10})
	s.AddShowtime(domain.Showtime{ID: "show-1", Title: "Movie", Active: true, BasePrice: 1200,
		StartsAt: time.Now().Add(24 * time.Hour), Layout: domain.ScreenLayout{Rows: 2, SeatsPerRow: 5}})
	return s
}

func testBooking(id, ref string) *domain.Booking {
	now := time.Now()
	return &domain.Booking{
		ID:            id,
		CustomerID:    "cust-1",
		Target:        domain.EventTarget("evt-1"),
		Reference:     ref,
		Subtotal:      10000,
		Fees:          300,
		Total:         10300,
		Currency:      "USD",
		PaymentStatus: domain.PaymentStatusPending,
		Status:        domain.BookingStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestMemoryStore_AddShowtimeDerivesCounters(t *testing.T) {
	s := seededStore()
	st, err := s.GetShowtime(context.Background(), "show-1")
	require.NoError(t, err)
	assert.Equal(t, 10, st.TotalSeats)
	assert.Equal(t, 10, st.AvailableSeats)
}

func TestMemoryStore_LockBlocksUntilCommit(t *testing.T) {
	s := seededStore()
	ctx := context.Background()

	tx1, err := s.Begin(ctx)
	require.NoError(t, err)
	_, err = tx1.LockTicketTypes(ctx, []string{"general"})
	require.NoError(t, err)

	acquired := make(chan int, 1)
	go func() {
		tx2, _ := s.Begin(ctx)
		defer tx2.Rollback(ctx)
		rows, err := tx2.LockTicketTypes(ctx, []string{"general"})
		if err != nil || len(rows) != 1 {
			acquired <- -1
			return
		}
		acquired <- rows[0].QuantitySold
	}()

	select {
	case <-acquired:
		t.Fatal("second transaction acquired a held lock")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, tx1.UpdateTicketTypeSold(ctx, "general", 4))
	require.NoError(t, tx1.Commit(ctx))

	select {
	case sold := <-acquired:
		assert.Equal(t, 4, sold, "waiter must observe the committed write")
	case <-time.After(time.Second):
		t.Fatal("lock was not released on commit")
	}
}

func TestMemoryStore_LockWaitHonorsContext(t *testing.T) {
	s := seededStore()
	ctx := context.Background()

	tx1, _ := s.Begin(ctx)
	defer tx1.Rollback(ctx)
	_, err := tx1.LockShowtime(ctx, "show-1")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	tx2, _ := s.Begin(ctx)
	defer tx2.Rollback(ctx)
	_, err = tx2.LockShowtime(waitCtx, "show-1")
	assert.ErrorIs(t, err, domain.ErrContention)
}

func TestMemoryStore_RollbackDiscardsWrites(t *testing.T) {
	s := seededStore()
	ctx := context.Background()

	tx, _ := s.Begin(ctx)
	_, err := tx.LockTicketTypes(ctx, []string{"general"})
	require.NoError(t, err)
	require.NoError(t, tx.UpdateTicketTypeSold(ctx, "general", 7))
	require.NoError(t, tx.InsertBooking(ctx, testBooking("b-1", "BK-AAAA0001")))
	require.NoError(t, tx.Rollback(ctx))
	require.NoError(t, tx.Rollback(ctx))

	types, _ := s.ListTicketTypes(ctx, "evt-1")
	assert.Equal(t, 0, types[0].QuantitySold)
	_, err = s.GetBooking(ctx, "b-1")
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)
}

func TestMemoryStore_WriteWithoutLock(t *testing.T) {
	s := seededStore()
	ctx := context.Background()
	tx, _ := s.Begin(ctx)
	defer tx.Rollback(ctx)

	assert.ErrorIs(t, tx.UpdateTicketTypeSold(ctx, "general", 1), domain.ErrInvariantViolation)
	assert.ErrorIs(t, tx.UpdateShowtimeSeats(ctx, "show-1", []string{"A1"}, 9), domain.ErrInvariantViolation)
	assert.ErrorIs(t, tx.UpdateBooking(ctx, testBooking("b-1", "BK-1")), domain.ErrInvariantViolation)
}

func TestMemoryStore_CounterGuards(t *testing.T) {
	s := seededStore()
	ctx := context.Background()
	tx, _ := s.Begin(ctx)
	defer tx.Rollback(ctx)

	_, err := tx.LockTicketTypes(ctx, []string{"general"})
	require.NoError(t, err)
	assert.ErrorIs(t, tx.UpdateTicketTypeSold(ctx, "general", 11), domain.ErrInvariantViolation)

	_, err = tx.LockShowtime(ctx, "show-1")
	require.NoError(t, err)
	assert.ErrorIs(t, tx.UpdateShowtimeSeats(ctx, "show-1", []string{"A1"}, 10), domain.ErrInvariantViolation)
}

func TestMemoryStore_DuplicateReferenceAbortsCommit(t *testing.T) {
	s := seededStore()
	ctx := context.Background()

	tx1, _ := s.Begin(ctx)
	require.NoError(t, tx1.InsertBooking(ctx, testBooking("b-1", "BK-SAME")))
	require.NoError(t, tx1.Commit(ctx))

	tx2, _ := s.Begin(ctx)
	_, err := tx2.LockTicketTypes(ctx, []string{"general"})
	require.NoError(t, err)
	require.NoError(t, tx2.UpdateTicketTypeSold(ctx, "general", 2))
	require.NoError(t, tx2.InsertBooking(ctx, testBooking("b-2", "BK-SAME")))
	assert.ErrorIs(t, tx2.Commit(ctx), domain.ErrDuplicateReference)

	types, _ := s.ListTicketTypes(ctx, "evt-1")
	assert.Equal(t, 0, types[0].QuantitySold)

	// locks were released by the failed commit
	tx3, _ := s.Begin(ctx)
	defer tx3.Rollback(ctx)
	lockCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = tx3.LockTicketTypes(lockCtx, []string{"general"})
	assert.NoError(t, err)
}

func TestMemoryStore_IdempotencyKeyLookup(t *testing.T) {
	s := seededStore()
	ctx := context.Background()

	b := testBooking("b-1", "BK-1")
	b.IdempotencyKey = "key-1"
	tx, _ := s.Begin(ctx)
	require.NoError(t, tx.InsertBooking(ctx, b))
	require.NoError(t, tx.Commit(ctx))

	got, err := s.GetBookingByIdempotencyKey(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, "b-1", got.ID)

	dup := testBooking("b-2", "BK-2")
	dup.IdempotencyKey = "key-1"
	tx2, _ := s.Begin(ctx)
	require.NoError(t, tx2.InsertBooking(ctx, dup))
	assert.ErrorIs(t, tx2.Commit(ctx), domain.ErrDuplicateIdempotencyKey)
}

func TestMemoryStore_TicketStatusUpdate(t *testing.T) {
	s := seededStore()
	ctx := context.Background()

	tx, _ := s.Begin(ctx)
	require.NoError(t, tx.InsertBooking(ctx, testBooking("b-1", "BK-1")))
	require.NoError(t, tx.InsertTickets(ctx, []*domain.TicketLine{
		{ID: "t-1", BookingID: "b-1", TicketTypeID: "general", Price: 5000, Status: domain.TicketStatusValid, TicketNumber: "TK-1"},
		{ID: "t-2", BookingID: "b-1", TicketTypeID: "general", Price: 5000, Status: domain.TicketStatusValid, TicketNumber: "TK-2"},
	}))
	exists, err := tx.TicketNumberExists(ctx, "TK-1")
	require.NoError(t, err)
	assert.True(t, exists)
	require.NoError(t, tx.Commit(ctx))

	tx2, _ := s.Begin(ctx)
	_, err = tx2.LockBooking(ctx, "b-1")
	require.NoError(t, err)
	n, err := tx2.UpdateTicketStatus(ctx, "b-1", domain.TicketStatusValid, domain.TicketStatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, tx2.Commit(ctx))

	tickets, _ := s.ListTickets(ctx, "b-1")
	for _, tl := range tickets {
		assert.Equal(t, domain.TicketStatusCancelled, tl.Status)
	}
}

func TestMemoryStore_LoadSeed(t *testing.T) {
	s := NewMemoryStore()
	seed := `{
		"events": [{"id": "evt-9", "name": "Gala", "status": "published", "starts_at": "2030-01-01T20:00:00Z", "currency": "USD"}],
		"ticket_types": [{"id": "vip", "event_id": "evt-9", "name": "VIP", "price": 15000, "quantity_available": 20}],
		"showtimes": [{"id": "show-9", "title": "Film", "active": true, "base_price": 1000, "starts_at": "2030-01-01T20:00:00Z",
			"layout": {"rows": 3, "seats_per_row": 4, "disabled_seats": ["A1"]}}],
		"discounts": [{"id": "d-9", "event_id": "evt-9", "code": "SAVE", "name": "Save", "type": "fixed", "amount": 500, "active": true}]
	}`
	require.NoError(t, s.LoadSeed(strings.NewReader(seed)))

	ctx := context.Background()
	e, err := s.GetEvent(ctx, "evt-9")
	require.NoError(t, err)
	assert.Equal(t, domain.EventStatusPublished, e.Status)

	st, err := s.GetShowtime(ctx, "show-9")
	require.NoError(t, err)
	assert.Equal(t, 11, st.TotalSeats)

	d, err := s.FindDiscountByCode(ctx, "evt-9", "SAVE")
	require.NoError(t, err)
	assert.Equal(t, domain.Money(500), d.Amount)

	_, err = s.FindDiscountByCode(ctx, "evt-9", "")
	assert.ErrorIs(t, err, domain.ErrDiscountNotFound)
}
