package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/reservation-engine/internal/clock"
	"github.com/prohmpiriya/reservation-engine/internal/domain"
	"github.com/prohmpiriya/reservation-engine/internal/gateway"
	"github.com/prohmpiriya/reservation-engine/internal/repository"
	"github.com/prohmpiriya/reservation-engine/pkg/logger"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store   *repository.MemoryStore
	outbox  *repository.MemoryOutboxRepository
	gateway *gateway.MockGateway
	clock   *clock.Frozen

	engine       ReservationEngine
	cancellation CancellationEngine
	status       StatusService
	payment      PaymentService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := repository.NewMemoryStore()
	store.AddEvent(domain.Event{
		ID: "evt-1", Name: "Concert", Status: domain.EventStatusPublished,
		StartsAt: testNow.Add(72 * time.Hour), Currency: "USD",
	})
	store.AddTicketType(domain.TicketType{ID: "general", EventID: "evt-1", Name: "General", Price: 5000, QuantityAvailable: 10})
	store.AddTicketType(domain.TicketType{ID: "vip", EventID: "evt-1", Name: "VIP", Price: 12000, QuantityAvailable: 5})
	store.AddShowtime(domain.Showtime{
		ID: "show-1", Title: "Movie", Active: true, BasePrice: 1000, Currency: "USD",
		StartsAt: testNow.Add(72 * time.Hour),
		Layout: domain.ScreenLayout{
			Rows: 3, SeatsPerRow: 5,
			DisabledSeats: []string{"C5"},
			RowPrices:     map[string]domain.Money{"A": 1500},
		},
	})

	outbox := repository.NewMemoryOutboxRepository()
	queue := NewOutboxNotificationQueue(outbox, "booking-notifications", 3)
	gw := gateway.NewMockGateway(&gateway.MockGatewayConfig{SuccessRate: 1})
	clk := clock.NewFrozen(testNow)
	log := logger.NewNop()

	return &fixture{
		store:   store,
		outbox:  outbox,
		gateway: gw,
		clock:   clk,
		engine: NewReservationEngine(store, nil, queue, &ReservationEngineConfig{
			FeePercent: 3, Clock: clk, Logger: log,
		}),
		cancellation: NewCancellationEngine(store, gw, nil, queue, &CancellationEngineConfig{
			Clock: clk, Logger: log,
		}),
		status:  NewStatusService(store, nil, queue, clk, log),
		payment: NewPaymentService(store, gw, clk, log),
	}
}

func (f *fixture) reserveGeneral(t *testing.T, qty int) *ReserveResult {
	t.Helper()
	res, err := f.engine.Reserve(context.Background(), &ReserveRequest{
		CustomerID: "cust-1",
		Kind:       domain.BookingKindEvent,
		TargetID:   "evt-1",
		Selections: []Selection{{TicketTypeID: "general", Quantity: qty}},
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) reserveSeats(t *testing.T, seats ...string) *ReserveResult {
	t.Helper()
	res, err := f.engine.Reserve(context.Background(), &ReserveRequest{
		CustomerID: "cust-1",
		Kind:       domain.BookingKindMovie,
		TargetID:   "show-1",
		Seats:      seats,
	})
	require.NoError(t, err)
	return res
}

// markPaid moves a booking's payment to completed with a charge reference
func (f *fixture) markPaid(t *testing.T, bookingID string) {
	t.Helper()
	_, err := f.status.ApplyPaymentStatus(context.Background(), bookingID, domain.PaymentStatusCompleted, "pi_test_"+bookingID)
	require.NoError(t, err)
}

func (f *fixture) ticketType(t *testing.T, id string) *domain.TicketType {
	t.Helper()
	types, err := f.store.ListTicketTypes(context.Background(), "evt-1")
	require.NoError(t, err)
	for _, tt := range types {
		if tt.ID == id {
			return tt
		}
	}
	t.Fatalf("ticket type %s not found", id)
	return nil
}

func (f *fixture) showtime(t *testing.T) *domain.Showtime {
	t.Helper()
	st, err := f.store.GetShowtime(context.Background(), "show-1")
	require.NoError(t, err)
	return st
}

func (f *fixture) templates() []string {
	var out []string
	for _, m := range f.outbox.All() {
		out = append(out, m.EventType)
	}
	return out
}

func intPtr(v int) *int { return &v }
