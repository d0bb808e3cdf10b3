package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
	"github.com/prohmpiriya/reservation-engine/internal/repository"
)

func TestOutboxNotificationQueue_Enqueue(t *testing.T) {
	outbox := repository.NewMemoryOutboxRepository()
	q := NewOutboxNotificationQueue(outbox, "", 0)
	b := &domain.Booking{ID: "b-1", CustomerID: "cust-1", Reference: "BK-ABCDEFGH",
		Target: domain.EventTarget("evt-1"), Total: 10300, Currency: "USD"}

	err := q.Enqueue(context.Background(), domain.BookingNotification(domain.TemplateBookingConfirmation, b, testNow))
	require.NoError(t, err)

	msgs := outbox.All()
	require.Len(t, msgs, 1)
	m := msgs[0]
	assert.Equal(t, "booking-notifications", m.Topic)
	assert.Equal(t, "cust-1", m.PartitionKey)
	assert.Equal(t, "b-1", m.AggregateID)
	assert.Equal(t, string(domain.TemplateBookingConfirmation), m.EventType)
	assert.Equal(t, domain.OutboxStatusPending, m.Status)
	assert.Equal(t, 5, m.MaxRetries)

	var n domain.Notification
	require.NoError(t, json.Unmarshal(m.Payload, &n))
	assert.Equal(t, "BK-ABCDEFGH", n.Context["reference"])
	assert.Equal(t, "103.00", n.Context["total"])
}

type failingQueue struct{}

func (failingQueue) Enqueue(context.Context, *domain.Notification) error {
	return assert.AnError
}

func TestReserve_NotificationFailureDoesNotRollBack(t *testing.T) {
	f := newFixture(t)
	engine := NewReservationEngine(f.store, nil, failingQueue{}, &ReservationEngineConfig{FeePercent: 3, Clock: f.clock})

	res, err := engine.Reserve(context.Background(), &ReserveRequest{
		CustomerID: "c", Kind: domain.BookingKindEvent, TargetID: "evt-1",
		Selections: []Selection{{TicketTypeID: "general", Quantity: 1}},
	})
	require.NoError(t, err)

	_, err = f.store.GetBooking(context.Background(), res.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, f.ticketType(t, "general").QuantitySold)
}
