package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/prohmpiriya/reservation-engine/internal/clock"
	"github.com/prohmpiriya/reservation-engine/internal/domain"
	"github.com/prohmpiriya/reservation-engine/internal/metrics"
	"github.com/prohmpiriya/reservation-engine/internal/repository"
	"github.com/prohmpiriya/reservation-engine/pkg/logger"
)

// NotificationQueue accepts customer notifications for asynchronous delivery
type NotificationQueue interface {
	Enqueue(ctx context.Context, n *domain.Notification) error
}

// OutboxNotificationQueue writes notifications to the outbox table for the relay worker
type OutboxNotificationQueue struct {
	outbox     repository.OutboxRepository
	topic      string
	maxRetries int
}

// NewOutboxNotificationQueue creates a queue publishing to topic through the outbox
func NewOutboxNotificationQueue(outbox repository.OutboxRepository, topic string, maxRetries int) *OutboxNotificationQueue {
	if topic == "" {
		topic = "booking-notifications"
	}
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &OutboxNotificationQueue{outbox: outbox, topic: topic, maxRetries: maxRetries}
}

// Enqueue persists the notification as a pending outbox message
func (q *OutboxNotificationQueue) Enqueue(ctx context.Context, n *domain.Notification) error {
	msg, err := domain.NewNotificationOutboxMessage(uuid.New().String(), q.topic, n, q.maxRetries)
	if err != nil {
		return fmt.Errorf("failed to build outbox message: %w", err)
	}
	if err := q.outbox.Create(ctx, msg); err != nil {
		return fmt.Errorf("failed to enqueue notification: %w", err)
	}
	metrics.RecordNotificationEnqueued(ctx, string(n.Template))
	return nil
}

// notifier sends post-commit notifications; failures are logged, never returned
type notifier struct {
	queue NotificationQueue
	clock clock.Clock
	log   *logger.Logger
}

func (n notifier) send(ctx context.Context, template domain.NotificationTemplate, b *domain.Booking) {
	if n.queue == nil {
		return
	}
	if err := n.queue.Enqueue(ctx, domain.BookingNotification(template, b, n.clock.Now())); err != nil {
		n.log.Error("Failed to enqueue notification",
			"booking_id", b.ID,
			"template", template,
			"error", err,
		)
	}
}
