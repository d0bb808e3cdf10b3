package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/prohmpiriya/reservation-engine/internal/clock"
	"github.com/prohmpiriya/reservation-engine/internal/domain"
	"github.com/prohmpiriya/reservation-engine/internal/metrics"
	"github.com/prohmpiriya/reservation-engine/internal/repository"
	"github.com/prohmpiriya/reservation-engine/pkg/kafka"
	"github.com/prohmpiriya/reservation-engine/pkg/logger"
	"github.com/prohmpiriya/reservation-engine/pkg/retry"
)

// Producer is the Kafka producer subset the worker publishes through
type Producer interface {
	Produce(ctx context.Context, msg *kafka.Message) error
}

// NotificationWorkerConfig contains configuration for the notification worker
type NotificationWorkerConfig struct {
	// PollInterval is the interval between polling for pending messages
	PollInterval time.Duration
	// BatchSize is the number of messages to claim in each poll
	BatchSize int
	// RetryInterval replaces PollInterval after a batch with publish failures
	RetryInterval time.Duration
	// CleanupInterval is the interval between cleanup of old published messages
	CleanupInterval time.Duration
	// CleanupRetentionDays is the number of days to retain published messages
	CleanupRetentionDays int
}

// DefaultNotificationWorkerConfig returns default configuration
func DefaultNotificationWorkerConfig() *NotificationWorkerConfig {
	return &NotificationWorkerConfig{
		PollInterval:         500 * time.Millisecond,
		BatchSize:            100,
		RetryInterval:        5 * time.Second,
		CleanupInterval:      time.Hour,
		CleanupRetentionDays: 7,
	}
}

// NotificationWorker relays notification outbox rows to Kafka
type NotificationWorker struct {
	outbox   repository.OutboxRepository
	producer Producer
	dlq      retry.DLQPublisher
	clock    clock.Clock
	config   *NotificationWorkerConfig
	log      *logger.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewNotificationWorker creates a new notification worker. A nil dlq drops dead messages.
func NewNotificationWorker(
	outbox repository.OutboxRepository,
	producer Producer,
	dlq retry.DLQPublisher,
	config *NotificationWorkerConfig,
) *NotificationWorker {
	defaults := DefaultNotificationWorkerConfig()
	if config == nil {
		config = defaults
	}
	cfg := *config
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaults.RetryInterval
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = defaults.CleanupInterval
	}
	if cfg.CleanupRetentionDays <= 0 {
		cfg.CleanupRetentionDays = defaults.CleanupRetentionDays
	}
	if dlq == nil {
		dlq = retry.NoOpDLQPublisher{}
	}

	return &NotificationWorker{
		outbox:   outbox,
		producer: producer,
		dlq:      dlq,
		clock:    clock.Real{},
		config:   &cfg,
		log:      logger.Get(),
		stopCh:   make(chan struct{}),
	}
}

// WithClock replaces the clock used for timestamps and retention
func (w *NotificationWorker) WithClock(clk clock.Clock) *NotificationWorker {
	w.clock = clk
	return w
}

// WithLogger replaces the worker logger
func (w *NotificationWorker) WithLogger(log *logger.Logger) *NotificationWorker {
	w.log = log
	return w
}

// Start starts the relay and cleanup loops
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("notification worker already running")
	}
	w.running = true
	w.mu.Unlock()

	w.log.Info("Starting notification worker",
		"poll_interval", w.config.PollInterval,
		"batch_size", w.config.BatchSize,
	)

	w.wg.Add(2)
	go w.pollLoop(ctx)
	go w.cleanupLoop(ctx)
	return nil
}

// Stop stops the worker and waits for the loops to exit
func (w *NotificationWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.log.Info("Stopping notification worker")
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("Notification worker stopped")
}

func (w *NotificationWorker) pollLoop(ctx context.Context) {
	defer w.wg.Done()

	wait := w.config.PollInterval
	for {
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-w.stopCh:
			timer.Stop()
			return
		case <-timer.C:
		}

		wait = w.config.PollInterval
		if _, failed := w.ProcessBatch(ctx); failed > 0 {
			wait = w.config.RetryInterval
		}
	}
}

// ProcessBatch claims one batch and publishes it, returning how many
// messages were published and how many failed.
func (w *NotificationWorker) ProcessBatch(ctx context.Context) (published, failed int) {
	messages, err := w.outbox.ClaimPending(ctx, w.config.BatchSize)
	if err != nil {
		w.log.Error("Failed to claim outbox messages", "error", err)
		return 0, 0
	}

	for _, msg := range messages {
		if err := w.publish(ctx, msg); err != nil {
			failed++
			w.fail(ctx, msg, err)
			continue
		}
		published++
		msg.MarkAsPublished(w.clock.Now())
		if err := w.outbox.Save(ctx, msg); err != nil {
			w.log.Error("Failed to mark message as published", "message_id", msg.ID, "error", err)
		}
		metrics.RecordNotificationPublished(ctx, msg.EventType)
	}
	return published, failed
}

func (w *NotificationWorker) fail(ctx context.Context, msg *domain.OutboxMessage, cause error) {
	msg.MarkAsFailed(cause.Error())
	dead := msg.Status == domain.OutboxStatusDead
	metrics.RecordNotificationFailed(ctx, msg.EventType, dead)

	w.log.Warn("Failed to publish notification",
		"message_id", msg.ID,
		"attempt", msg.RetryCount,
		"max_retries", msg.MaxRetries,
		"error", cause,
	)
	if err := w.outbox.Save(ctx, msg); err != nil {
		w.log.Error("Failed to mark message as failed", "message_id", msg.ID, "error", err)
	}

	if !dead {
		return
	}
	dlqErr := w.dlq.PublishToDLQ(ctx, &retry.DLQMessage{
		ID:             msg.ID,
		OriginalTopic:  msg.Topic,
		OriginalKey:    msg.PartitionKey,
		Payload:        json.RawMessage(msg.Payload),
		Error:          msg.LastError,
		Attempts:       msg.RetryCount,
		FirstAttemptAt: msg.CreatedAt,
	})
	if dlqErr != nil {
		w.log.Error("Failed to publish dead notification to DLQ", "message_id", msg.ID, "error", dlqErr)
	}
}

func (w *NotificationWorker) publish(ctx context.Context, msg *domain.OutboxMessage) error {
	return w.producer.Produce(ctx, &kafka.Message{
		Topic: msg.Topic,
		Key:   msg.PartitionKey,
		Value: msg.Payload,
		Headers: map[string]string{
			"event_type":     msg.EventType,
			"aggregate_type": msg.AggregateType,
			"aggregate_id":   msg.AggregateID,
			"content_type":   "application/json",
			"source":         "notification-worker",
		},
		Timestamp: w.clock.Now(),
	})
}

func (w *NotificationWorker) cleanupLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.Cleanup(ctx)
		}
	}
}

// Cleanup deletes published messages older than the retention window
func (w *NotificationWorker) Cleanup(ctx context.Context) int64 {
	cutoff := w.clock.Now().AddDate(0, 0, -w.config.CleanupRetentionDays)
	deleted, err := w.outbox.DeletePublished(ctx, cutoff)
	if err != nil {
		w.log.Error("Failed to clean up published notifications", "error", err)
		return 0
	}
	if deleted > 0 {
		w.log.Info("Cleaned up published notifications", "deleted", deleted)
	}
	return deleted
}
