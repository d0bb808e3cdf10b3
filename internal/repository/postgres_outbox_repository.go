package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
)

// PostgresOutboxRepository implements OutboxRepository using PostgreSQL
type PostgresOutboxRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresOutboxRepository creates a new PostgresOutboxRepository
func NewPostgresOutboxRepository(pool *pgxpool.Pool) *PostgresOutboxRepository {
	return &PostgresOutboxRepository{pool: pool}
}

// Create inserts a new outbox message
func (r *PostgresOutboxRepository) Create(ctx context.Context, msg *domain.OutboxMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}

	query := `
		INSERT INTO notification_outbox (
			id, aggregate_type, aggregate_id, event_type,
			payload, topic, partition_key, status,
			retry_count, max_retries, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`

	_, err := r.pool.Exec(ctx, query,
		msg.ID,
		msg.AggregateType,
		msg.AggregateID,
		msg.EventType,
		msg.Payload,
		msg.Topic,
		msg.PartitionKey,
		msg.Status.String(),
		msg.RetryCount,
		msg.MaxRetries,
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create outbox message: %w", err)
	}
	return nil
}

// ClaimPending gets pending messages and failed messages that can be retried, oldest first
func (r *PostgresOutboxRepository) ClaimPending(ctx context.Context, limit int) ([]*domain.OutboxMessage, error) {
	query := `
		SELECT
			id, aggregate_type, aggregate_id, event_type,
			payload, topic, partition_key, status,
			retry_count, max_retries, last_error,
			created_at, published_at
		FROM notification_outbox
		WHERE status = 'pending' OR (status = 'failed' AND retry_count < max_retries)
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending messages: %w", err)
	}
	defer rows.Close()

	return scanOutboxMessages(rows)
}

// Save persists the delivery state of a message
func (r *PostgresOutboxRepository) Save(ctx context.Context, msg *domain.OutboxMessage) error {
	query := `
		UPDATE notification_outbox SET
			status = $2,
			retry_count = $3,
			last_error = $4,
			published_at = $5
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query,
		msg.ID,
		msg.Status.String(),
		msg.RetryCount,
		nullString(msg.LastError),
		msg.PublishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save outbox message: %w", err)
	}
	if result.RowsAffected() == 0 {
		return errors.New("outbox message not found")
	}
	return nil
}

// DeletePublished deletes published messages older than the cutoff
func (r *PostgresOutboxRepository) DeletePublished(ctx context.Context, olderThan time.Time) (int64, error) {
	query := `
		DELETE FROM notification_outbox
		WHERE status = 'published' AND published_at < $1
	`

	result, err := r.pool.Exec(ctx, query, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to delete published messages: %w", err)
	}
	return result.RowsAffected(), nil
}

// scanOutboxMessages scans rows into OutboxMessage slice
func scanOutboxMessages(rows pgx.Rows) ([]*domain.OutboxMessage, error) {
	var messages []*domain.OutboxMessage

	for rows.Next() {
		msg := &domain.OutboxMessage{}
		var (
			status    string
			lastError *string
		)

		err := rows.Scan(
			&msg.ID,
			&msg.AggregateType,
			&msg.AggregateID,
			&msg.EventType,
			&msg.Payload,
			&msg.Topic,
			&msg.PartitionKey,
			&status,
			&msg.RetryCount,
			&msg.MaxRetries,
			&lastError,
			&msg.CreatedAt,
			&msg.PublishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox message: %w", err)
		}

		msg.Status = domain.OutboxStatus(status)
		msg.LastError = deref(lastError)
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outbox messages: %w", err)
	}
	return messages, nil
}

// Ensure PostgresOutboxRepository implements OutboxRepository
var _ OutboxRepository = (*PostgresOutboxRepository)(nil)
