package domain

import (
	"encoding/json"
	"time"
)

// OutboxStatus represents the delivery state of an outbox message
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	OutboxStatusFailed    OutboxStatus = "failed"
	OutboxStatusDead      OutboxStatus = "dead"
)

func (s OutboxStatus) String() string {
	return string(s)
}

// OutboxMessage is a notification persisted for at-least-once relay to Kafka
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Topic         string
	PartitionKey  string
	Status        OutboxStatus
	RetryCount    int
	MaxRetries    int
	LastError     string
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

// NewNotificationOutboxMessage wraps a notification for the relay
func NewNotificationOutboxMessage(id, topic string, n *Notification, maxRetries int) (*OutboxMessage, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	return &OutboxMessage{
		ID:            id,
		AggregateType: "booking",
		AggregateID:   n.RelatedRef,
		EventType:     string(n.Template),
		Payload:       payload,
		Topic:         topic,
		PartitionKey:  n.UserID,
		Status:        OutboxStatusPending,
		MaxRetries:    maxRetries,
		CreatedAt:     n.CreatedAt,
	}, nil
}

// CanRetry checks if a failed message has attempts left
func (m *OutboxMessage) CanRetry() bool {
	return m.Status == OutboxStatusFailed && m.RetryCount < m.MaxRetries
}

// MarkAsPublished records a successful relay
func (m *OutboxMessage) MarkAsPublished(at time.Time) {
	m.Status = OutboxStatusPublished
	m.PublishedAt = &at
}

// MarkAsFailed records a failed relay attempt; the message goes dead once retries run out
func (m *OutboxMessage) MarkAsFailed(reason string) {
	m.RetryCount++
	m.LastError = reason
	if m.RetryCount >= m.MaxRetries {
		m.Status = OutboxStatusDead
		return
	}
	m.Status = OutboxStatusFailed
}
