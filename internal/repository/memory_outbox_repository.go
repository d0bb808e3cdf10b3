package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
)

// MemoryOutboxRepository implements OutboxRepository in memory
type MemoryOutboxRepository struct {
	mu       sync.Mutex
	messages map[string]domain.OutboxMessage
}

// NewMemoryOutboxRepository creates an empty MemoryOutboxRepository
func NewMemoryOutboxRepository() *MemoryOutboxRepository {
	return &MemoryOutboxRepository{messages: make(map[string]domain.OutboxMessage)}
}

func (r *MemoryOutboxRepository) Create(ctx context.Context, msg *domain.OutboxMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[msg.ID] = *msg
	return nil
}

func (r *MemoryOutboxRepository) ClaimPending(ctx context.Context, limit int) ([]*domain.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*domain.OutboxMessage
	for _, m := range r.messages {
		if m.Status == domain.OutboxStatusPending || m.CanRetry() {
			cp := m
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryOutboxRepository) Save(ctx context.Context, msg *domain.OutboxMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.messages[msg.ID]; !ok {
		return errors.New("outbox message not found")
	}
	r.messages[msg.ID] = *msg
	return nil
}

func (r *MemoryOutboxRepository) DeletePublished(ctx context.Context, olderThan time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, m := range r.messages {
		if m.Status == domain.OutboxStatusPublished && m.PublishedAt != nil && m.PublishedAt.Before(olderThan) {
			delete(r.messages, id)
			n++
		}
	}
	return n, nil
}

// All returns every stored message ordered by creation time
func (r *MemoryOutboxRepository) All() []domain.OutboxMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.OutboxMessage, 0, len(r.messages))
	for _, m := range r.messages {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

var _ OutboxRepository = (*MemoryOutboxRepository)(nil)
