package repository

import (
	"context"
	"time"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
	"github.com/prohmpiriya/reservation-engine/internal/inventory"
)

// Reader serves reads taken outside any row lock. Results are advisory and
// must never drive an inventory write.
type Reader interface {
	GetEvent(ctx context.Context, id string) (*domain.Event, error)
	GetShowtime(ctx context.Context, id string) (*domain.Showtime, error)
	ListTicketTypes(ctx context.Context, eventID string) ([]*domain.TicketType, error)
	GetBooking(ctx context.Context, id string) (*domain.Booking, error)
	GetBookingByIdempotencyKey(ctx context.Context, key string) (*domain.Booking, error)
	ListTickets(ctx context.Context, bookingID string) ([]*domain.TicketLine, error)
	FindDiscountByCode(ctx context.Context, eventID, code string) (*domain.Discount, error)
}

// Tx is one store transaction. Row locks taken through it are held until
// Commit or Rollback. Rollback after Commit is a no-op.
type Tx interface {
	inventory.Tx

	LockBooking(ctx context.Context, id string) (*domain.Booking, error)

	// ListCategoryDiscounts returns the event's code-less discounts, unlocked
	ListCategoryDiscounts(ctx context.Context, eventID string) ([]*domain.Discount, error)
	ListTickets(ctx context.Context, bookingID string) ([]*domain.TicketLine, error)
	ReferenceExists(ctx context.Context, reference string) (bool, error)
	TicketNumberExists(ctx context.Context, number string) (bool, error)

	InsertBooking(ctx context.Context, b *domain.Booking) error
	InsertTickets(ctx context.Context, tickets []*domain.TicketLine) error
	UpdateBooking(ctx context.Context, b *domain.Booking) error
	// UpdateTicketStatus moves every ticket of the booking currently in from to to
	UpdateTicketStatus(ctx context.Context, bookingID string, from, to domain.TicketStatus) (int, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store is the transactional booking store
type Store interface {
	Reader
	Begin(ctx context.Context) (Tx, error)
}

// OutboxRepository persists notification outbox rows
type OutboxRepository interface {
	Create(ctx context.Context, msg *domain.OutboxMessage) error
	// ClaimPending returns up to limit pending or retryable failed messages
	ClaimPending(ctx context.Context, limit int) ([]*domain.OutboxMessage, error)
	Save(ctx context.Context, msg *domain.OutboxMessage) error
	DeletePublished(ctx context.Context, olderThan time.Time) (int64, error)
}

// EventAvailability is the advisory snapshot of an event's quotas
type EventAvailability struct {
	EventID     string                   `json:"event_id"`
	Status      domain.EventStatus       `json:"status"`
	TicketTypes []TicketTypeAvailability `json:"ticket_types"`
	CheckedAt   time.Time                `json:"checked_at"`
}

// TicketTypeAvailability is one quota line of an EventAvailability
type TicketTypeAvailability struct {
	TicketTypeID string       `json:"ticket_type_id"`
	Name         string       `json:"name"`
	Price        domain.Money `json:"price"`
	Available    int          `json:"available"`
	Sold         int          `json:"sold"`
	Remaining    int          `json:"remaining"`
}

// ShowtimeAvailability is the advisory snapshot of a showtime's seat map
type ShowtimeAvailability struct {
	ShowtimeID     string    `json:"showtime_id"`
	TotalSeats     int       `json:"total_seats"`
	AvailableSeats int       `json:"available_seats"`
	BookedSeats    []string  `json:"booked_seats"`
	CheckedAt      time.Time `json:"checked_at"`
}

// AvailabilityCache caches availability snapshots between commits
type AvailabilityCache interface {
	GetEvent(ctx context.Context, eventID string) (*EventAvailability, error)
	SetEvent(ctx context.Context, a *EventAvailability) error
	GetShowtime(ctx context.Context, showtimeID string) (*ShowtimeAvailability, error)
	SetShowtime(ctx context.Context, a *ShowtimeAvailability) error
	Invalidate(ctx context.Context, target domain.BookingTarget) error
}
