package domain

import "time"

// TicketLine is one admission unit owned by a booking. Event bookings set
// TicketTypeID, movie bookings set SeatID, never both.
type TicketLine struct {
	ID           string
	BookingID    string
	TicketTypeID string
	SeatID       string
	Price        Money
	Status       TicketStatus
	TicketNumber string
	CreatedAt    time.Time
}
