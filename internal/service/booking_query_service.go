package service

import (
	"context"
	"fmt"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
	"github.com/prohmpiriya/reservation-engine/internal/repository"
)

// BookingView is a booking with its ticket lines
type BookingView struct {
	Booking *domain.Booking
	Tickets []*domain.TicketLine
}

// BookingQueryService reads bookings for their owners
type BookingQueryService interface {
	GetBooking(ctx context.Context, bookingID, customerID string) (*BookingView, error)
}

type bookingQueryService struct {
	reader repository.Reader
}

// NewBookingQueryService creates a new BookingQueryService
func NewBookingQueryService(reader repository.Reader) BookingQueryService {
	return &bookingQueryService{reader: reader}
}

// GetBooking returns the booking when it belongs to customerID. Another
// customer's booking reads as not found.
func (s *bookingQueryService) GetBooking(ctx context.Context, bookingID, customerID string) (*BookingView, error) {
	b, err := s.reader.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if customerID != "" && b.CustomerID != customerID {
		return nil, domain.ErrBookingNotFound
	}
	tickets, err := s.reader.ListTickets(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	return &BookingView{Booking: b, Tickets: tickets}, nil
}
