package service

import (
	"context"
	"errors"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
	"github.com/prohmpiriya/reservation-engine/internal/inventory"
	"github.com/prohmpiriya/reservation-engine/internal/repository"
)

// releaseInventory gives back everything b consumed and cancels its valid
// tickets. The caller must already hold the booking's row lock in tx.
func releaseInventory(ctx context.Context, tx repository.Tx, b *domain.Booking) error {
	tickets, err := tx.ListTickets(ctx, b.ID)
	if err != nil {
		return err
	}

	lock := inventory.New(tx)
	switch b.Target.Kind() {
	case domain.BookingKindEvent:
		quantities := make(map[string]int)
		for _, t := range tickets {
			if t.Status != domain.TicketStatusCancelled && t.TicketTypeID != "" {
				quantities[t.TicketTypeID]++
			}
		}
		if len(quantities) > 0 {
			ids := make([]string, 0, len(quantities))
			for id := range quantities {
				ids = append(ids, id)
			}
			if _, err := lock.TicketTypes(ctx, ids); err != nil {
				return err
			}
			if err := lock.ReleaseQuota(quantities); err != nil {
				return err
			}
		}
	case domain.BookingKindMovie:
		var seats []string
		for _, t := range tickets {
			if t.Status != domain.TicketStatusCancelled && t.SeatID != "" {
				seats = append(seats, t.SeatID)
			}
		}
		if len(seats) > 0 {
			if _, err := lock.Showtime(ctx, b.Target.ID()); err != nil {
				return err
			}
			if err := lock.ReleaseSeats(seats); err != nil {
				return err
			}
		}
	}

	if b.HasDiscount() {
		_, err := lock.Discount(ctx, b.DiscountID)
		switch {
		case errors.Is(err, domain.ErrDiscountNotFound):
			// deleted since the booking was made
		case err != nil:
			return err
		default:
			if err := lock.ReleaseDiscountUse(b.DiscountID); err != nil {
				return err
			}
		}
	}

	if err := lock.Flush(ctx); err != nil {
		return err
	}
	_, err = tx.UpdateTicketStatus(ctx, b.ID, domain.TicketStatusValid, domain.TicketStatusCancelled)
	return err
}
