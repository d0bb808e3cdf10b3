package service

import (
	"context"
	"fmt"

	"github.com/prohmpiriya/reservation-engine/internal/clock"
	"github.com/prohmpiriya/reservation-engine/internal/domain"
	"github.com/prohmpiriya/reservation-engine/internal/metrics"
	"github.com/prohmpiriya/reservation-engine/internal/repository"
	"github.com/prohmpiriya/reservation-engine/pkg/logger"
	"github.com/prohmpiriya/reservation-engine/pkg/telemetry"
)

// StatusService moves bookings through the booking and payment status machines
type StatusService interface {
	TransitionStatus(ctx context.Context, bookingID string, to domain.BookingStatus) (*domain.Booking, error)
	ApplyPaymentStatus(ctx context.Context, bookingID string, to domain.PaymentStatus, paymentRef string) (*domain.Booking, error)
}

type statusService struct {
	store  repository.Store
	cache  repository.AvailabilityCache
	clock  clock.Clock
	log    *logger.Logger
	notify notifier
}

// NewStatusService creates a new StatusService
func NewStatusService(store repository.Store, cache repository.AvailabilityCache, queue NotificationQueue, clk clock.Clock, log *logger.Logger) StatusService {
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = logger.Get()
	}
	if cache == nil {
		cache = repository.NoopAvailabilityCache{}
	}
	return &statusService{
		store:  store,
		cache:  cache,
		clock:  clk,
		log:    log,
		notify: notifier{queue: queue, clock: clk, log: log},
	}
}

// TransitionStatus applies one booking status change under the booking row lock.
// Cancelling releases inventory exactly as a cancellation without refund does.
func (s *statusService) TransitionStatus(ctx context.Context, bookingID string, to domain.BookingStatus) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.status.transition")
	defer span.End()

	var from domain.BookingStatus
	b, err := s.withLockedBooking(ctx, bookingID, func(tx repository.Tx, b *domain.Booking) error {
		from = b.Status
		if err := domain.ValidateBookingTransition(b.Status, to); err != nil {
			return err
		}
		if to == domain.BookingStatusCancelled {
			if err := releaseInventory(ctx, tx, b); err != nil {
				return err
			}
		}
		return b.TransitionTo(to, s.clock.Now())
	})
	if err != nil {
		telemetry.SetSpanError(span, err)
		return nil, err
	}

	metrics.RecordStatusTransition(ctx, from.String(), to.String())
	if to == domain.BookingStatusCancelled {
		s.afterRelease(ctx, b)
	}
	s.log.Info("Booking status changed", "booking_id", b.ID, "from", from, "to", to)
	return b, nil
}

// ApplyPaymentStatus records a payment outcome and drives a pending booking
// to confirmed or cancelled. Reapplying the current status is a no-op.
func (s *statusService) ApplyPaymentStatus(ctx context.Context, bookingID string, to domain.PaymentStatus, paymentRef string) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.status.apply_payment")
	defer span.End()

	var (
		changed     bool
		bookingFrom domain.BookingStatus
		released    bool
	)
	b, err := s.withLockedBooking(ctx, bookingID, func(tx repository.Tx, b *domain.Booking) error {
		if b.PaymentStatus == to {
			return nil
		}
		now := s.clock.Now()
		if err := b.TransitionPayment(to, now); err != nil {
			return err
		}
		if paymentRef != "" {
			b.PaymentRef = paymentRef
		}
		changed = true
		bookingFrom = b.Status

		next, ok := domain.BookingStatusForPayment(to)
		if !ok {
			return nil
		}
		if b.Status != domain.BookingStatusPending {
			if to == domain.PaymentStatusCompleted {
				s.log.Warn("Payment completed for a booking that is no longer pending",
					"booking_id", b.ID, "status", b.Status)
			}
			return nil
		}
		if next == domain.BookingStatusCancelled {
			if err := releaseInventory(ctx, tx, b); err != nil {
				return err
			}
			released = true
		}
		return b.TransitionTo(next, now)
	})
	if err != nil {
		telemetry.SetSpanError(span, err)
		return nil, err
	}
	if !changed {
		return b, nil
	}

	if b.Status != bookingFrom {
		metrics.RecordStatusTransition(ctx, bookingFrom.String(), b.Status.String())
	}
	switch to {
	case domain.PaymentStatusCompleted:
		s.notify.send(ctx, domain.TemplatePaymentReceived, b)
	case domain.PaymentStatusFailed:
		s.notify.send(ctx, domain.TemplatePaymentFailed, b)
	}
	if released {
		s.afterRelease(ctx, b)
	}
	s.log.Info("Payment status changed", "booking_id", b.ID, "payment_status", to, "status", b.Status)
	return b, nil
}

// withLockedBooking runs fn against the locked booking and persists it on success
func (s *statusService) withLockedBooking(ctx context.Context, bookingID string, fn func(tx repository.Tx, b *domain.Booking) error) (*domain.Booking, error) {
	if bookingID == "" {
		return nil, domain.NewValidationError("booking_id", "booking id is required")
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	b, err := tx.LockBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	before := *b
	if err := fn(tx, b); err != nil {
		return nil, err
	}
	if before.Status == b.Status && before.PaymentStatus == b.PaymentStatus && before.PaymentRef == b.PaymentRef {
		return b, nil
	}
	if err := tx.UpdateBooking(ctx, b); err != nil {
		return nil, fmt.Errorf("failed to update booking: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *statusService) afterRelease(ctx context.Context, b *domain.Booking) {
	if err := s.cache.Invalidate(ctx, b.Target); err != nil {
		s.log.Warn("Failed to invalidate availability cache", "target", b.Target.String(), "error", err)
	}
	s.notify.send(ctx, domain.TemplateBookingCancellation, b)
}
