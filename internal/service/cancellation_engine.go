package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/prohmpiriya/reservation-engine/internal/clock"
	"github.com/prohmpiriya/reservation-engine/internal/domain"
	"github.com/prohmpiriya/reservation-engine/internal/gateway"
	"github.com/prohmpiriya/reservation-engine/internal/metrics"
	"github.com/prohmpiriya/reservation-engine/internal/repository"
	"github.com/prohmpiriya/reservation-engine/pkg/logger"
	"github.com/prohmpiriya/reservation-engine/pkg/telemetry"
)

// RefundStatus is the refund outcome of a cancellation
type RefundStatus string

const (
	RefundNotRequested RefundStatus = "not_requested"
	RefundNotDue       RefundStatus = "not_due"
	RefundSucceeded    RefundStatus = "succeeded"
	RefundPending      RefundStatus = "pending"
)

// CancelRequest cancels one booking. An empty CustomerID skips the ownership check.
type CancelRequest struct {
	BookingID       string
	CustomerID      string
	RefundRequested bool
	Reason          string
}

// CancelResult reports what the cancellation refunded
type CancelResult struct {
	BookingID     string
	RefundAmount  domain.Money
	RefundPercent int
	RefundStatus  RefundStatus
	RefundID      string
	Booking       *domain.Booking
}

// CancellationEngine cancels bookings and releases their inventory
type CancellationEngine interface {
	Cancel(ctx context.Context, req *CancelRequest) (*CancelResult, error)
}

// CancellationEngineConfig holds configuration for the cancellation engine
type CancellationEngineConfig struct {
	Policy RefundPolicy
	Clock  clock.Clock
	Logger *logger.Logger
}

type cancellationEngine struct {
	store   repository.Store
	gateway gateway.PaymentGateway
	cache   repository.AvailabilityCache
	policy  RefundPolicy
	clock   clock.Clock
	log     *logger.Logger
	notify  notifier
}

// NewCancellationEngine creates a new CancellationEngine
func NewCancellationEngine(
	store repository.Store,
	gw gateway.PaymentGateway,
	cache repository.AvailabilityCache,
	queue NotificationQueue,
	cfg *CancellationEngineConfig,
) CancellationEngine {
	if cfg == nil {
		cfg = &CancellationEngineConfig{}
	}
	policy := cfg.Policy
	if len(policy.bands) == 0 {
		policy = DefaultRefundPolicy()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Get()
	}
	if cache == nil {
		cache = repository.NoopAvailabilityCache{}
	}

	return &cancellationEngine{
		store:   store,
		gateway: gw,
		cache:   cache,
		policy:  policy,
		clock:   clk,
		log:     log,
		notify:  notifier{queue: queue, clock: clk, log: log},
	}
}

// Cancel settles the refund first, then releases inventory in one transaction.
// A failed refund leaves the booking untouched.
func (e *cancellationEngine) Cancel(ctx context.Context, req *CancelRequest) (*CancelResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.cancellation.cancel")
	defer span.End()
	span.SetAttributes(
		attribute.String("booking.id", req.BookingID),
		attribute.Bool("refund.requested", req.RefundRequested),
	)

	start := time.Now()
	result, err := e.cancel(ctx, req)
	if err != nil {
		telemetry.SetSpanError(span, err)
		metrics.RecordCancellationFailure(ctx, domain.CategoryOf(err).String())
		return nil, err
	}

	metrics.RecordCancellation(ctx, result.Booking.Target.Kind().String(), string(result.RefundStatus), time.Since(start).Seconds())
	return result, nil
}

func (e *cancellationEngine) cancel(ctx context.Context, req *CancelRequest) (*CancelResult, error) {
	if req.BookingID == "" {
		return nil, domain.NewValidationError("booking_id", "booking id is required")
	}

	booking, err := e.store.GetBooking(ctx, req.BookingID)
	if err != nil {
		return nil, err
	}
	if req.CustomerID != "" && booking.CustomerID != req.CustomerID {
		return nil, domain.ErrBookingNotFound
	}
	if booking.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: booking %s is %s", domain.ErrAlreadyTerminal, booking.ID, booking.Status)
	}
	if err := domain.ValidateBookingTransition(booking.Status, domain.BookingStatusCancelled); err != nil {
		return nil, err
	}

	result := &CancelResult{BookingID: booking.ID, RefundStatus: RefundNotRequested}
	if req.RefundRequested {
		if err := e.refund(ctx, booking, req.Reason, result); err != nil {
			return nil, err
		}
	}

	cancelled, err := e.release(ctx, booking, req.Reason, result)
	if err != nil {
		if result.RefundStatus == RefundSucceeded || result.RefundStatus == RefundPending {
			e.log.Error("Refund issued but cancellation did not commit",
				"booking_id", booking.ID,
				"refund_id", result.RefundID,
				"error", err,
			)
		}
		return nil, err
	}
	result.Booking = cancelled

	if err := e.cache.Invalidate(ctx, cancelled.Target); err != nil {
		e.log.Warn("Failed to invalidate availability cache", "target", cancelled.Target.String(), "error", err)
	}
	e.notify.send(ctx, domain.TemplateBookingCancellation, cancelled)
	e.log.Info("Booking cancelled",
		"booking_id", cancelled.ID,
		"reference", cancelled.Reference,
		"refund_status", result.RefundStatus,
		"refund_amount", result.RefundAmount.String(),
	)
	return result, nil
}

// refund executes the booking's refund through the gateway. The amount is
// quoted from the time-banded policy once and stored on the booking before the
// gateway is called, so a retried cancellation repeats the same refund.
func (e *cancellationEngine) refund(ctx context.Context, b *domain.Booking, reason string, result *CancelResult) error {
	if !b.HasRefundQuote() || b.PaymentStatus != domain.PaymentStatusCompleted {
		startsAt, err := e.targetStart(ctx, b.Target)
		if err != nil {
			return err
		}
		now := e.clock.Now()
		if !startsAt.After(now) {
			return fmt.Errorf("%w: %s has already started", domain.ErrNotRefundable, b.Target.String())
		}

		amount, pct := e.policy.Amount(b.Total, startsAt.Sub(now))
		result.RefundPercent = pct
		if amount == 0 || b.PaymentStatus != domain.PaymentStatusCompleted {
			result.RefundStatus = RefundNotDue
			return nil
		}
		if err := e.quoteRefund(ctx, b, amount, pct); err != nil {
			return err
		}
	}

	amount := b.RefundQuoteAmount
	result.RefundPercent = b.RefundQuotePercent
	resp, err := e.gateway.Refund(ctx, &gateway.RefundRequest{
		ChargeRef:      b.PaymentRef,
		Amount:         amount,
		Reason:         reason,
		IdempotencyKey: "refund-" + b.ID,
	})
	if err != nil {
		metrics.RecordRefund(ctx, string(gateway.RefundStateFailed))
		e.log.Error("Refund failed", "booking_id", b.ID, "amount", amount.String(), "error", err)
		return fmt.Errorf("%w: %v", domain.ErrRefundFailed, err)
	}
	metrics.RecordRefund(ctx, string(resp.State))
	if resp.State == gateway.RefundStateFailed {
		e.log.Error("Refund declined", "booking_id", b.ID, "refund_id", resp.RefundID)
		return fmt.Errorf("%w: refund %s was declined", domain.ErrRefundFailed, resp.RefundID)
	}

	if resp.Amount > 0 && resp.Amount != amount {
		e.log.Warn("Gateway refunded a different amount than quoted",
			"booking_id", b.ID,
			"refund_id", resp.RefundID,
			"quoted", amount.String(),
			"refunded", resp.Amount.String(),
		)
		amount = resp.Amount
	}
	result.RefundAmount = amount
	result.RefundID = resp.RefundID
	result.RefundStatus = RefundSucceeded
	if resp.State == gateway.RefundStatePending {
		result.RefundStatus = RefundPending
	}
	return nil
}

// quoteRefund stores the refund decision on the booking under its row lock.
// A quote already stored by a concurrent cancellation wins.
func (e *cancellationEngine) quoteRefund(ctx context.Context, b *domain.Booking, amount domain.Money, pct int) error {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	locked, err := tx.LockBooking(ctx, b.ID)
	if err != nil {
		return err
	}
	if locked.Status.IsTerminal() {
		return fmt.Errorf("%w: booking %s is %s", domain.ErrAlreadyTerminal, locked.ID, locked.Status)
	}
	if locked.PaymentStatus != b.PaymentStatus {
		return fmt.Errorf("%w: payment status of booking %s changed during cancellation", domain.ErrContention, b.ID)
	}

	if !locked.HasRefundQuote() {
		if err := locked.QuoteRefund(amount, pct, e.clock.Now()); err != nil {
			return err
		}
		if err := tx.UpdateBooking(ctx, locked); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
	}

	b.RefundQuoteAmount = locked.RefundQuoteAmount
	b.RefundQuotePercent = locked.RefundQuotePercent
	return nil
}

// release cancels the booking and returns its inventory under row locks
func (e *cancellationEngine) release(ctx context.Context, seen *domain.Booking, reason string, result *CancelResult) (*domain.Booking, error) {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	b, err := tx.LockBooking(ctx, seen.ID)
	if err != nil {
		return nil, err
	}
	if b.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: booking %s is %s", domain.ErrAlreadyTerminal, b.ID, b.Status)
	}
	if b.PaymentStatus != seen.PaymentStatus {
		// The refund decision was made against a payment status that has since moved
		return nil, fmt.Errorf("%w: payment status of booking %s changed during cancellation", domain.ErrContention, b.ID)
	}

	if err := releaseInventory(ctx, tx, b); err != nil {
		return nil, err
	}

	now := e.clock.Now()
	if err := b.TransitionTo(domain.BookingStatusCancelled, now); err != nil {
		return nil, err
	}
	b.CancellationReason = reason
	if result.RefundAmount > 0 {
		b.RefundAmount = result.RefundAmount
		to := domain.PaymentStatusPartiallyRefunded
		if result.RefundAmount >= b.Total {
			to = domain.PaymentStatusRefunded
		}
		if err := b.TransitionPayment(to, now); err != nil {
			return nil, err
		}
	}

	if err := tx.UpdateBooking(ctx, b); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func (e *cancellationEngine) targetStart(ctx context.Context, target domain.BookingTarget) (time.Time, error) {
	if eventID, ok := target.EventID(); ok {
		event, err := e.store.GetEvent(ctx, eventID)
		if err != nil {
			return time.Time{}, err
		}
		return event.StartsAt, nil
	}
	showtime, err := e.store.GetShowtime(ctx, target.ID())
	if err != nil {
		return time.Time{}, err
	}
	return showtime.StartsAt, nil
}
