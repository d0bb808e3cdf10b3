package service

import (
	"context"
	"fmt"

	"github.com/prohmpiriya/reservation-engine/internal/clock"
	"github.com/prohmpiriya/reservation-engine/internal/domain"
	"github.com/prohmpiriya/reservation-engine/internal/gateway"
	"github.com/prohmpiriya/reservation-engine/internal/repository"
	"github.com/prohmpiriya/reservation-engine/pkg/logger"
	"github.com/prohmpiriya/reservation-engine/pkg/telemetry"
)

// CheckoutResult is what a client needs to confirm payment with the provider
type CheckoutResult struct {
	BookingID    string
	IntentID     string
	ClientSecret string
	Amount       domain.Money
	Currency     string
	Booking      *domain.Booking
}

// PaymentService starts payment for pending bookings
type PaymentService interface {
	StartCheckout(ctx context.Context, bookingID, customerID string) (*CheckoutResult, error)
}

type paymentService struct {
	store   repository.Store
	gateway gateway.PaymentGateway
	clock   clock.Clock
	log     *logger.Logger
}

// NewPaymentService creates a new PaymentService
func NewPaymentService(store repository.Store, gw gateway.PaymentGateway, clk clock.Clock, log *logger.Logger) PaymentService {
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = logger.Get()
	}
	return &paymentService{store: store, gateway: gw, clock: clk, log: log}
}

// StartCheckout creates a payment intent outside any transaction, then records
// it on the booking under the booking row lock.
func (s *paymentService) StartCheckout(ctx context.Context, bookingID, customerID string) (*CheckoutResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.payment.start_checkout")
	defer span.End()

	b, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		telemetry.SetSpanError(span, err)
		return nil, err
	}
	if customerID != "" && b.CustomerID != customerID {
		return nil, domain.ErrBookingNotFound
	}
	if err := checkoutAllowed(b); err != nil {
		return nil, err
	}

	intent, err := s.gateway.CreateIntent(ctx, &gateway.IntentRequest{
		Amount:      b.Total,
		Currency:    b.Currency,
		Description: "Booking " + b.Reference,
		Metadata: map[string]string{
			"booking_id": b.ID,
			"reference":  b.Reference,
		},
		// Stable until the booking changes, so a retried checkout reuses the intent
		IdempotencyKey: fmt.Sprintf("intent-%s-%d", b.ID, b.UpdatedAt.UnixNano()),
	})
	if err != nil {
		telemetry.SetSpanError(span, err)
		s.log.Error("Failed to create payment intent", "booking_id", b.ID, "gateway", s.gateway.Name(), "error", err)
		return nil, fmt.Errorf("%w: %v", domain.ErrPaymentFailed, err)
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	locked, err := tx.LockBooking(ctx, b.ID)
	if err != nil {
		return nil, err
	}
	if err := checkoutAllowed(locked); err != nil {
		return nil, err
	}
	if err := locked.TransitionPayment(domain.PaymentStatusProcessing, s.clock.Now()); err != nil {
		return nil, err
	}
	locked.PaymentRef = intent.IntentID
	if err := tx.UpdateBooking(ctx, locked); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	s.log.Info("Checkout started", "booking_id", locked.ID, "intent_id", intent.IntentID, "amount", locked.Total.String())
	return &CheckoutResult{
		BookingID:    locked.ID,
		IntentID:     intent.IntentID,
		ClientSecret: intent.ClientSecret,
		Amount:       locked.Total,
		Currency:     locked.Currency,
		Booking:      locked,
	}, nil
}

func checkoutAllowed(b *domain.Booking) error {
	if b.Status.IsTerminal() {
		return fmt.Errorf("%w: booking %s is %s", domain.ErrAlreadyTerminal, b.ID, b.Status)
	}
	if b.Status != domain.BookingStatusPending {
		return &domain.StatusTransitionError{Machine: "payment", From: b.Status.String(), To: domain.PaymentStatusProcessing.String()}
	}
	return domain.ValidatePaymentTransition(b.PaymentStatus, domain.PaymentStatusProcessing)
}
