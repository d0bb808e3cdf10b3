package domain

import (
	"fmt"
	"time"
)

// Booking is one purchase by one customer for one BookingTarget
type Booking struct {
	ID                 string
	CustomerID         string
	Target             BookingTarget
	Reference          string
	Subtotal           Money
	DiscountAmount     Money
	Fees               Money
	Total              Money
	Currency           string
	DiscountID         string
	PaymentStatus      PaymentStatus
	Status             BookingStatus
	PaymentRef         string
	RefundAmount       Money
	RefundQuoteAmount  Money
	RefundQuotePercent int
	CancellationReason string
	IdempotencyKey     string
	ConfirmedAt        *time.Time
	CancelledAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// HasDiscount reports whether a discount was applied
func (b *Booking) HasDiscount() bool {
	return b.DiscountID != ""
}

// HasRefundQuote reports whether a refund amount was fixed for a cancellation still in progress
func (b *Booking) HasRefundQuote() bool {
	return b.RefundQuoteAmount > 0
}

// QuoteRefund fixes the refund a cancellation will pay. Once set it is never recomputed.
func (b *Booking) QuoteRefund(amount Money, percent int, at time.Time) error {
	if amount <= 0 || amount > b.Total {
		return fmt.Errorf("%w: refund quote %s outside (0, %s]", ErrInvariantViolation, amount, b.Total)
	}
	b.RefundQuoteAmount = amount
	b.RefundQuotePercent = percent
	b.UpdatedAt = at
	return nil
}

// CheckTotals verifies total == subtotal - discount + fees and that no component is negative
func (b *Booking) CheckTotals() error {
	if b.Subtotal < 0 || b.DiscountAmount < 0 || b.Fees < 0 {
		return fmt.Errorf("%w: negative amount in booking %s", ErrInvariantViolation, b.ID)
	}
	if b.DiscountAmount > b.Subtotal {
		return fmt.Errorf("%w: discount %s exceeds subtotal %s", ErrInvariantViolation, b.DiscountAmount, b.Subtotal)
	}
	if want := b.Subtotal - b.DiscountAmount + b.Fees; b.Total != want {
		return fmt.Errorf("%w: total %s != subtotal %s - discount %s + fees %s",
			ErrInvariantViolation, b.Total, b.Subtotal, b.DiscountAmount, b.Fees)
	}
	return nil
}

// TransitionTo validates and applies a booking status change
func (b *Booking) TransitionTo(to BookingStatus, at time.Time) error {
	if err := ValidateBookingTransition(b.Status, to); err != nil {
		return err
	}
	b.Status = to
	b.UpdatedAt = at
	switch to {
	case BookingStatusConfirmed:
		b.ConfirmedAt = &at
	case BookingStatusCancelled:
		b.CancelledAt = &at
	}
	return nil
}

// TransitionPayment validates and applies a payment status change
func (b *Booking) TransitionPayment(to PaymentStatus, at time.Time) error {
	if err := ValidatePaymentTransition(b.PaymentStatus, to); err != nil {
		return err
	}
	b.PaymentStatus = to
	b.UpdatedAt = at
	return nil
}
