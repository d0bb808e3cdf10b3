package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
)

func TestTransitionStatus_HappyPath(t *testing.T) {
	f := newFixture(t)
	res := f.reserveGeneral(t, 1)
	ctx := context.Background()

	b, err := f.status.TransitionStatus(ctx, res.Booking.ID, domain.BookingStatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusConfirmed, b.Status)
	require.NotNil(t, b.ConfirmedAt)
	assert.Equal(t, testNow, *b.ConfirmedAt)

	b, err = f.status.TransitionStatus(ctx, res.Booking.ID, domain.BookingStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusCompleted, b.Status)

	stored, err := f.store.GetBooking(ctx, res.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusCompleted, stored.Status)
}

func TestTransitionStatus_Illegal(t *testing.T) {
	f := newFixture(t)
	res := f.reserveGeneral(t, 1)
	ctx := context.Background()

	_, err := f.status.TransitionStatus(ctx, res.Booking.ID, domain.BookingStatusCompleted)
	assert.ErrorIs(t, err, domain.ErrInvalidStatusTransition)

	_, err = f.status.TransitionStatus(ctx, res.Booking.ID, domain.BookingStatusCancelled)
	require.NoError(t, err)

	_, err = f.status.TransitionStatus(ctx, res.Booking.ID, domain.BookingStatusConfirmed)
	var stErr *domain.StatusTransitionError
	require.ErrorAs(t, err, &stErr)
	assert.Equal(t, "cancelled", stErr.From)
	assert.Equal(t, "confirmed", stErr.To)

	_, err = f.status.TransitionStatus(ctx, res.Booking.ID, "archived")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.status.TransitionStatus(ctx, "missing", domain.BookingStatusConfirmed)
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)
}

func TestTransitionStatus_CancelReleasesInventory(t *testing.T) {
	f := newFixture(t)
	res := f.reserveSeats(t, "A3", "A4")

	b, err := f.status.TransitionStatus(context.Background(), res.Booking.ID, domain.BookingStatusCancelled)
	require.NoError(t, err)

	assert.Equal(t, domain.BookingStatusCancelled, b.Status)
	require.NotNil(t, b.CancelledAt)
	st := f.showtime(t)
	assert.Empty(t, st.BookedSeats)
	assert.Equal(t, st.TotalSeats, st.AvailableSeats)
	assert.Contains(t, f.templates(), string(domain.TemplateBookingCancellation))
}

func TestApplyPaymentStatus_CompletedConfirms(t *testing.T) {
	f := newFixture(t)
	res := f.reserveGeneral(t, 1)
	ctx := context.Background()

	b, err := f.status.ApplyPaymentStatus(ctx, res.Booking.ID, domain.PaymentStatusProcessing, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusPending, b.Status)
	assert.Equal(t, "pi_1", b.PaymentRef)

	b, err = f.status.ApplyPaymentStatus(ctx, res.Booking.ID, domain.PaymentStatusCompleted, "")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCompleted, b.PaymentStatus)
	assert.Equal(t, domain.BookingStatusConfirmed, b.Status)
	assert.Equal(t, "pi_1", b.PaymentRef)
	assert.Contains(t, f.templates(), string(domain.TemplatePaymentReceived))

	// reapplying is a no-op
	again, err := f.status.ApplyPaymentStatus(ctx, res.Booking.ID, domain.PaymentStatusCompleted, "")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusConfirmed, again.Status)
}

func TestApplyPaymentStatus_FailedCancelsAndReleases(t *testing.T) {
	f := newFixture(t)
	f.store.AddDiscount(domain.Discount{ID: "auto", EventID: "evt-1", Name: "Auto",
		Type: domain.DiscountTypePercentage, Percent: 10, Active: true})
	res := f.reserveGeneral(t, 3)
	require.Equal(t, "auto", res.Booking.DiscountID)

	b, err := f.status.ApplyPaymentStatus(context.Background(), res.Booking.ID, domain.PaymentStatusFailed, "")
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusFailed, b.PaymentStatus)
	assert.Equal(t, domain.BookingStatusCancelled, b.Status)
	assert.Equal(t, 0, f.ticketType(t, "general").QuantitySold)
	d, err := f.store.GetDiscount("auto")
	require.NoError(t, err)
	assert.Equal(t, 0, d.CurrentUses)
	assert.Contains(t, f.templates(), string(domain.TemplatePaymentFailed))
}

func TestApplyPaymentStatus_IllegalTransition(t *testing.T) {
	f := newFixture(t)
	res := f.reserveGeneral(t, 1)

	_, err := f.status.ApplyPaymentStatus(context.Background(), res.Booking.ID, domain.PaymentStatusRefunded, "")
	assert.ErrorIs(t, err, domain.ErrInvalidStatusTransition)

	b, err := f.store.GetBooking(context.Background(), res.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPending, b.PaymentStatus)
}
