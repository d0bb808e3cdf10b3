package domain

import "time"

// NotificationTemplate selects the message a notification renders
type NotificationTemplate string

const (
	TemplateBookingConfirmation NotificationTemplate = "booking_confirmation"
	TemplateBookingCancellation NotificationTemplate = "booking_cancellation"
	TemplatePaymentReceived     NotificationTemplate = "payment_received"
	TemplatePaymentFailed       NotificationTemplate = "payment_failed"
)

// Notification is an asynchronous message to a customer about a booking
type Notification struct {
	UserID     string                 `json:"user_id"`
	Template   NotificationTemplate   `json:"template"`
	Context    map[string]interface{} `json:"context"`
	RelatedRef string                 `json:"related_ref"`
	CreatedAt  time.Time              `json:"created_at"`
}

// BookingNotification builds a notification carrying the booking summary
func BookingNotification(template NotificationTemplate, b *Booking, at time.Time) *Notification {
	return &Notification{
		UserID:   b.CustomerID,
		Template: template,
		Context: map[string]interface{}{
			"booking_id":     b.ID,
			"reference":      b.Reference,
			"kind":           b.Target.Kind().String(),
			"target_id":      b.Target.ID(),
			"total":          b.Total.String(),
			"currency":       b.Currency,
			"status":         b.Status.String(),
			"payment_status": b.PaymentStatus.String(),
			"refund_amount":  b.RefundAmount.String(),
		},
		RelatedRef: b.ID,
		CreatedAt:  at,
	}
}
