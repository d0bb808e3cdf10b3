package dto

import (
	"time"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
	"github.com/prohmpiriya/reservation-engine/internal/pricing"
	"github.com/prohmpiriya/reservation-engine/internal/service"
)

// SelectionRequest asks for a quantity of one ticket type
type SelectionRequest struct {
	TicketTypeID string `json:"ticket_type_id" binding:"required"`
	Quantity     int    `json:"quantity"`
}

// ReserveRequest represents request to reserve an event or a showtime
type ReserveRequest struct {
	Kind           string             `json:"kind" binding:"required"`
	TargetID       string             `json:"target_id" binding:"required"`
	Selections     []SelectionRequest `json:"selections,omitempty"`
	Seats          []string           `json:"seats,omitempty"`
	PromoCode      string             `json:"promo_code,omitempty"`
	IdempotencyKey string             `json:"idempotency_key,omitempty"`
}

// ToService converts the request for the reservation engine
func (r *ReserveRequest) ToService(customerID string) *service.ReserveRequest {
	selections := make([]service.Selection, 0, len(r.Selections))
	for _, s := range r.Selections {
		selections = append(selections, service.Selection{TicketTypeID: s.TicketTypeID, Quantity: s.Quantity})
	}
	return &service.ReserveRequest{
		CustomerID:     customerID,
		Kind:           domain.BookingKind(r.Kind),
		TargetID:       r.TargetID,
		Selections:     selections,
		Seats:          r.Seats,
		PromoCode:      r.PromoCode,
		IdempotencyKey: r.IdempotencyKey,
	}
}

// CancelRequest represents request to cancel a booking
type CancelRequest struct {
	RefundRequested bool   `json:"refund_requested"`
	Reason          string `json:"reason,omitempty"`
}

// StatusRequest represents a booking status transition
type StatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// PaymentStatusRequest represents a payment status update from the provider
type PaymentStatusRequest struct {
	Status     string `json:"status" binding:"required"`
	PaymentRef string `json:"payment_ref,omitempty"`
}

// TicketResponse represents a ticket line in API response
type TicketResponse struct {
	ID           string       `json:"id"`
	TicketNumber string       `json:"ticket_number"`
	TicketTypeID string       `json:"ticket_type_id,omitempty"`
	SeatID       string       `json:"seat_id,omitempty"`
	Price        domain.Money `json:"price"`
	Status       string       `json:"status"`
}

// BookingResponse represents a booking in API response
type BookingResponse struct {
	ID                 string           `json:"id"`
	Reference          string           `json:"reference"`
	CustomerID         string           `json:"customer_id"`
	Kind               string           `json:"kind"`
	TargetID           string           `json:"target_id"`
	Status             string           `json:"status"`
	PaymentStatus      string           `json:"payment_status"`
	Currency           string           `json:"currency"`
	Subtotal           domain.Money     `json:"subtotal"`
	DiscountAmount     domain.Money     `json:"discount_amount"`
	Fees               domain.Money     `json:"fees"`
	Total              domain.Money     `json:"total"`
	DiscountID         string           `json:"discount_id,omitempty"`
	PaymentRef         string           `json:"payment_ref,omitempty"`
	RefundAmount       domain.Money     `json:"refund_amount"`
	CancellationReason string           `json:"cancellation_reason,omitempty"`
	ConfirmedAt        *time.Time       `json:"confirmed_at,omitempty"`
	CancelledAt        *time.Time       `json:"cancelled_at,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	Tickets            []TicketResponse `json:"tickets,omitempty"`
}

// ReserveResponse represents response after a reservation
type ReserveResponse struct {
	Booking   *BookingResponse `json:"booking"`
	Breakdown []pricing.Line   `json:"breakdown,omitempty"`
	Replayed  bool             `json:"replayed"`
}

// CancelResponse represents response after a cancellation
type CancelResponse struct {
	BookingID     string       `json:"booking_id"`
	Status        string       `json:"status"`
	RefundAmount  domain.Money `json:"refund_amount"`
	RefundPercent int          `json:"refund_percent"`
	RefundStatus  string       `json:"refund_status"`
	RefundID      string       `json:"refund_id,omitempty"`
}

// CheckoutResponse represents a started checkout
type CheckoutResponse struct {
	BookingID    string       `json:"booking_id"`
	IntentID     string       `json:"intent_id"`
	ClientSecret string       `json:"client_secret"`
	Amount       domain.Money `json:"amount"`
	Currency     string       `json:"currency"`
}

// FromDomain converts domain Booking to BookingResponse
func FromDomain(b *domain.Booking, tickets []*domain.TicketLine) *BookingResponse {
	resp := &BookingResponse{
		ID:                 b.ID,
		Reference:          b.Reference,
		CustomerID:         b.CustomerID,
		Kind:               b.Target.Kind().String(),
		TargetID:           b.Target.ID(),
		Status:             b.Status.String(),
		PaymentStatus:      b.PaymentStatus.String(),
		Currency:           b.Currency,
		Subtotal:           b.Subtotal,
		DiscountAmount:     b.DiscountAmount,
		Fees:               b.Fees,
		Total:              b.Total,
		DiscountID:         b.DiscountID,
		PaymentRef:         b.PaymentRef,
		RefundAmount:       b.RefundAmount,
		CancellationReason: b.CancellationReason,
		ConfirmedAt:        b.ConfirmedAt,
		CancelledAt:        b.CancelledAt,
		CreatedAt:          b.CreatedAt,
	}
	for _, t := range tickets {
		resp.Tickets = append(resp.Tickets, TicketResponse{
			ID:           t.ID,
			TicketNumber: t.TicketNumber,
			TicketTypeID: t.TicketTypeID,
			SeatID:       t.SeatID,
			Price:        t.Price,
			Status:       t.Status.String(),
		})
	}
	return resp
}

// FromReserveResult converts an engine result
func FromReserveResult(r *service.ReserveResult) *ReserveResponse {
	return &ReserveResponse{
		Booking:   FromDomain(r.Booking, r.Tickets),
		Breakdown: r.Breakdown,
		Replayed:  r.Replayed,
	}
}

// FromCancelResult converts a cancellation result
func FromCancelResult(r *service.CancelResult) *CancelResponse {
	resp := &CancelResponse{
		BookingID:     r.BookingID,
		RefundAmount:  r.RefundAmount,
		RefundPercent: r.RefundPercent,
		RefundStatus:  string(r.RefundStatus),
		RefundID:      r.RefundID,
	}
	if r.Booking != nil {
		resp.Status = r.Booking.Status.String()
	}
	return resp
}

// FromCheckoutResult converts a checkout result
func FromCheckoutResult(r *service.CheckoutResult) *CheckoutResponse {
	return &CheckoutResponse{
		BookingID:    r.BookingID,
		IntentID:     r.IntentID,
		ClientSecret: r.ClientSecret,
		Amount:       r.Amount,
		Currency:     r.Currency,
	}
}
