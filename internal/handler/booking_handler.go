package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
	"github.com/prohmpiriya/reservation-engine/internal/dto"
	"github.com/prohmpiriya/reservation-engine/internal/service"
	"github.com/prohmpiriya/reservation-engine/pkg/middleware"
	"github.com/prohmpiriya/reservation-engine/pkg/response"
	"github.com/prohmpiriya/reservation-engine/pkg/telemetry"
)

// BookingHandler handles booking HTTP requests
type BookingHandler struct {
	reservations  service.ReservationEngine
	cancellations service.CancellationEngine
	status        service.StatusService
	payments      service.PaymentService
	queries       service.BookingQueryService
}

// NewBookingHandler creates a new booking handler
func NewBookingHandler(
	reservations service.ReservationEngine,
	cancellations service.CancellationEngine,
	status service.StatusService,
	payments service.PaymentService,
	queries service.BookingQueryService,
) *BookingHandler {
	return &BookingHandler{
		reservations:  reservations,
		cancellations: cancellations,
		status:        status,
		payments:      payments,
		queries:       queries,
	}
}

// Reserve handles POST /bookings
func (h *BookingHandler) Reserve(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.reserve")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, _ := middleware.GetUserID(c)

	var req dto.ReserveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.SetStatus(codes.Error, "invalid request")
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	if key, ok := middleware.GetIdempotencyKey(c); ok {
		req.IdempotencyKey = key
	}

	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.String("kind", req.Kind),
		attribute.String("target_id", req.TargetID),
	)

	result, err := h.reservations.Reserve(ctx, req.ToService(userID))
	if err != nil {
		telemetry.SetSpanError(span, err)
		handleError(c, err)
		return
	}

	span.SetAttributes(attribute.String("booking_id", result.Booking.ID))
	span.SetStatus(codes.Ok, "")
	if result.Replayed {
		response.Success(c, dto.FromReserveResult(result))
		return
	}
	response.Created(c, dto.FromReserveResult(result))
}

// GetBooking handles GET /bookings/:id
func (h *BookingHandler) GetBooking(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	view, err := h.queries.GetBooking(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, dto.FromDomain(view.Booking, view.Tickets))
}

// Cancel handles POST /bookings/:id/cancel
func (h *BookingHandler) Cancel(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.cancel")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, _ := middleware.GetUserID(c)
	bookingID := c.Param("id")

	var req dto.CancelRequest
	// Body is optional
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
	}

	span.SetAttributes(
		attribute.String("booking_id", bookingID),
		attribute.Bool("refund_requested", req.RefundRequested),
	)

	result, err := h.cancellations.Cancel(ctx, &service.CancelRequest{
		BookingID:       bookingID,
		CustomerID:      userID,
		RefundRequested: req.RefundRequested,
		Reason:          req.Reason,
	})
	if err != nil {
		telemetry.SetSpanError(span, err)
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, dto.FromCancelResult(result))
}

// TransitionStatus handles POST /bookings/:id/status
func (h *BookingHandler) TransitionStatus(c *gin.Context) {
	var req dto.StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	to := domain.BookingStatus(req.Status)
	if !to.IsValid() {
		handleError(c, domain.NewValidationError("status", "unknown booking status "+req.Status))
		return
	}

	b, err := h.status.TransitionStatus(c.Request.Context(), c.Param("id"), to)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, dto.FromDomain(b, nil))
}

// Checkout handles POST /bookings/:id/checkout
func (h *BookingHandler) Checkout(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.booking.checkout")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, _ := middleware.GetUserID(c)
	bookingID := c.Param("id")
	span.SetAttributes(attribute.String("booking_id", bookingID))

	result, err := h.payments.StartCheckout(ctx, bookingID, userID)
	if err != nil {
		telemetry.SetSpanError(span, err)
		handleError(c, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	response.Success(c, dto.FromCheckoutResult(result))
}

// ApplyPaymentStatus handles POST /bookings/:id/payment-status
func (h *BookingHandler) ApplyPaymentStatus(c *gin.Context) {
	var req dto.PaymentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	to := domain.PaymentStatus(req.Status)
	if !to.IsValid() {
		handleError(c, domain.NewValidationError("status", "unknown payment status "+req.Status))
		return
	}

	b, err := h.status.ApplyPaymentStatus(c.Request.Context(), c.Param("id"), to, req.PaymentRef)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, dto.FromDomain(b, nil))
}
