package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/reservation-engine/internal/domain"
	"github.com/prohmpiriya/reservation-engine/pkg/logger"
	"github.com/prohmpiriya/reservation-engine/pkg/response"
)

// handleError maps engine errors to HTTP responses
func handleError(c *gin.Context, err error) {
	var (
		validationErr   *domain.ValidationError
		invalidSeatErr  *domain.InvalidSeatError
		unavailableErr  *domain.SeatUnavailableError
		insufficientErr *domain.InsufficientInventoryError
		transitionErr   *domain.StatusTransitionError
	)

	switch {
	case errors.Is(err, domain.ErrInvariantViolation):
		logger.Get().Error("Invariant violation", "path", c.FullPath(), "error", err)
		response.InternalError(c)

	case errors.As(err, &validationErr):
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(),
			gin.H{"field": validationErr.Field})
	case errors.Is(err, domain.ErrValidation):
		response.Error(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
	case errors.As(err, &invalidSeatErr):
		response.Error(c, http.StatusBadRequest, "INVALID_SEAT", err.Error(),
			gin.H{"seats": invalidSeatErr.Seats})
	case errors.Is(err, domain.ErrNotBookable):
		response.Error(c, http.StatusUnprocessableEntity, "NOT_BOOKABLE", err.Error(), nil)

	case errors.As(err, &insufficientErr):
		response.Error(c, http.StatusConflict, "SOLD_OUT", err.Error(), gin.H{
			"ticket_type_id": insufficientErr.TicketTypeID,
			"requested":      insufficientErr.Requested,
			"remaining":      insufficientErr.Remaining,
		})
	case errors.Is(err, domain.ErrInsufficientInventory):
		response.Error(c, http.StatusConflict, "SOLD_OUT", err.Error(), nil)
	case errors.As(err, &unavailableErr):
		response.Error(c, http.StatusConflict, "SEAT_UNAVAILABLE", err.Error(),
			gin.H{"seats": unavailableErr.Seats})
	case errors.Is(err, domain.ErrContention):
		response.Error(c, http.StatusServiceUnavailable, "CONTENTION", "Too many concurrent requests, please retry", nil)

	case errors.Is(err, domain.ErrNotRefundable):
		response.Error(c, http.StatusUnprocessableEntity, "NOT_REFUNDABLE", err.Error(), nil)
	case errors.Is(err, domain.ErrAlreadyTerminal):
		response.Error(c, http.StatusConflict, "ALREADY_TERMINAL", err.Error(), nil)
	case errors.As(err, &transitionErr):
		response.Error(c, http.StatusConflict, "INVALID_STATUS_TRANSITION", err.Error(), gin.H{
			"machine": transitionErr.Machine,
			"from":    transitionErr.From,
			"to":      transitionErr.To,
		})

	case errors.Is(err, domain.ErrRefundFailed):
		response.Error(c, http.StatusBadGateway, "REFUND_FAILED", err.Error(), nil)
	case errors.Is(err, domain.ErrPaymentFailed):
		response.Error(c, http.StatusBadGateway, "PAYMENT_GATEWAY_ERROR", err.Error(), nil)

	case domain.IsNotFound(err):
		response.NotFound(c, err.Error())

	default:
		logger.Get().Error("Unhandled request error", "path", c.FullPath(), "error", err)
		response.InternalError(c)
	}
}
