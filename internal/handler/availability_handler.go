package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/reservation-engine/internal/service"
	"github.com/prohmpiriya/reservation-engine/pkg/response"
)

// AvailabilityHandler serves advisory availability snapshots
type AvailabilityHandler struct {
	availability service.AvailabilityService
}

// NewAvailabilityHandler creates a new availability handler
func NewAvailabilityHandler(availability service.AvailabilityService) *AvailabilityHandler {
	return &AvailabilityHandler{availability: availability}
}

// EventAvailability handles GET /events/:id/availability
func (h *AvailabilityHandler) EventAvailability(c *gin.Context) {
	a, err := h.availability.EventAvailability(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, a)
}

// ShowtimeAvailability handles GET /showtimes/:id/availability
func (h *AvailabilityHandler) ShowtimeAvailability(c *gin.Context) {
	a, err := h.availability.ShowtimeAvailability(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, a)
}
