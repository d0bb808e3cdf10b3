package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/reservation-engine/pkg/middleware"
	"github.com/prohmpiriya/reservation-engine/pkg/telemetry"
)

// RouterConfig holds the handlers and middleware a router is built from
type RouterConfig struct {
	Booking      *BookingHandler
	Availability *AvailabilityHandler
	Health       *HealthHandler
	// Idempotency configures response replay; nil disables it
	Idempotency *middleware.IdempotencyConfig
	Tracing     bool
}

// NewRouter registers the /api/v1 routes
func NewRouter(cfg *RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Tracing {
		router.Use(telemetry.TracingMiddleware())
	}

	router.GET("/health", cfg.Health.Health)
	router.GET("/ready", cfg.Health.Ready)

	idempotency := middleware.DefaultIdempotencyConfig(nil)
	if cfg.Idempotency != nil {
		cp := *cfg.Idempotency
		idempotency = &cp
	}
	// Reservations dedupe on the stored booking key instead of the replay cache
	idempotency.SkipPaths = append(idempotency.SkipPaths, "/api/v1/bookings")

	v1 := router.Group("/api/v1")
	{
		events := v1.Group("/events")
		events.GET("/:id/availability", cfg.Availability.EventAvailability)

		showtimes := v1.Group("/showtimes")
		showtimes.GET("/:id/availability", cfg.Availability.ShowtimeAvailability)

		bookings := v1.Group("/bookings")
		bookings.Use(middleware.Identity(), middleware.Idempotency(idempotency))
		{
			bookings.POST("", cfg.Booking.Reserve)
			bookings.GET("/:id", cfg.Booking.GetBooking)
			bookings.POST("/:id/cancel", cfg.Booking.Cancel)
			bookings.POST("/:id/status", cfg.Booking.TransitionStatus)
			bookings.POST("/:id/checkout", cfg.Booking.Checkout)
			bookings.POST("/:id/payment-status", cfg.Booking.ApplyPaymentStatus)
		}
	}

	return router
}
