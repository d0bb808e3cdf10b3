package di

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/reservation-engine/internal/clock"
	"github.com/prohmpiriya/reservation-engine/internal/gateway"
	"github.com/prohmpiriya/reservation-engine/internal/handler"
	"github.com/prohmpiriya/reservation-engine/internal/repository"
	"github.com/prohmpiriya/reservation-engine/internal/service"
	"github.com/prohmpiriya/reservation-engine/pkg/config"
	"github.com/prohmpiriya/reservation-engine/pkg/database"
	"github.com/prohmpiriya/reservation-engine/pkg/logger"
	"github.com/prohmpiriya/reservation-engine/pkg/middleware"
	"github.com/prohmpiriya/reservation-engine/pkg/redis"
)

// Container holds all dependencies for the reservation engine
type Container struct {
	// Infrastructure
	DB    *database.PostgresDB
	Redis *redis.Client

	// Repositories
	Store  repository.Store
	Outbox repository.OutboxRepository
	Cache  repository.AvailabilityCache

	// Collaborators
	Gateway gateway.PaymentGateway
	Queue   service.NotificationQueue

	// Services
	Reservations  service.ReservationEngine
	Cancellations service.CancellationEngine
	Status        service.StatusService
	Payments      service.PaymentService
	Queries       service.BookingQueryService
	Availability  service.AvailabilityService

	// Handlers
	HealthHandler       *handler.HealthHandler
	BookingHandler      *handler.BookingHandler
	AvailabilityHandler *handler.AvailabilityHandler
	Router              *gin.Engine
}

// ContainerConfig contains configuration for building the container.
// DB and Redis may be nil; Store and Outbox are required.
type ContainerConfig struct {
	Config *config.Config
	DB     *database.PostgresDB
	Redis  *redis.Client
	Store  repository.Store
	Outbox repository.OutboxRepository
	// Gateway overrides the provider selected by Config.Payment
	Gateway gateway.PaymentGateway
	Clock   clock.Clock
	Logger  *logger.Logger
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *ContainerConfig) (*Container, error) {
	if cfg.Config == nil || cfg.Store == nil || cfg.Outbox == nil {
		return nil, fmt.Errorf("container requires config, store and outbox")
	}
	app := cfg.Config
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Get()
	}

	c := &Container{
		DB:     cfg.DB,
		Redis:  cfg.Redis,
		Store:  cfg.Store,
		Outbox: cfg.Outbox,
		Cache:  repository.NoopAvailabilityCache{},
	}
	if cfg.Redis != nil {
		c.Cache = repository.NewRedisAvailabilityCache(cfg.Redis, app.Cache.AvailabilityTTL)
	}

	c.Gateway = cfg.Gateway
	if c.Gateway == nil {
		gw, err := gateway.NewPaymentGateway(&gateway.Config{
			Provider:        app.Payment.Provider,
			StripeSecretKey: app.Payment.StripeSecretKey,
			MockSuccessRate: app.Payment.MockSuccessRate,
			MockDelay:       app.Payment.MockDelay,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create payment gateway: %w", err)
		}
		c.Gateway = gw
	}

	c.Queue = service.NewOutboxNotificationQueue(c.Outbox, app.Notification.Topic, app.Notification.MaxRetries)

	// Initialize services
	engine := service.NewReservationEngine(c.Store, c.Cache, c.Queue, &service.ReservationEngineConfig{
		FeePercent:      app.Reservation.FeePercent,
		DefaultCurrency: strings.ToUpper(app.Payment.Currency),
		MaxTickets:      app.Reservation.MaxTickets,
		Clock:           clk,
		Logger:          log,
	})
	c.Reservations = service.NewRetryCoordinator(engine, RetryPolicy(&app.Reservation), log)
	c.Cancellations = service.NewCancellationEngine(c.Store, c.Gateway, c.Cache, c.Queue, &service.CancellationEngineConfig{
		Policy: RefundPolicy(&app.Reservation),
		Clock:  clk,
		Logger: log,
	})
	c.Status = service.NewStatusService(c.Store, c.Cache, c.Queue, clk, log)
	c.Payments = service.NewPaymentService(c.Store, c.Gateway, clk, log)
	c.Queries = service.NewBookingQueryService(c.Store)
	c.Availability = service.NewAvailabilityService(c.Store, c.Cache, clk, log)

	// Initialize handlers
	components := map[string]handler.HealthChecker{"database": nil, "redis": nil}
	if c.DB != nil {
		components["database"] = c.DB
	}
	if c.Redis != nil {
		components["redis"] = c.Redis
	}
	c.HealthHandler = handler.NewHealthHandler(components)
	c.BookingHandler = handler.NewBookingHandler(c.Reservations, c.Cancellations, c.Status, c.Payments, c.Queries)
	c.AvailabilityHandler = handler.NewAvailabilityHandler(c.Availability)

	idempotency := middleware.DefaultIdempotencyConfig(nil)
	if c.Redis != nil {
		idempotency = middleware.DefaultIdempotencyConfig(c.Redis.Client())
	}
	c.Router = handler.NewRouter(&handler.RouterConfig{
		Booking:      c.BookingHandler,
		Availability: c.AvailabilityHandler,
		Health:       c.HealthHandler,
		Idempotency:  idempotency,
		Tracing:      app.OTel.Enabled,
	})

	return c, nil
}

// RetryPolicy builds the reservation retry policy from config
func RetryPolicy(cfg *config.ReservationConfig) service.RetryPolicy {
	policy := service.DefaultRetryPolicy()
	if cfg.RetryMaxRetries > 0 {
		policy.MaxRetries = cfg.RetryMaxRetries
	}
	if cfg.RetryBaseInterval > 0 {
		policy.BaseInterval = cfg.RetryBaseInterval
	}
	if cfg.RetryJitter > 0 {
		policy.JitterWindow = cfg.RetryJitter
	}
	policy.RetryOnInventory = cfg.RetryOnInventory
	return policy
}

// RefundPolicy builds the refund bands from config, falling back to the
// 48h/24h/2h defaults when no band is configured.
func RefundPolicy(cfg *config.ReservationConfig) service.RefundPolicy {
	if cfg.RefundFullHours <= 0 && cfg.RefundPartialHours <= 0 && cfg.RefundHalfHours <= 0 {
		return service.DefaultRefundPolicy()
	}
	var bands []service.RefundBand
	if cfg.RefundFullHours > 0 {
		bands = append(bands, service.RefundBand{Before: cfg.RefundFullHours, Percent: 100})
	}
	if cfg.RefundPartialHours > 0 {
		bands = append(bands, service.RefundBand{Before: cfg.RefundPartialHours, Percent: cfg.RefundPartialPct})
	}
	if cfg.RefundHalfHours > 0 {
		bands = append(bands, service.RefundBand{Before: cfg.RefundHalfHours, Percent: cfg.RefundHalfPct})
	}
	return service.NewRefundPolicy(bands)
}
