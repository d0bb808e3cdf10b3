package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/prohmpiriya/reservation-engine/internal/di"
	"github.com/prohmpiriya/reservation-engine/internal/metrics"
	"github.com/prohmpiriya/reservation-engine/internal/repository"
	"github.com/prohmpiriya/reservation-engine/internal/worker"
	"github.com/prohmpiriya/reservation-engine/pkg/config"
	"github.com/prohmpiriya/reservation-engine/pkg/database"
	"github.com/prohmpiriya/reservation-engine/pkg/kafka"
	"github.com/prohmpiriya/reservation-engine/pkg/logger"
	pkgredis "github.com/prohmpiriya/reservation-engine/pkg/redis"
	"github.com/prohmpiriya/reservation-engine/pkg/retry"
	"github.com/prohmpiriya/reservation-engine/pkg/telemetry"
)

const serviceName = "reservation-engine"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	if err := logger.Init(&logger.Config{
		Level:       cfg.App.LogLevel,
		ServiceName: serviceName,
		Development: cfg.IsDevelopment(),
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting Reservation Engine...", "version", cfg.App.Version, "store", cfg.Store.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize tracing and metrics
	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	}); err != nil {
		appLog.Fatal("Failed to initialize telemetry", "error", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = telemetry.Shutdown(shutdownCtx)
	}()
	if err := metrics.Init(); err != nil {
		appLog.Warn("Failed to initialize metrics", "error", err)
	}

	containerCfg := &di.ContainerConfig{Config: cfg}
	var memoryOutbox *repository.MemoryOutboxRepository

	// Initialize store
	switch cfg.Store.Driver {
	case "memory":
		store := repository.NewMemoryStore()
		if cfg.Store.SeedFile != "" {
			if err := loadSeed(store, cfg.Store.SeedFile); err != nil {
				appLog.Fatal("Failed to load seed file", "path", cfg.Store.SeedFile, "error", err)
			}
			appLog.Info("Seed data loaded", "path", cfg.Store.SeedFile)
		}
		memoryOutbox = repository.NewMemoryOutboxRepository()
		containerCfg.Store = store
		containerCfg.Outbox = memoryOutbox
		appLog.Warn("Using in-memory store; data is lost on restart")
	default:
		db, err := database.NewPostgres(ctx, postgresConfig(cfg))
		if err != nil {
			appLog.Fatal("Database connection failed", "error", err)
		}
		defer db.Close()
		appLog.Info("Database connected", "host", cfg.Database.Host, "database", cfg.Database.DBName)

		if cfg.Database.AutoMigrate {
			if err := repository.Migrate(ctx, db.Pool()); err != nil {
				appLog.Fatal("Database migration failed", "error", err)
			}
		}
		containerCfg.DB = db
		containerCfg.Store = repository.NewPostgresStore(db.Pool(), repository.WithLockTimeout(cfg.Store.LockTimeout))
		containerCfg.Outbox = repository.NewPostgresOutboxRepository(db.Pool())
	}

	// Initialize Redis (optional availability cache and idempotency replay)
	if cfg.Redis.Enabled {
		redisClient, err := pkgredis.NewClient(ctx, redisConfig(cfg))
		if err != nil {
			appLog.Warn("Redis connection failed, running without cache", "error", err)
		} else {
			defer redisClient.Close()
			containerCfg.Redis = redisClient
			appLog.Info("Redis connected", "addr", cfg.Redis.Addr())
		}
	}

	container, err := di.NewContainer(containerCfg)
	if err != nil {
		appLog.Fatal("Failed to build container", "error", err)
	}
	appLog.Info("Payment gateway selected", "provider", container.Gateway.Name())

	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           container.Router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: 2 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		appLog.Info("Reservation Engine listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	// The memory outbox is process-local, so its relay runs here
	if memoryOutbox != nil {
		if relay := startInProcessRelay(gctx, cfg, memoryOutbox, appLog); relay != nil {
			g.Go(func() error {
				<-gctx.Done()
				relay()
				return nil
			})
		}
	}

	g.Go(func() error {
		<-gctx.Done()
		appLog.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		appLog.Error("Reservation Engine stopped with error", "error", err)
		return
	}
	appLog.Info("Server exited gracefully")
}

func loadSeed(store *repository.MemoryStore, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return store.LoadSeed(f)
}

// startInProcessRelay runs a NotificationWorker over the memory outbox and
// returns its stop function, or nil when Kafka is unreachable.
func startInProcessRelay(ctx context.Context, cfg *config.Config, outbox *repository.MemoryOutboxRepository, appLog *logger.Logger) func() {
	producer, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
		Brokers:  cfg.Kafka.Brokers,
		ClientID: cfg.Kafka.ClientID,
	})
	if err != nil {
		appLog.Warn("Kafka unavailable, notifications stay in the in-memory outbox", "error", err)
		return nil
	}

	dlq := retry.NewKafkaDLQPublisher(producer, &retry.DLQConfig{Source: serviceName})
	relay := worker.NewNotificationWorker(outbox, producer, dlq, workerConfig(cfg)).WithLogger(appLog)
	if err := relay.Start(ctx); err != nil {
		appLog.Warn("Failed to start notification relay", "error", err)
		producer.Close()
		return nil
	}
	return func() {
		relay.Stop()
		producer.Close()
	}
}

func workerConfig(cfg *config.Config) *worker.NotificationWorkerConfig {
	return &worker.NotificationWorkerConfig{
		PollInterval:         cfg.Notification.PollInterval,
		BatchSize:            cfg.Notification.BatchSize,
		RetryInterval:        cfg.Notification.RetryInterval,
		CleanupInterval:      cfg.Notification.CleanupInterval,
		CleanupRetentionDays: cfg.Notification.CleanupRetentionDays,
	}
}

func postgresConfig(cfg *config.Config) *database.PostgresConfig {
	dbCfg := database.DefaultPostgresConfig()
	dbCfg.Host = cfg.Database.Host
	dbCfg.Port = cfg.Database.Port
	dbCfg.User = cfg.Database.User
	dbCfg.Password = cfg.Database.Password
	dbCfg.Database = cfg.Database.DBName
	dbCfg.SSLMode = cfg.Database.SSLMode
	dbCfg.MaxConns = int32(cfg.Database.MaxOpenConns)
	dbCfg.MinConns = int32(cfg.Database.MaxIdleConns)
	dbCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	dbCfg.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime
	dbCfg.EnableTracing = cfg.OTel.Enabled
	return dbCfg
}

func redisConfig(cfg *config.Config) *pkgredis.Config {
	redisCfg := pkgredis.DefaultConfig()
	redisCfg.Host = cfg.Redis.Host
	redisCfg.Port = cfg.Redis.Port
	redisCfg.Password = cfg.Redis.Password
	redisCfg.DB = cfg.Redis.DB
	redisCfg.PoolSize = cfg.Redis.PoolSize
	redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
	redisCfg.DialTimeout = cfg.Redis.DialTimeout
	redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
	redisCfg.WriteTimeout = cfg.Redis.WriteTimeout
	return redisCfg
}
