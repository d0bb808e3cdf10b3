package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/prohmpiriya/reservation-engine/internal/metrics"
	"github.com/prohmpiriya/reservation-engine/internal/repository"
	"github.com/prohmpiriya/reservation-engine/internal/worker"
	"github.com/prohmpiriya/reservation-engine/pkg/config"
	"github.com/prohmpiriya/reservation-engine/pkg/database"
	"github.com/prohmpiriya/reservation-engine/pkg/kafka"
	"github.com/prohmpiriya/reservation-engine/pkg/logger"
	"github.com/prohmpiriya/reservation-engine/pkg/retry"
	"github.com/prohmpiriya/reservation-engine/pkg/telemetry"
)

const serviceName = "notification-worker"

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
	appLog.Info("Starting Notification Worker...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    serviceName,
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

	// Initialize database connection
	dbCfg := database.DefaultPostgresConfig()
	dbCfg.Host = cfg.Database.Host
	dbCfg.Port = cfg.Database.Port
	dbCfg.User = cfg.Database.User
	dbCfg.Password = cfg.Database.Password
	dbCfg.Database = cfg.Database.DBName
	dbCfg.SSLMode = cfg.Database.SSLMode
	dbCfg.MaxConns = 10
	dbCfg.MinConns = 2
	db, err := database.NewPostgres(ctx, dbCfg)
	if err != nil {
		appLog.Fatal("Failed to connect to database", "error", err)
	}
	defer db.Close()
	appLog.Info("Database connected")

	// Initialize Kafka producer
	producer, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
		Brokers:       cfg.Kafka.Brokers,
		ClientID:      serviceName,
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
	})
	if err != nil {
		appLog.Fatal("Failed to create Kafka producer", "error", err)
	}
	defer producer.Close()
	appLog.Info("Kafka producer connected", "brokers", cfg.Kafka.Brokers)

	dlq := retry.NewKafkaDLQPublisher(producer, &retry.DLQConfig{Source: serviceName})

	relay := worker.NewNotificationWorker(
		repository.NewPostgresOutboxRepository(db.Pool()),
		producer,
		dlq,
		&worker.NotificationWorkerConfig{
			PollInterval:         cfg.Notification.PollInterval,
			BatchSize:            cfg.Notification.BatchSize,
			RetryInterval:        cfg.Notification.RetryInterval,
			CleanupInterval:      cfg.Notification.CleanupInterval,
			CleanupRetentionDays: cfg.Notification.CleanupRetentionDays,
		},
	).WithLogger(appLog)

	if err := relay.Start(ctx); err != nil {
		appLog.Fatal("Failed to start notification worker", "error", err)
	}

	<-ctx.Done()
	appLog.Info("Shutting down notification worker...")
	relay.Stop()
}
