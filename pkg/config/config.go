package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Server       ServerConfig       `mapstructure:"server"`
	Store        StoreConfig        `mapstructure:"store"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	OTel         OTelConfig         `mapstructure:"otel"`
	Payment      PaymentConfig      `mapstructure:"payment"`
	Reservation  ReservationConfig  `mapstructure:"reservation"`
	Notification NotificationConfig `mapstructure:"notification"`
	Cache        CacheConfig        `mapstructure:"cache"`
}

// AppConfig holds application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	Debug       bool   `mapstructure:"debug"`
	Version     string `mapstructure:"version"`
	LogLevel    string `mapstructure:"log_level"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the listen address
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StoreConfig selects the backing store
type StoreConfig struct {
	Driver      string        `mapstructure:"driver"` // postgres, memory
	SeedFile    string        `mapstructure:"seed_file"`
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the Redis address
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// KafkaConfig holds Kafka/Redpanda connection settings
type KafkaConfig struct {
	Brokers  []string `mapstructure:"brokers"`
	ClientID string   `mapstructure:"client_id"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	ServiceName   string  `mapstructure:"service_name"`
	CollectorAddr string  `mapstructure:"collector_addr"`
	SampleRatio   float64 `mapstructure:"sample_ratio"`
}

// PaymentConfig selects and configures the payment gateway
type PaymentConfig struct {
	Provider        string        `mapstructure:"provider"` // mock, stripe
	Currency        string        `mapstructure:"currency"`
	StripeSecretKey string        `mapstructure:"stripe_secret_key"`
	MockSuccessRate float64       `mapstructure:"mock_success_rate"`
	MockDelay       time.Duration `mapstructure:"mock_delay"`
}

// ReservationConfig holds pricing, retry and refund policy settings
type ReservationConfig struct {
	FeePercent        float64       `mapstructure:"fee_percent"`
	RetryMaxRetries   int           `mapstructure:"retry_max_retries"`
	RetryBaseInterval time.Duration `mapstructure:"retry_base_interval"`
	RetryJitter       time.Duration `mapstructure:"retry_jitter"`
	RetryOnInventory  bool          `mapstructure:"retry_on_inventory"`
	MaxTickets        int           `mapstructure:"max_tickets"`

	// Refund bands, widest first
	RefundFullHours    time.Duration `mapstructure:"refund_full_hours"`
	RefundPartialHours time.Duration `mapstructure:"refund_partial_hours"`
	RefundHalfHours    time.Duration `mapstructure:"refund_half_hours"`
	RefundPartialPct   int           `mapstructure:"refund_partial_pct"`
	RefundHalfPct      int           `mapstructure:"refund_half_pct"`
}

// NotificationConfig holds outbox relay settings
type NotificationConfig struct {
	Topic                string        `mapstructure:"topic"`
	PollInterval         time.Duration `mapstructure:"poll_interval"`
	BatchSize            int           `mapstructure:"batch_size"`
	MaxRetries           int           `mapstructure:"max_retries"`
	RetryInterval        time.Duration `mapstructure:"retry_interval"`
	CleanupInterval      time.Duration `mapstructure:"cleanup_interval"`
	CleanupRetentionDays int           `mapstructure:"cleanup_retention_days"`
}

// CacheConfig holds advisory cache settings
type CacheConfig struct {
	AvailabilityTTL time.Duration `mapstructure:"availability_ttl"`
}

// Load loads configuration from environment variables and .env file
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")

	// .env is optional, environment variables win anyway
	_ = v.ReadInConfig()

	return load(v)
}

// LoadWithPath loads configuration from a specific path
func LoadWithPath(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("env")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	cfg := &Config{}
	bindConfig(v, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("APP_NAME", "reservation-engine")
	v.SetDefault("APP_ENVIRONMENT", "development")
	v.SetDefault("APP_DEBUG", true)
	v.SetDefault("APP_VERSION", "1.0.0")
	v.SetDefault("APP_LOG_LEVEL", "info")

	// Server defaults
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8083)
	v.SetDefault("SERVER_READ_TIMEOUT", "30s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "30s")
	v.SetDefault("SERVER_IDLE_TIMEOUT", "120s")
	v.SetDefault("SERVER_SHUTDOWN_TIMEOUT", "15s")

	v.SetDefault("STORE_DRIVER", "postgres")
	v.SetDefault("STORE_SEED_FILE", "")
	v.SetDefault("STORE_LOCK_TIMEOUT", "5s")

	// Database defaults
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", 5432)
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_PASSWORD", "postgres")
	v.SetDefault("DATABASE_DBNAME", "reservation_db")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("DATABASE_MAX_OPEN_CONNS", 50)
	v.SetDefault("DATABASE_MAX_IDLE_CONNS", 5)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", "1h")
	v.SetDefault("DATABASE_CONN_MAX_IDLE_TIME", "30m")
	v.SetDefault("DATABASE_AUTO_MIGRATE", true)

	// Redis defaults
	v.SetDefault("REDIS_ENABLED", true)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 50)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 5)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_READ_TIMEOUT", "3s")
	v.SetDefault("REDIS_WRITE_TIMEOUT", "3s")

	// Kafka defaults
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_CLIENT_ID", "reservation-engine")

	// OTel defaults
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_SERVICE_NAME", "reservation-engine")
	v.SetDefault("OTEL_COLLECTOR_ADDR", "localhost:4317")
	v.SetDefault("OTEL_SAMPLE_RATIO", 1.0)

	// Payment defaults
	v.SetDefault("PAYMENT_PROVIDER", "mock")
	v.SetDefault("PAYMENT_CURRENCY", "usd")
	v.SetDefault("PAYMENT_STRIPE_SECRET_KEY", "")
	v.SetDefault("PAYMENT_MOCK_SUCCESS_RATE", 1.0)
	v.SetDefault("PAYMENT_MOCK_DELAY", "0s")

	// Reservation defaults
	v.SetDefault("RESERVATION_FEE_PERCENT", 3.0)
	v.SetDefault("RESERVATION_RETRY_MAX_RETRIES", 3)
	v.SetDefault("RESERVATION_RETRY_BASE_INTERVAL", "100ms")
	v.SetDefault("RESERVATION_RETRY_JITTER", "100ms")
	v.SetDefault("RESERVATION_RETRY_ON_INVENTORY", false)
	v.SetDefault("RESERVATION_MAX_TICKETS", 20)
	v.SetDefault("RESERVATION_REFUND_FULL_HOURS", "48h")
	v.SetDefault("RESERVATION_REFUND_PARTIAL_HOURS", "24h")
	v.SetDefault("RESERVATION_REFUND_HALF_HOURS", "2h")
	v.SetDefault("RESERVATION_REFUND_PARTIAL_PCT", 80)
	v.SetDefault("RESERVATION_REFUND_HALF_PCT", 50)

	// Notification outbox defaults
	v.SetDefault("NOTIFICATION_TOPIC", "booking-notifications")
	v.SetDefault("NOTIFICATION_POLL_INTERVAL", "100ms")
	v.SetDefault("NOTIFICATION_BATCH_SIZE", 100)
	v.SetDefault("NOTIFICATION_MAX_RETRIES", 5)
	v.SetDefault("NOTIFICATION_RETRY_INTERVAL", "5s")
	v.SetDefault("NOTIFICATION_CLEANUP_INTERVAL", "1h")
	v.SetDefault("NOTIFICATION_CLEANUP_RETENTION_DAYS", 7)

	v.SetDefault("CACHE_AVAILABILITY_TTL", "30s")
}

func bindConfig(v *viper.Viper, cfg *Config) {
	// App
	cfg.App.Name = v.GetString("APP_NAME")
	cfg.App.Environment = v.GetString("APP_ENVIRONMENT")
	cfg.App.Debug = v.GetBool("APP_DEBUG")
	cfg.App.Version = v.GetString("APP_VERSION")
	cfg.App.LogLevel = v.GetString("APP_LOG_LEVEL")

	// Server
	cfg.Server.Host = v.GetString("SERVER_HOST")
	cfg.Server.Port = v.GetInt("SERVER_PORT")
	cfg.Server.ReadTimeout = v.GetDuration("SERVER_READ_TIMEOUT")
	cfg.Server.WriteTimeout = v.GetDuration("SERVER_WRITE_TIMEOUT")
	cfg.Server.IdleTimeout = v.GetDuration("SERVER_IDLE_TIMEOUT")
	cfg.Server.ShutdownTimeout = v.GetDuration("SERVER_SHUTDOWN_TIMEOUT")

	cfg.Store.Driver = v.GetString("STORE_DRIVER")
	cfg.Store.SeedFile = v.GetString("STORE_SEED_FILE")
	cfg.Store.LockTimeout = v.GetDuration("STORE_LOCK_TIMEOUT")

	// Database
	cfg.Database.Host = v.GetString("DATABASE_HOST")
	cfg.Database.Port = v.GetInt("DATABASE_PORT")
	cfg.Database.User = v.GetString("DATABASE_USER")
	cfg.Database.Password = v.GetString("DATABASE_PASSWORD")
	cfg.Database.DBName = v.GetString("DATABASE_DBNAME")
	cfg.Database.SSLMode = v.GetString("DATABASE_SSLMODE")
	cfg.Database.MaxOpenConns = v.GetInt("DATABASE_MAX_OPEN_CONNS")
	cfg.Database.MaxIdleConns = v.GetInt("DATABASE_MAX_IDLE_CONNS")
	cfg.Database.ConnMaxLifetime = v.GetDuration("DATABASE_CONN_MAX_LIFETIME")
	cfg.Database.ConnMaxIdleTime = v.GetDuration("DATABASE_CONN_MAX_IDLE_TIME")
	cfg.Database.AutoMigrate = v.GetBool("DATABASE_AUTO_MIGRATE")

	// Redis
	cfg.Redis.Enabled = v.GetBool("REDIS_ENABLED")
	cfg.Redis.Host = v.GetString("REDIS_HOST")
	cfg.Redis.Port = v.GetInt("REDIS_PORT")
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")
	cfg.Redis.PoolSize = v.GetInt("REDIS_POOL_SIZE")
	cfg.Redis.MinIdleConns = v.GetInt("REDIS_MIN_IDLE_CONNS")
	cfg.Redis.DialTimeout = v.GetDuration("REDIS_DIAL_TIMEOUT")
	cfg.Redis.ReadTimeout = v.GetDuration("REDIS_READ_TIMEOUT")
	cfg.Redis.WriteTimeout = v.GetDuration("REDIS_WRITE_TIMEOUT")

	// Kafka
	cfg.Kafka.Brokers = strings.Split(v.GetString("KAFKA_BROKERS"), ",")
	cfg.Kafka.ClientID = v.GetString("KAFKA_CLIENT_ID")

	// OTel
	cfg.OTel.Enabled = v.GetBool("OTEL_ENABLED")
	cfg.OTel.ServiceName = v.GetString("OTEL_SERVICE_NAME")
	cfg.OTel.CollectorAddr = v.GetString("OTEL_COLLECTOR_ADDR")
	cfg.OTel.SampleRatio = v.GetFloat64("OTEL_SAMPLE_RATIO")

	// Payment
	cfg.Payment.Provider = v.GetString("PAYMENT_PROVIDER")
	cfg.Payment.Currency = v.GetString("PAYMENT_CURRENCY")
	cfg.Payment.StripeSecretKey = v.GetString("PAYMENT_STRIPE_SECRET_KEY")
	cfg.Payment.MockSuccessRate = v.GetFloat64("PAYMENT_MOCK_SUCCESS_RATE")
	cfg.Payment.MockDelay = v.GetDuration("PAYMENT_MOCK_DELAY")

	// Reservation
	cfg.Reservation.FeePercent = v.GetFloat64("RESERVATION_FEE_PERCENT")
	cfg.Reservation.RetryMaxRetries = v.GetInt("RESERVATION_RETRY_MAX_RETRIES")
	cfg.Reservation.RetryBaseInterval = v.GetDuration("RESERVATION_RETRY_BASE_INTERVAL")
	cfg.Reservation.RetryJitter = v.GetDuration("RESERVATION_RETRY_JITTER")
	cfg.Reservation.RetryOnInventory = v.GetBool("RESERVATION_RETRY_ON_INVENTORY")
	cfg.Reservation.MaxTickets = v.GetInt("RESERVATION_MAX_TICKETS")
	cfg.Reservation.RefundFullHours = v.GetDuration("RESERVATION_REFUND_FULL_HOURS")
	cfg.Reservation.RefundPartialHours = v.GetDuration("RESERVATION_REFUND_PARTIAL_HOURS")
	cfg.Reservation.RefundHalfHours = v.GetDuration("RESERVATION_REFUND_HALF_HOURS")
	cfg.Reservation.RefundPartialPct = v.GetInt("RESERVATION_REFUND_PARTIAL_PCT")
	cfg.Reservation.RefundHalfPct = v.GetInt("RESERVATION_REFUND_HALF_PCT")

	// Notification
	cfg.Notification.Topic = v.GetString("NOTIFICATION_TOPIC")
	cfg.Notification.PollInterval = v.GetDuration("NOTIFICATION_POLL_INTERVAL")
	cfg.Notification.BatchSize = v.GetInt("NOTIFICATION_BATCH_SIZE")
	cfg.Notification.MaxRetries = v.GetInt("NOTIFICATION_MAX_RETRIES")
	cfg.Notification.RetryInterval = v.GetDuration("NOTIFICATION_RETRY_INTERVAL")
	cfg.Notification.CleanupInterval = v.GetDuration("NOTIFICATION_CLEANUP_INTERVAL")
	cfg.Notification.CleanupRetentionDays = v.GetInt("NOTIFICATION_CLEANUP_RETENTION_DAYS")

	cfg.Cache.AvailabilityTTL = v.GetDuration("CACHE_AVAILABILITY_TTL")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return errors.New("app name is required")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Store.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported store driver: %q", c.Store.Driver)
	}

	switch c.Payment.Provider {
	case "mock":
	case "stripe":
		if c.Payment.StripeSecretKey == "" {
			return errors.New("PAYMENT_STRIPE_SECRET_KEY is required for the stripe provider")
		}
	default:
		return fmt.Errorf("unsupported payment provider: %q", c.Payment.Provider)
	}

	if c.Reservation.FeePercent < 0 || c.Reservation.FeePercent > 100 {
		return fmt.Errorf("invalid fee percent: %v", c.Reservation.FeePercent)
	}
	if c.Reservation.MaxTickets < 0 {
		return fmt.Errorf("invalid max tickets: %d", c.Reservation.MaxTickets)
	}
	if c.Reservation.RetryMaxRetries < 0 {
		return fmt.Errorf("invalid retry max retries: %d", c.Reservation.RetryMaxRetries)
	}
	if !(c.Reservation.RefundFullHours > c.Reservation.RefundPartialHours &&
		c.Reservation.RefundPartialHours > c.Reservation.RefundHalfHours) {
		return errors.New("refund bands must be strictly decreasing")
	}

	if c.IsProduction() && c.Payment.Provider == "mock" {
		return errors.New("mock payment provider is not allowed in production")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}
