// Package config handles environment variable loading for database strings,
// worker tuning, cache settings, etc.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

func init() {
	// Load .env if present; silent when missing.
	_ = godotenv.Load()
}

// Config holds all configuration for the listsync daemons.
type Config struct {
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Control ControlConfig
	Worker  WorkerConfig
	Sync    SyncConfig
	Cache   CacheConfig
	Otel    OtelConfig
}

// ControlConfig holds the control/metrics HTTP surface settings.
type ControlConfig struct {
	Addr        string `envconfig:"CONTROL_ADDR" default:"127.0.0.1:7171"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":7172"`
	LockDir     string `envconfig:"LOCK_DIR" default:"/var/run/listsync"`
}

// WorkerConfig holds per-account worker tuning.
type WorkerConfig struct {
	BatchSize      int           `envconfig:"WORKER_BATCH_SIZE" default:"10"`
	IdleInterval   time.Duration `envconfig:"WORKER_IDLE_INTERVAL" default:"30s"`
	MaxAttempts    int           `envconfig:"WORKER_MAX_ATTEMPTS" default:"5"`
	RateLimitDelay time.Duration `envconfig:"WORKER_RATE_LIMIT_DELAY" default:"5m"`

	// Daily dispatch window, offsets from midnight.
	WindowStart time.Duration `envconfig:"DISPATCH_WINDOW_START" default:"8h"`
	WindowEnd   time.Duration `envconfig:"DISPATCH_WINDOW_END" default:"22h"`
}

// SyncConfig holds batch sync engine settings.
type SyncConfig struct {
	Interval    time.Duration `envconfig:"SYNC_INTERVAL" default:"1h"`
	MinCallGap  time.Duration `envconfig:"SYNC_MIN_CALL_GAP" default:"2s"`
	Margin      float64       `envconfig:"SYNC_PRICE_MARGIN" default:"1.25"`
	SourceURL   string        `envconfig:"SYNC_SOURCE_URL" default:""`
	SourceToken string        `envconfig:"SYNC_SOURCE_TOKEN" default:""`
	BatchSize   int           `envconfig:"SYNC_BATCH_SIZE" default:"20"`
	MetricsAddr string        `envconfig:"SYNC_METRICS_ADDR" default:":7173"`
}

// CacheConfig selects and configures the price cache backend.
type CacheConfig struct {
	Type          string        `envconfig:"CACHE_TYPE" default:"memory"`
	TTL           time.Duration `envconfig:"CACHE_TTL" default:"24h"`
	RedisAddr     string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int           `envconfig:"REDIS_DB" default:"0"`
}

// OtelConfig holds tracing settings. An empty endpoint disables tracing.
type OtelConfig struct {
	Endpoint string `envconfig:"OTEL_ENDPOINT" default:""`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Worker.WindowEnd <= cfg.Worker.WindowStart {
		return nil, fmt.Errorf("DISPATCH_WINDOW_END must be after DISPATCH_WINDOW_START")
	}
	return &cfg, nil
}
