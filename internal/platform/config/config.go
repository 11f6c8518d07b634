package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Server captures process-level configuration for the sync service.
type Server struct {
	Addr        string
	Environment string

	// Per-provider webhook shared secrets. Absence at startup is a fatal
	// configuration error, not a per-request failure.
	ClerkWebhookSecret string
	Auth0WebhookSecret string

	DatabaseURL     string
	MaxBodyBytes    int64
	LedgerRetention time.Duration
	SweepInterval   time.Duration

	Redis RedisConfig
	Kafka KafkaConfig
}

// RedisConfig holds optional Redis connection settings. An empty URL means
// Redis is not configured and the Postgres ledger is used alone.
type RedisConfig struct {
	URL      string
	PoolSize int
}

// KafkaConfig holds optional sync-notification publishing settings. Empty
// brokers disable publishing entirely.
type KafkaConfig struct {
	Brokers string
	Topic   string
}

const (
	defaultAddr            = ":8080"
	defaultMaxBodyBytes    = 1 << 20 // 1 MiB
	defaultLedgerRetention = 30 * 24 * time.Hour
	defaultSweepInterval   = time.Hour
)

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	cfg := Server{
		Addr:               envOr("IDSYNC_ADDR", defaultAddr),
		Environment:        envOr("IDSYNC_ENV", "development"),
		ClerkWebhookSecret: os.Getenv("IDSYNC_CLERK_WEBHOOK_SECRET"),
		Auth0WebhookSecret: os.Getenv("IDSYNC_AUTH0_WEBHOOK_SECRET"),
		DatabaseURL:        os.Getenv("IDSYNC_DATABASE_URL"),
		MaxBodyBytes:       defaultMaxBodyBytes,
		LedgerRetention:    defaultLedgerRetention,
		SweepInterval:      defaultSweepInterval,
		Redis: RedisConfig{
			URL:      os.Getenv("IDSYNC_REDIS_URL"),
			PoolSize: envInt("IDSYNC_REDIS_POOL_SIZE", 10),
		},
		Kafka: KafkaConfig{
			Brokers: os.Getenv("IDSYNC_KAFKA_BROKERS"),
			Topic:   envOr("IDSYNC_KAFKA_TOPIC", "identity.sync.recorded"),
		},
	}

	if v := os.Getenv("IDSYNC_MAX_BODY_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.MaxBodyBytes = n
		}
	}
	if v := os.Getenv("IDSYNC_LEDGER_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.LedgerRetention = d
		}
	}
	if v := os.Getenv("IDSYNC_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.SweepInterval = d
		}
	}
	return cfg
}

// Validate reports fatal misconfiguration. Webhook endpoints must never come
// up without their shared secrets: an empty secret would reject every call at
// runtime, silently breaking provider integrations.
func (c Server) Validate() error {
	if c.ClerkWebhookSecret == "" {
		return fmt.Errorf("IDSYNC_CLERK_WEBHOOK_SECRET is required")
	}
	if c.Auth0WebhookSecret == "" {
		return fmt.Errorf("IDSYNC_AUTH0_WEBHOOK_SECRET is required")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("IDSYNC_DATABASE_URL is required")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
