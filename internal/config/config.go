package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Ingress socket
	IngressHost string
	IngressPort int

	// Ops HTTP (health/ready/metrics)
	OpsPort int
	Env     string

	// Database URLs
	PostgresURL   string
	RedisURL      string
	ClickHouseURL string // empty disables the raw-event archive

	// Downstream queues
	EventStream  string
	RewardStream string

	// Authentication caches
	TokenCacheTTL    time.Duration
	SourceCacheTTL   time.Duration
	LastUsedDebounce time.Duration

	// Rate limiting (failed beacons per source IP)
	RateLimitMaxAttempts int
	RateLimitWindow      time.Duration
	RateLimitBlock       time.Duration

	// Warn-path cooldown
	LogCooldown time.Duration

	// Datagram worker pool
	WorkerCount int
	QueueSize   int
	WorkerGrace time.Duration

	// Per-call timeout for repository lookups
	DBTimeout time.Duration

	// Archive batching
	ArchiveBatchSize     int
	ArchiveFlushInterval time.Duration
}

// Load loads configuration from environment variables.
// It returns an error if critical configuration is missing.
func Load() (*Config, error) {
	cfg := &Config{
		IngressHost: getEnv("INGRESS_HOST", "0.0.0.0"),
		IngressPort: getEnvInt("INGRESS_PORT", 27500),
		OpsPort:     getEnvInt("OPS_PORT", 8080),
		Env:         getEnv("ENV", "development"),

		EventStream:  getEnv("EVENT_STREAM", "hlx:events"),
		RewardStream: getEnv("REWARD_STREAM", "hlx:rewards"),

		TokenCacheTTL:    getEnvDuration("TOKEN_CACHE_TTL", 60*time.Second),
		SourceCacheTTL:   getEnvDuration("SOURCE_CACHE_TTL", 300*time.Second),
		LastUsedDebounce: getEnvDuration("LAST_USED_DEBOUNCE", 300*time.Second),

		RateLimitMaxAttempts: getEnvInt("RATE_LIMIT_MAX_ATTEMPTS", 10),
		RateLimitWindow:      getEnvDuration("RATE_LIMIT_WINDOW", 60*time.Second),
		RateLimitBlock:       getEnvDuration("RATE_LIMIT_BLOCK", 60*time.Second),

		LogCooldown: getEnvDuration("LOG_COOLDOWN", 300*time.Second),

		WorkerCount: getEnvInt("WORKER_COUNT", 8),
		QueueSize:   getEnvInt("QUEUE_SIZE", 10000),
		WorkerGrace: getEnvDuration("WORKER_GRACE", 5*time.Second),

		DBTimeout: getEnvDuration("DB_TIMEOUT", 5*time.Second),

		ArchiveBatchSize:     getEnvInt("ARCHIVE_BATCH_SIZE", 500),
		ArchiveFlushInterval: getEnvDuration("ARCHIVE_FLUSH_INTERVAL", 1*time.Second),
	}

	// Critical configuration - fail if missing
	var err error
	if cfg.PostgresURL, err = getEnvRequired("POSTGRES_URL"); err != nil {
		return nil, err
	}
	if cfg.RedisURL, err = getEnvRequired("REDIS_URL"); err != nil {
		return nil, err
	}
	// Archive is optional; empty URL turns it off.
	cfg.ClickHouseURL = strings.TrimSpace(getEnv("CLICKHOUSE_URL", ""))

	if cfg.IngressPort < 1 || cfg.IngressPort > 65535 {
		return nil, fmt.Errorf("INGRESS_PORT out of range: %d", cfg.IngressPort)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvRequired(key string) (string, error) {
	if value := os.Getenv(key); value != "" {
		return value, nil
	}
	return "", fmt.Errorf("missing required environment variable: %s", key)
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
