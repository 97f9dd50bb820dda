// Package config loads service configuration from environment variables
// (with an optional .env file) and exposes per-component settings used to
// wire the ingestion and analytics pipeline.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// QueueConfig holds the per-job-kind concurrency, prefetch and retry
// parameters for one bus queue.
type QueueConfig struct {
	Prefetch    int
	Concurrency int
	MaxRetries  int
	BaseBackoff time.Duration
	BatchSize   int // only meaningful for sync-event-detail
}

// Config holds application configuration. Loaded once at startup from
// environment variables; DataDir is always resolved to an absolute path.
type Config struct {
	DataDir  string
	Port     int
	LogLevel string
	DevMode  bool

	KalshiBaseURL       string
	KalshiAPIKeyID      string
	KalshiPrivateKeyPEM string
	KalshiTimeout       time.Duration

	SingleFlightLockTTL time.Duration

	CleanupRetention time.Duration
	CleanupStatuses  []string

	AWSRegion        string
	DeadLetterBucket string // S3 bucket for archiving poisoned messages; empty disables archival

	Queues map[string]QueueConfig
}

// Load reads configuration from environment variables, applying the
// teacher's three-tier precedence: defaults, then .env (if present), then
// environment variables (which override .env).
func Load(dataDirOverride ...string) (*Config, error) {
	_ = godotenv.Load()

	var dataDir string
	if len(dataDirOverride) > 0 && dataDirOverride[0] != "" {
		dataDir = dataDirOverride[0]
	} else {
		dataDir = getEnv("SENTINEL_DATA_DIR", "")
		if dataDir == "" {
			dataDir = "./data"
		}
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("GO_PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		KalshiBaseURL:       getEnv("KALSHI_BASE_URL", "https://trading-api.kalshi.com/trade-api/v2"),
		KalshiAPIKeyID:      getEnv("KALSHI_API_KEY_ID", ""),
		KalshiPrivateKeyPEM: getEnv("KALSHI_PRIVATE_KEY_PEM", ""),
		KalshiTimeout:       getEnvAsDuration("KALSHI_TIMEOUT", 10*time.Second),

		SingleFlightLockTTL: getEnvAsDuration("SYNC_LOCK_TTL", 30*time.Minute),

		CleanupRetention: getEnvAsDuration("CLEANUP_RETENTION", 72*time.Hour),
		CleanupStatuses:  []string{"finalized", "closed"},

		AWSRegion:        getEnv("AWS_REGION", "us-east-1"),
		DeadLetterBucket: getEnv("DEAD_LETTER_BUCKET", ""),

		Queues: defaultQueues(),
	}

	return cfg, nil
}

// defaultQueues mirrors §4.1: nine logical queues, one per job kind, with
// sync-event-detail batched (BatchSize > 1, bounded concurrency within the
// batch) and the rest consuming one message at a time.
func defaultQueues() map[string]QueueConfig {
	standard := QueueConfig{Prefetch: 4, Concurrency: 4, MaxRetries: 5, BaseBackoff: 2 * time.Second}
	return map[string]QueueConfig{
		"sync-market-snapshots":  standard,
		"sync-market-categories": standard,
		"sync-series":            standard,
		"sync-events":            standard,
		"sync-event-detail": {
			Prefetch: 10, Concurrency: 10, MaxRetries: 5, BaseBackoff: 2 * time.Second, BatchSize: 10,
		},
		"sync-orderbook":    standard,
		"sync-candlesticks": standard,
		"process-analytics": standard,
		"cleanup-market":    standard,
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
