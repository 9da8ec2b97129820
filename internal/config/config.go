// Package config provides configuration management for the simulation core.
//
// Configuration is loaded from environment variables (optionally via a
// .env file) with sensible defaults for every field. There is no
// settings-database override here — the simulation core has no persistence
// layer of its own; callers embedding this module in a
// larger service are free to layer their own precedence rules on top.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds simulation-core configuration.
type Config struct {
	// Exchange clock defaults.
	ExchangeInitialTime string  // "HH:mm", default "09:15"
	ExchangeAcceleration float64 // default 1.0

	// Worker pool sizing.
	WorkerPoolSize    int // default 4
	WorkerMaxConcurrent int // default 2
	WorkerTimeoutMs   int // default 30000
	WorkerRetryAttempts int // default 3

	// Lifecycle kernel tick cadence.
	KernelTickHz   int // default 30, range [1,120]
	KernelMaxErrors int // default 3

	// Instantiation-task archive retention before the cron sweep drops
	// terminal records.
	TaskArchiveTTLMs int // default 300000

	// Reference template catalog location (demo wiring only; callers may
	// supply any TemplateStore).
	TemplateDBPath string // default "data/templates.db"

	// TradingIntervals JSON config file; missing or malformed falls back to
	// the documented default windows.
	TradingIntervalsFile string // default "trading_intervals.json"

	// Optional export-snapshot upload target. Empty bucket disables upload
	// entirely; the export still succeeds as local JSON.
	SnapshotS3Bucket    string
	SnapshotS3Region    string
	SnapshotS3Endpoint  string
	SnapshotS3AccessKey string
	SnapshotS3SecretKey string

	LogLevel string // debug, info, warn, error
}

// Load reads configuration from the environment, loading a .env file first
// if one is present in the working directory.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ExchangeInitialTime:  getEnv("EXCHANGE_INITIAL_TIME", "09:15"),
		ExchangeAcceleration: getEnvAsFloat("EXCHANGE_TIME_ACCELERATION", 1.0),
		WorkerPoolSize:       getEnvAsInt("WORKER_POOL_SIZE", 4),
		WorkerMaxConcurrent:  getEnvAsInt("WORKER_MAX_CONCURRENT", 2),
		WorkerTimeoutMs:      getEnvAsInt("WORKER_TIMEOUT_MS", 30000),
		WorkerRetryAttempts:  getEnvAsInt("WORKER_RETRY_ATTEMPTS", 3),
		KernelTickHz:         getEnvAsInt("KERNEL_TICK_HZ", 30),
		KernelMaxErrors:      getEnvAsInt("KERNEL_MAX_ERRORS", 3),
		TaskArchiveTTLMs:     getEnvAsInt("TASK_ARCHIVE_TTL_MS", 300000),
		TemplateDBPath:       getEnv("TEMPLATE_DB_PATH", "data/templates.db"),
		TradingIntervalsFile: getEnv("TRADING_INTERVALS_FILE", "trading_intervals.json"),
		SnapshotS3Bucket:     getEnv("SNAPSHOT_S3_BUCKET", ""),
		SnapshotS3Region:     getEnv("SNAPSHOT_S3_REGION", ""),
		SnapshotS3Endpoint:   getEnv("SNAPSHOT_S3_ENDPOINT", ""),
		SnapshotS3AccessKey:  getEnv("SNAPSHOT_S3_ACCESS_KEY_ID", ""),
		SnapshotS3SecretKey:  getEnv("SNAPSHOT_S3_SECRET_ACCESS_KEY", ""),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that numeric configuration stays within the ranges the
// simulation core's invariants depend on.
func (c *Config) Validate() error {
	if c.ExchangeAcceleration < 0.1 || c.ExchangeAcceleration > 1000 {
		return fmt.Errorf("EXCHANGE_TIME_ACCELERATION must be in [0.1, 1000], got %v", c.ExchangeAcceleration)
	}
	if c.KernelTickHz < 1 || c.KernelTickHz > 120 {
		return fmt.Errorf("KERNEL_TICK_HZ must be in [1, 120], got %d", c.KernelTickHz)
	}
	if c.WorkerPoolSize < 1 {
		return fmt.Errorf("WORKER_POOL_SIZE must be >= 1, got %d", c.WorkerPoolSize)
	}
	if c.WorkerMaxConcurrent < 1 {
		return fmt.Errorf("WORKER_MAX_CONCURRENT must be >= 1, got %d", c.WorkerMaxConcurrent)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}
