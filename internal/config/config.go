package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"triggerd/internal/logger"
)

// Config holds all configuration for the triggerd application
type Config struct {
	// RedisURL is the connection URL for Redis
	RedisURL string
	// APIPort is the port the API server listens on
	APIPort string
	// PollInterval is the cadence at which the dispatcher scans for due triggers
	PollInterval time.Duration
	// SpawnTimeout is the maximum time a single agent invocation may run
	SpawnTimeout time.Duration
	// LeaseTTL is how long a dispatcher's claim on a trigger is protected;
	// it must exceed SpawnTimeout so a live fire is never handed to another instance
	LeaseTTL time.Duration
	// DispatcherConcurrency is the number of concurrent fires per dispatcher instance
	DispatcherConcurrency int
	// DefaultTimezone is applied to triggers created without an explicit zone
	DefaultTimezone string
	// FireHistoryEnabled enables storing per-fire outcome records
	FireHistoryEnabled bool
	// FireHistoryTTLSuccess is the TTL for histories whose latest fire succeeded
	FireHistoryTTLSuccess time.Duration
	// FireHistoryTTLFailure is the TTL for histories whose latest fire failed
	FireHistoryTTLFailure time.Duration
	// FireHistoryLimit caps the number of records kept per trigger
	FireHistoryLimit int
	// AgentWebhookURL, when set, routes agent invocations to an HTTP endpoint
	AgentWebhookURL string
	// Logging configuration
	Logging *logger.Config
}

// LoadConfig loads configuration from environment variables with sensible defaults
func LoadConfig() (*Config, error) {
	cfg := &Config{
		RedisURL:              getEnv("REDIS_URL", "redis://localhost:6379"),
		APIPort:               getEnv("API_PORT", "8080"),
		PollInterval:          getEnvAsDuration("POLL_INTERVAL", 5*time.Second),
		SpawnTimeout:          getEnvAsDuration("SPAWN_TIMEOUT", 2*time.Minute),
		LeaseTTL:              getEnvAsDuration("LEASE_TTL", 5*time.Minute),
		DispatcherConcurrency: getEnvAsInt("DISPATCHER_CONCURRENCY", 5),
		DefaultTimezone:       getEnv("DEFAULT_TIMEZONE", "America/Chicago"),
		FireHistoryEnabled:    getEnvAsBool("FIRE_HISTORY_ENABLED", true),
		FireHistoryTTLSuccess: getEnvAsDuration("FIRE_HISTORY_TTL_SUCCESS", 24*time.Hour),
		FireHistoryTTLFailure: getEnvAsDuration("FIRE_HISTORY_TTL_FAILURE", 7*24*time.Hour),
		FireHistoryLimit:      getEnvAsInt("FIRE_HISTORY_LIMIT", 50),
		AgentWebhookURL:       getEnv("AGENT_WEBHOOK_URL", ""),
		Logging:               loadLoggingConfig(),
	}

	// Validate required fields
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL cannot be empty")
	}
	if cfg.APIPort == "" {
		return nil, fmt.Errorf("API_PORT cannot be empty")
	}
	if cfg.PollInterval < time.Second {
		return nil, fmt.Errorf("POLL_INTERVAL must be at least 1s")
	}
	if cfg.SpawnTimeout < time.Second {
		return nil, fmt.Errorf("SPAWN_TIMEOUT must be at least 1s")
	}
	if cfg.LeaseTTL <= cfg.SpawnTimeout {
		return nil, fmt.Errorf("LEASE_TTL must exceed SPAWN_TIMEOUT")
	}
	if cfg.DispatcherConcurrency < 1 {
		return nil, fmt.Errorf("DISPATCHER_CONCURRENCY must be at least 1")
	}
	if cfg.FireHistoryLimit < 1 {
		return nil, fmt.Errorf("FIRE_HISTORY_LIMIT must be at least 1")
	}
	if _, err := time.LoadLocation(cfg.DefaultTimezone); err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_TIMEZONE: %w", err)
	}

	// Validate logging config
	if err := cfg.Logging.Validate(); err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}

	return cfg, nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration retrieves an environment variable as a duration or returns a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// loadLoggingConfig loads logging configuration from environment variables
func loadLoggingConfig() *logger.Config {
	cfg := logger.DefaultConfig()

	// Global settings
	if level := getEnv("LOG_LEVEL", ""); level != "" {
		cfg.Level = logger.LogLevel(level)
	}
	if format := getEnv("LOG_FORMAT", ""); format != "" {
		cfg.Format = logger.LogFormat(format)
	}

	// Tier 1: Console
	cfg.Console.Enabled = getEnvAsBool("LOG_CONSOLE_ENABLED", true)
	cfg.Console.Color = getEnvAsBool("LOG_COLOR", true)
	cfg.Console.BufferSize = getEnvAsInt("LOG_CONSOLE_BUFFER_SIZE", 65536)
	cfg.Console.FlushInterval = getEnvAsDuration("LOG_CONSOLE_FLUSH_INTERVAL", 100*time.Millisecond)

	// Tier 2: File
	cfg.File.Enabled = getEnvAsBool("LOG_FILE_ENABLED", false)
	cfg.File.Path = getEnv("LOG_FILE_PATH", "/var/log/triggerd/triggerd.log")
	cfg.File.MaxSizeMB = getEnvAsInt("LOG_FILE_MAX_SIZE_MB", 100)
	cfg.File.MaxBackups = getEnvAsInt("LOG_FILE_MAX_BACKUPS", 5)
	cfg.File.MaxAgeDays = getEnvAsInt("LOG_FILE_MAX_AGE_DAYS", 30)
	cfg.File.Compress = getEnvAsBool("LOG_FILE_COMPRESS", true)
	cfg.File.BufferSize = getEnvAsInt("LOG_FILE_BUFFER_SIZE", 10000)
	cfg.File.BatchSize = getEnvAsInt("LOG_FILE_BATCH_SIZE", 100)
	cfg.File.BatchInterval = getEnvAsDuration("LOG_FILE_BATCH_INTERVAL", 100*time.Millisecond)

	return cfg
}
