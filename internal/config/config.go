// Package config provides environment-aware configuration loading for the
// event-processing core, in the teacher's getEnv/getIntEnv/getBoolEnv style.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// WorkerCounts configures how many instances of each worker type to run.
type WorkerCounts struct {
	ChangeProcessor int
	Notification    int
	TaskMonitor     int
}

// Config holds all application configuration, sourced from the environment.
type Config struct {
	Env string

	DatabaseURL string
	BrokerURL   string // redis connection string backing the Stream Broker Adapter

	VectorStoreURL string
	VectorStoreKey string

	LLMBaseURL      string
	LLMAPIKey       string
	LLMTimeout      time.Duration
	LLMMaxAttempts  int

	ChatBaseURL       string
	ChatBotToken      string
	ChatSigningSecret string

	WebhookSecret string

	LogLevel  string
	LogFormat string

	HTTPAddr string

	Workers WorkerCounts

	RateLimitMax    int
	RateLimitWindow time.Duration

	ReconcileInterval time.Duration
	ReconcileGrace    time.Duration
}

// Load reads configuration from the environment, optionally preceded by a
// .env file (missing files are not an error).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env: getEnv("APP_ENV", "development"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		BrokerURL:   getEnv("BROKER_URL", "redis://localhost:6379/0"),

		VectorStoreURL: getEnv("VECTOR_STORE_URL", ""),
		VectorStoreKey: getEnv("VECTOR_STORE_KEY", ""),

		LLMBaseURL:     getEnv("LLM_BASE_URL", ""),
		LLMAPIKey:      getEnv("LLM_API_KEY", ""),
		LLMTimeout:     getDurationEnv("LLM_TIMEOUT", 10*time.Second),
		LLMMaxAttempts: getIntEnv("LLM_MAX_ATTEMPTS", 3),

		ChatBaseURL:       getEnv("CHAT_BASE_URL", ""),
		ChatBotToken:      getEnv("CHAT_BOT_TOKEN", ""),
		ChatSigningSecret: getEnv("CHAT_SIGNING_SECRET", ""),

		WebhookSecret: getEnv("WEBHOOK_SECRET", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),

		Workers: WorkerCounts{
			ChangeProcessor: getIntEnv("WORKERS_CHANGE_PROCESSOR", 2),
			Notification:    getIntEnv("WORKERS_NOTIFICATION", 2),
			TaskMonitor:     getIntEnv("WORKERS_TASK_MONITOR", 1),
		},

		RateLimitMax:    getIntEnv("NOTIFICATION_RATE_LIMIT_MAX", 10),
		RateLimitWindow: getDurationEnv("NOTIFICATION_RATE_LIMIT_WINDOW", 60*time.Second),

		ReconcileInterval: getDurationEnv("RECONCILE_INTERVAL", 5*time.Minute),
		ReconcileGrace:    getDurationEnv("RECONCILE_GRACE", 10*time.Minute),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces fatal-at-startup invariants: DATABASE_URL must be set,
// worker counts must be non-negative, and the notification rate limit must
// be positive. The webhook secret is not checked here; an empty secret
// disables signature verification.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Workers.ChangeProcessor < 0 || c.Workers.Notification < 0 || c.Workers.TaskMonitor < 0 {
		return fmt.Errorf("worker counts must be non-negative")
	}
	if c.RateLimitMax <= 0 {
		return fmt.Errorf("NOTIFICATION_RATE_LIMIT_MAX must be positive")
	}
	return nil
}

// SignatureVerificationEnabled reports whether webhook HMAC verification
// should run. Per §4.2, verification is skipped only when no secret is
// configured.
func (c *Config) SignatureVerificationEnabled() bool {
	return strings.TrimSpace(c.WebhookSecret) != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
