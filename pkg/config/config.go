// Package config loads server configuration from environment variables and
// the optional yaml review profile.
package config

import (
	"os"
	"strconv"
)

// Config holds server configuration.
type Config struct {
	Addr     string
	LogLevel string

	// StoreBackend selects the persistence collaborator:
	// "memory", "sqlite", "postgres" or "redis".
	StoreBackend string
	SQLitePath   string
	PostgresURL  string
	RedisAddr    string
	RedisDB      int

	// WebhookURL, when set, routes notifications to an HTTP endpoint
	// instead of the log sink.
	WebhookURL string

	// ProfilePath optionally points at a yaml review profile.
	ProfilePath string

	RateRPS   int
	RateBurst int
}

// Load loads configuration from environment variables with safe defaults.
func Load() *Config {
	cfg := &Config{
		Addr:         getenv("ADDR", ":8080"),
		LogLevel:     getenv("LOG_LEVEL", "INFO"),
		StoreBackend: getenv("STORE_BACKEND", "memory"),
		SQLitePath:   getenv("SQLITE_PATH", "transferdesk.db"),
		PostgresURL:  getenv("POSTGRES_URL", "postgres://transferdesk@localhost:5432/transferdesk?sslmode=disable"),
		RedisAddr:    getenv("REDIS_ADDR", "localhost:6379"),
		WebhookURL:   os.Getenv("NOTIFY_WEBHOOK_URL"),
		ProfilePath:  os.Getenv("REVIEW_PROFILE"),
		RateRPS:      getenvInt("RATE_RPS", 20),
		RateBurst:    getenvInt("RATE_BURST", 40),
	}
	cfg.RedisDB = getenvInt("REDIS_DB", 0)
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
