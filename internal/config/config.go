// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Decision engine settings
	EvalWorkers  int           // rule evaluation parallelism per decision
	LookupBudget time.Duration // per dataset lookup during fact resolution

	// Simulation settings
	SimulationShards int // replay corpus parallelism

	// Security
	RateLimitRPS int
	AdminSecret  string // guards rule mutations; empty disables the check

	// Notifications
	CaseWebhookURL    string // webhook for case lifecycle events (optional)
	CaseWebhookSecret string // HMAC secret for webhook payload signatures

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint; tracing disabled when empty
}

const (
	DefaultPort             = "8080"
	DefaultEnv              = "development"
	DefaultLogLevel         = "info"
	DefaultRateLimit        = 100
	DefaultEvalWorkers      = 8
	DefaultLookupBudgetMs   = 5
	DefaultSimulationShards = 4
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:              getEnv("PORT", DefaultPort),
		Env:               getEnv("ENV", DefaultEnv),
		LogLevel:          getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:       os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		EvalWorkers:       int(getEnvInt64("EVAL_WORKERS", DefaultEvalWorkers)),
		LookupBudget:      time.Duration(getEnvInt64("LOOKUP_BUDGET_MS", DefaultLookupBudgetMs)) * time.Millisecond,
		SimulationShards:  int(getEnvInt64("SIMULATION_SHARDS", DefaultSimulationShards)),
		RateLimitRPS:      int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
		AdminSecret:       os.Getenv("ADMIN_SECRET"),
		CaseWebhookURL:    os.Getenv("CASE_WEBHOOK_URL"),
		CaseWebhookSecret: os.Getenv("CASE_WEBHOOK_SECRET"),
		OTLPEndpoint:      os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.EvalWorkers < 1 {
		return fmt.Errorf("EVAL_WORKERS must be at least 1")
	}
	if c.SimulationShards < 1 {
		return fmt.Errorf("SIMULATION_SHARDS must be at least 1")
	}
	if c.LookupBudget <= 0 {
		return fmt.Errorf("LOOKUP_BUDGET_MS must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}
