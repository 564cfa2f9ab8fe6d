// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "json" or "text"

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)
	RedisURL    string // Plan catalog cache (optional)

	// Hosted auth provider
	AuthProviderURL string // Base URL of the auth provider (optional, uses in-memory if not set)
	AuthServiceKey  string // Service-role key for admin calls
	SessionCookie   string

	// Lifecycle
	PlanCacheTTL        time.Duration
	ExpirySweepInterval time.Duration

	// Security
	RateLimitRPM   int
	AllowedOrigins []string

	// Tracing
	OTLPEndpoint string

	// In-memory mode only: seeds a superadmin account at startup
	DevAdminEmail    string
	DevAdminPassword string
}

// Defaults
const (
	DefaultPort                = "8080"
	DefaultEnv                 = "development"
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "json"
	DefaultSessionCookie       = "qf_session"
	DefaultPlanCacheTTL        = 5 * time.Minute
	DefaultExpirySweepInterval = 10 * time.Minute
	DefaultRateLimit           = 60
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:           getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisURL:            os.Getenv("REDIS_URL"),
		AuthProviderURL:     strings.TrimRight(os.Getenv("AUTH_PROVIDER_URL"), "/"),
		AuthServiceKey:      os.Getenv("AUTH_SERVICE_KEY"),
		SessionCookie:       getEnv("SESSION_COOKIE", DefaultSessionCookie),
		PlanCacheTTL:        getEnvDuration("PLAN_CACHE_TTL", DefaultPlanCacheTTL),
		ExpirySweepInterval: getEnvDuration("EXPIRY_SWEEP_INTERVAL", DefaultExpirySweepInterval),
		RateLimitRPM:        int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
		AllowedOrigins:      splitList(getEnv("ALLOWED_ORIGINS", "*")),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		DevAdminEmail:       os.Getenv("DEV_ADMIN_EMAIL"),
		DevAdminPassword:    os.Getenv("DEV_ADMIN_PASSWORD"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in production")
		}
		if c.AuthProviderURL == "" {
			return fmt.Errorf("AUTH_PROVIDER_URL is required in production")
		}
	}

	if c.IsProduction() && c.DevAdminEmail != "" {
		return fmt.Errorf("DEV_ADMIN_EMAIL must not be set in production")
	}

	if c.AuthProviderURL != "" && c.AuthServiceKey == "" {
		return fmt.Errorf("AUTH_SERVICE_KEY is required when AUTH_PROVIDER_URL is set")
	}

	if c.PlanCacheTTL <= 0 {
		return fmt.Errorf("PLAN_CACHE_TTL must be positive")
	}
	if c.ExpirySweepInterval <= 0 {
		return fmt.Errorf("EXPIRY_SWEEP_INTERVAL must be positive")
	}
	if c.RateLimitRPM <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPM must be positive")
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

// getEnvDuration returns -1 for unparseable values so Validate rejects them.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return -1
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
