// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/recaphorizon/horizon/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Stripe        StripeConfig
	Identity      IdentityConfig
	Postgres      PostgresConfig
	Redis         RedisConfig
	RateLimit     RateLimitConfig
	Observability ObservabilityConfig

	// AllowedOrigins is the browser origin allow-list for ingress endpoints
	AllowedOrigins []string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
}

// StripeConfig holds Stripe API configuration
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string

	// AllowedPriceIDs guards checkout/reactivation against arbitrary price injection
	AllowedPriceIDs []string

	// PriceTiers maps a Stripe price id to a service tier name
	PriceTiers map[string]string

	// FrontendURL is the base URL for checkout success/cancel redirects
	FrontendURL string

	// HorizonProductID is the product whose one-time prices are add-on purchases
	HorizonProductID string
	// ExtraTokensPriceID credits period_extra_tokens when purchased
	ExtraTokensPriceID string
	// ExtraAudioMinutesPriceID credits extra_audio_minutes_balance when purchased
	ExtraAudioMinutesPriceID string
	// ExtraTokensAmount / ExtraAudioMinutesAmount are the credit sizes per purchase unit
	ExtraTokensAmount       int64
	ExtraAudioMinutesAmount int64
}

// IdentityConfig holds the identity-provider service account used to verify
// caller ID tokens.
type IdentityConfig struct {
	// ServiceAccount is the decoded service account, nil when unconfigured
	ServiceAccount *ServiceAccount
}

// PostgresConfig holds database configuration
type PostgresConfig struct {
	URL      string
	MaxConns int
}

// RedisConfig holds Redis configuration for the shared rate-limit store
type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

// RateLimitConfig holds ingress rate limit settings
type RateLimitConfig struct {
	PerIPPerMinute   int
	PerUserPerMinute int
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	sa, err := loadServiceAccount()
	if err != nil {
		return nil, fmt.Errorf("failed to load service account: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("HORIZON_HOST", "0.0.0.0"),
			Port:            getEnv("HORIZON_PORT", "8080"),
			ReadTimeout:     getEnvDuration("HORIZON_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("HORIZON_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("HORIZON_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("HORIZON_SHUTDOWN_TIMEOUT", 30*time.Second),
			MaxBodyBytes:    getEnvInt64("HORIZON_MAX_BODY_BYTES", 1<<20), // 1MB
		},
		Stripe: StripeConfig{
			SecretKey:                os.Getenv("STRIPE_SECRET_KEY"),
			WebhookSecret:            os.Getenv("STRIPE_WEBHOOK_SECRET"),
			AllowedPriceIDs:          splitList(os.Getenv("ALLOWED_PRICE_IDS")),
			PriceTiers:               parsePairs(os.Getenv("HORIZON_PRICE_TIERS")),
			FrontendURL:              strings.TrimRight(getEnv("HORIZON_FRONTEND_URL", ""), "/"),
			HorizonProductID:         os.Getenv("STRIPE_HORIZON_PRODUCT_ID"),
			ExtraTokensPriceID:       os.Getenv("STRIPE_HORIZON_EXTRA_TOKENS"),
			ExtraAudioMinutesPriceID: os.Getenv("STRIPE_HORIZON_EXTRA_AUDIO_MINUTES"),
			ExtraTokensAmount:        getEnvInt64("HORIZON_EXTRA_TOKENS_AMOUNT", 1_000_000),
			ExtraAudioMinutesAmount:  getEnvInt64("HORIZON_EXTRA_AUDIO_MINUTES_AMOUNT", 300),
		},
		Identity: IdentityConfig{
			ServiceAccount: sa,
		},
		Postgres: PostgresConfig{
			URL:      os.Getenv("HORIZON_POSTGRES_URL"),
			MaxConns: getEnvInt("HORIZON_POSTGRES_MAX_CONNS", 10),
		},
		Redis: RedisConfig{
			URL:      os.Getenv("HORIZON_REDIS_URL"),
			Password: os.Getenv("HORIZON_REDIS_PASSWORD"),
			DB:       getEnvInt("HORIZON_REDIS_DB", 0),
		},
		RateLimit: RateLimitConfig{
			PerIPPerMinute:   getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
			PerUserPerMinute: getEnvInt("USER_RATE_LIMIT_PER_MINUTE", 20),
		},
		Observability: ObservabilityConfig{
			LogLevel:       parseLogLevel(getEnv("HORIZON_LOG_LEVEL", "info")),
			MetricsEnabled: getEnvBool("HORIZON_METRICS_ENABLED", true),
		},
		AllowedOrigins: splitList(os.Getenv("ALLOWED_ORIGINS")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
// Stripe secrets are intentionally not required here: the webhook endpoint
// fails closed with a 500 when they are missing, so the service can still
// boot for health checks and diagnostics.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Postgres.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.RateLimit.PerIPPerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive")
	}
	if c.RateLimit.PerUserPerMinute <= 0 {
		return fmt.Errorf("USER_RATE_LIMIT_PER_MINUTE must be positive")
	}
	for price, tier := range c.Stripe.PriceTiers {
		if price == "" || tier == "" {
			return fmt.Errorf("malformed HORIZON_PRICE_TIERS entry")
		}
	}
	return nil
}

// WebhookConfigured reports whether both Stripe secrets are present
func (c *Config) WebhookConfigured() bool {
	return c.Stripe.SecretKey != "" && c.Stripe.WebhookSecret != ""
}

// splitList parses a comma-separated list, trimming whitespace and
// dropping empty entries
func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// parsePairs parses "key=value,key=value" lists
func parsePairs(value string) map[string]string {
	out := make(map[string]string)
	for _, entry := range splitList(value) {
		k, v, found := strings.Cut(entry, "=")
		if !found {
			// Preserved so Validate can reject it
			out[strings.TrimSpace(k)] = ""
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
