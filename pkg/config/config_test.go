package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"a"}, splitList("a"))
	assert.Equal(t, []string{"a", "b"}, splitList("a,b"))
	assert.Equal(t, []string{"a", "b"}, splitList(" a , b "))
	assert.Equal(t, []string{"a", "b"}, splitList("a,,b,"))
}

func TestParsePairs(t *testing.T) {
	assert.Nil(t, parsePairs(""))

	pairs := parsePairs("price_1=gold, price_2=silver")
	assert.Equal(t, map[string]string{"price_1": "gold", "price_2": "silver"}, pairs)

	// A malformed entry is kept with an empty value so validation can flag it
	pairs = parsePairs("price_1=gold,broken")
	assert.Equal(t, "", pairs["broken"])
}

func TestLoadConfigDefaults(t *testing.T) {
	clearHorizonEnv(t)
	t.Setenv("HORIZON_POSTGRES_URL", "postgres://localhost/horizon?sslmode=disable")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, int64(1<<20), cfg.Server.MaxBodyBytes)
	assert.Equal(t, 30, cfg.RateLimit.PerIPPerMinute)
	assert.Equal(t, 20, cfg.RateLimit.PerUserPerMinute)
	assert.Equal(t, int64(1_000_000), cfg.Stripe.ExtraTokensAmount)
	assert.Equal(t, int64(300), cfg.Stripe.ExtraAudioMinutesAmount)
	assert.True(t, cfg.Observability.MetricsEnabled)
	assert.NoError(t, cfg.Validate())
	assert.False(t, cfg.WebhookConfigured())
}

func TestLoadConfigFromEnv(t *testing.T) {
	clearHorizonEnv(t)
	t.Setenv("HORIZON_POSTGRES_URL", "postgres://localhost/horizon?sslmode=disable")
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_1")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_1")
	t.Setenv("ALLOWED_ORIGINS", "https://app.example.com,https://staging.example.com")
	t.Setenv("ALLOWED_PRICE_IDS", "price_1,price_2")
	t.Setenv("HORIZON_PRICE_TIERS", "price_1=gold,price_2=silver")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "60")
	t.Setenv("USER_RATE_LIMIT_PER_MINUTE", "40")
	t.Setenv("HORIZON_READ_TIMEOUT", "20s")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.WebhookConfigured())
	assert.Equal(t, []string{"https://app.example.com", "https://staging.example.com"}, cfg.AllowedOrigins)
	assert.Equal(t, []string{"price_1", "price_2"}, cfg.Stripe.AllowedPriceIDs)
	assert.Equal(t, "gold", cfg.Stripe.PriceTiers["price_1"])
	assert.Equal(t, 60, cfg.RateLimit.PerIPPerMinute)
	assert.Equal(t, 40, cfg.RateLimit.PerUserPerMinute)
	assert.Equal(t, 20*time.Second, cfg.Server.ReadTimeout)
}

func TestLoadConfigRejectsMalformedPriceTiers(t *testing.T) {
	clearHorizonEnv(t)
	t.Setenv("HORIZON_POSTGRES_URL", "postgres://localhost/horizon?sslmode=disable")
	t.Setenv("HORIZON_PRICE_TIERS", "price_1=gold,broken")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfigRejectsNonPositiveRateLimits(t *testing.T) {
	clearHorizonEnv(t)
	t.Setenv("HORIZON_POSTGRES_URL", "postgres://localhost/horizon?sslmode=disable")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "0")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfigRequiresPostgresURL(t *testing.T) {
	clearHorizonEnv(t)

	_, err := LoadConfig()
	assert.Error(t, err)
}

// clearHorizonEnv unsets every variable LoadConfig reads so tests do not
// inherit ambient configuration
func clearHorizonEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"HORIZON_HOST", "HORIZON_PORT", "HORIZON_READ_TIMEOUT", "HORIZON_WRITE_TIMEOUT",
		"HORIZON_IDLE_TIMEOUT", "HORIZON_SHUTDOWN_TIMEOUT", "HORIZON_MAX_BODY_BYTES",
		"STRIPE_SECRET_KEY", "STRIPE_WEBHOOK_SECRET", "ALLOWED_PRICE_IDS",
		"HORIZON_PRICE_TIERS", "HORIZON_FRONTEND_URL", "STRIPE_HORIZON_PRODUCT_ID",
		"STRIPE_HORIZON_EXTRA_TOKENS", "STRIPE_HORIZON_EXTRA_AUDIO_MINUTES",
		"HORIZON_EXTRA_TOKENS_AMOUNT", "HORIZON_EXTRA_AUDIO_MINUTES_AMOUNT",
		"FIREBASE_SERVICE_ACCOUNT", "FIREBASE_SERVICE_ACCOUNT_B64",
		"HORIZON_POSTGRES_URL", "HORIZON_POSTGRES_MAX_CONNS",
		"HORIZON_REDIS_URL", "HORIZON_REDIS_PASSWORD", "HORIZON_REDIS_DB",
		"RATE_LIMIT_PER_MINUTE", "USER_RATE_LIMIT_PER_MINUTE",
		"HORIZON_LOG_LEVEL", "HORIZON_METRICS_ENABLED", "ALLOWED_ORIGINS",
	} {
		t.Setenv(key, "")
	}
}
