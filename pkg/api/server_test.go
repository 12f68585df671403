package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"

	"github.com/recaphorizon/horizon/pkg/auth"
	"github.com/recaphorizon/horizon/pkg/billing"
	"github.com/recaphorizon/horizon/pkg/config"
	"github.com/recaphorizon/horizon/pkg/middleware"
	"github.com/recaphorizon/horizon/pkg/observability"
	"github.com/recaphorizon/horizon/pkg/referral"
)

type fakeVerifier struct {
	identity *auth.Identity
}

func (f *fakeVerifier) Verify(ctx context.Context, rawToken string) (*auth.Identity, error) {
	if f.identity == nil {
		return nil, fmt.Errorf("invalid token")
	}
	return f.identity, nil
}

func testServer(t *testing.T) *Server {
	t.Helper()

	cfg := &config.Config{
		Server: config.ServerConfig{
			Port:         "8080",
			MaxBodyBytes: 1 << 20,
		},
		AllowedOrigins: []string{"https://app.example.com"},
		Observability:  config.ObservabilityConfig{MetricsEnabled: true},
	}
	cfg.Stripe.SecretKey = "sk_test_1"
	cfg.Stripe.WebhookSecret = testWebhookSecret

	store := &fakeBillingStore{}
	resolver := billing.NewTierResolver(map[string]string{"price_gold": "gold"}, []string{"price_gold"})
	logger := testLogger()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	limiter := middleware.NewRateLimitMiddleware(middleware.NewMemoryStore(), 100, 100, logger, metrics)

	return NewServer(ServerOptions{
		Config:    cfg,
		Logger:    logger,
		Metrics:   metrics,
		Verifier:  &fakeVerifier{},
		Store:     store,
		Processor: billing.NewWebhookProcessor(store, noopLedger{}, resolver, billing.AddonConfig{}, logger, metrics),
		Checkout:  billing.NewCheckoutService(store, resolver, "https://app.example.com", logger, metrics),
		Referrals: referral.NewService(nil),
		RateLimit: limiter,
	})
}

func TestServerWebhookRouteRejectsGET(t *testing.T) {
	srv := testServer(t)

	req := httptest.NewRequest("GET", "/stripe-webhook", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServerMetricsRoute(t *testing.T) {
	srv := testServer(t)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServerBrowserRouteRejectsUnknownOrigin(t *testing.T) {
	srv := testServer(t)

	req := httptest.NewRequest("POST", "/create-checkout-session", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServerBrowserRouteRequiresJSONContentType(t *testing.T) {
	srv := testServer(t)

	req := httptest.NewRequest("POST", "/create-checkout-session", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestServerPreflight(t *testing.T) {
	srv := testServer(t)

	req := httptest.NewRequest("OPTIONS", "/create-checkout-session", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServerRequestIDHeader(t *testing.T) {
	srv := testServer(t)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	// Operational routes skip the middleware chain, so no request id here;
	// the webhook route carries the full base chain.
	req = httptest.NewRequest("GET", "/stripe-webhook", nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}