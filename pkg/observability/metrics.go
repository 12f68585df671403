package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Webhook metrics
	WebhookEventsTotal     *prometheus.CounterVec
	WebhookErrorsTotal     *prometheus.CounterVec
	WebhookDuplicatesTotal *prometheus.CounterVec

	// Billing metrics
	CheckoutSessionsTotal   *prometheus.CounterVec
	ReactivationsTotal      *prometheus.CounterVec
	TierChangesAppliedTotal prometheus.Counter
	OrphanCustomerLookups   prometheus.Counter

	// Rate limit metrics
	RateLimitRejectionsTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "horizon_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "horizon_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "horizon_webhook_events_total",
				Help: "Total number of Stripe webhook events processed",
			},
			[]string{"type", "outcome"},
		),
		WebhookErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "horizon_webhook_errors_total",
				Help: "Total number of webhook processing errors",
			},
			[]string{"type"},
		),
		WebhookDuplicatesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "horizon_webhook_duplicates_total",
				Help: "Webhook events skipped because the event id was already processed",
			},
			[]string{"type"},
		),
		CheckoutSessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "horizon_checkout_sessions_total",
				Help: "Checkout sessions created, by outcome",
			},
			[]string{"outcome"},
		),
		ReactivationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "horizon_reactivations_total",
				Help: "Subscription reactivations, by outcome",
			},
			[]string{"outcome"},
		),
		TierChangesAppliedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "horizon_tier_changes_applied_total",
				Help: "Scheduled tier changes applied by the background job",
			},
		),
		OrphanCustomerLookups: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "horizon_orphan_customer_lookups_total",
				Help: "Webhook events whose billing customer id matched no user profile",
			},
		),
		RateLimitRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "horizon_ratelimit_rejections_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"dimension"},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.WebhookEventsTotal,
		m.WebhookErrorsTotal,
		m.WebhookDuplicatesTotal,
		m.CheckoutSessionsTotal,
		m.ReactivationsTotal,
		m.TierChangesAppliedTotal,
		m.OrphanCustomerLookups,
		m.RateLimitRejectionsTotal,
	)

	return m
}

// Handler returns an HTTP handler that serves the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// HTTPMiddleware records request counts and latencies per route
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
