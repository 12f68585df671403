package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/recaphorizon/horizon/pkg/auth"
	"github.com/recaphorizon/horizon/pkg/billing"
	"github.com/recaphorizon/horizon/pkg/config"
	"github.com/recaphorizon/horizon/pkg/httputil"
	"github.com/recaphorizon/horizon/pkg/middleware"
	"github.com/recaphorizon/horizon/pkg/observability"
	"github.com/recaphorizon/horizon/pkg/referral"
)

// Server represents the billing API server
type Server struct {
	router   *mux.Router
	cfg      *config.Config
	logger   *observability.Logger
	metrics  *observability.Metrics
	health   *observability.HealthChecker
	verifier auth.Verifier

	webhookHandlers  *WebhookHandlers
	checkoutHandlers *CheckoutHandlers
	referralHandlers *ReferralHandlers
	profileHandlers  *ProfileHandlers
}

// ServerOptions bundles the dependencies for a Server
type ServerOptions struct {
	Config    *config.Config
	Logger    *observability.Logger
	Metrics   *observability.Metrics
	Health    *observability.HealthChecker
	Verifier  auth.Verifier
	Store     billing.Store
	Processor *billing.WebhookProcessor
	Checkout  *billing.CheckoutService
	Referrals *referral.Service
	RateLimit *middleware.RateLimitMiddleware
}

// NewServer creates a new API server and wires up all routes
func NewServer(opts ServerOptions) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		cfg:      opts.Config,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		health:   opts.Health,
		verifier: opts.Verifier,
	}

	s.webhookHandlers = NewWebhookHandlers(opts.Config, opts.Processor, opts.Logger, opts.Metrics)
	s.checkoutHandlers = NewCheckoutHandlers(opts.Checkout, opts.Logger)
	s.referralHandlers = NewReferralHandlers(opts.Referrals, opts.Logger)
	s.profileHandlers = NewProfileHandlers(opts.Store, opts.Logger)

	s.setupRoutes(opts)
	return s
}

// setupRoutes configures all API routes with their middleware chains
func (s *Server) setupRoutes(opts ServerOptions) {
	base := []func(http.Handler) http.Handler{
		httputil.RecoveryMiddleware(s.logger),
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(s.logger),
	}
	if s.metrics != nil {
		base = append(base, s.metrics.HTTPMiddleware)
	}
	base = append(base, httputil.MaxBytesMiddleware(s.cfg.Server.MaxBodyBytes))

	origin := middleware.NewOriginMiddleware(s.cfg.AllowedOrigins)
	requireAuth := middleware.NewAuthMiddleware(s.verifier, false)
	optionalAuth := middleware.NewAuthMiddleware(s.verifier, true)

	// Webhook endpoint: no origin check, no auth, no JSON content-type
	// enforcement. Rate limited per IP only, signature verified in the
	// handler. Any method other than POST is rejected there with 405.
	webhookChain := append([]func(http.Handler) http.Handler{}, base...)
	if opts.RateLimit != nil {
		webhookChain = append(webhookChain, opts.RateLimit.Handler)
	}
	// All methods route to the handler so it can answer 405 itself
	s.router.Handle("/stripe-webhook",
		httputil.Chain(webhookChain...)(http.HandlerFunc(s.webhookHandlers.HandleWebhook)))

	// Browser-facing endpoints: origin allow-list, JSON bodies, rate
	// limited per IP and per authenticated user.
	browser := append([]func(http.Handler) http.Handler{}, base...)
	browser = append(browser, origin.Handler, httputil.ContentTypeMiddleware)
	if opts.RateLimit != nil {
		browser = append(browser, opts.RateLimit.Handler)
	}

	s.handleBrowser("/create-checkout-session", s.checkoutHandlers.CreateCheckoutSession, browser, optionalAuth)
	s.handleBrowser("/reactivate-subscription", s.checkoutHandlers.ReactivateSubscription, browser, optionalAuth)
	s.handleBrowser("/referral/enroll", s.referralHandlers.Enroll, browser, requireAuth)

	profileChain := append([]func(http.Handler) http.Handler{}, base...)
	profileChain = append(profileChain, origin.Handler)
	if opts.RateLimit != nil {
		profileChain = append(profileChain, opts.RateLimit.Handler)
	}
	profileChain = append(profileChain, requireAuth.Handler)
	s.router.Handle("/subscription",
		httputil.Chain(profileChain...)(http.HandlerFunc(s.profileHandlers.GetSubscription))).Methods("GET")

	// Operational endpoints bypass rate limiting and origin checks
	if s.health != nil {
		s.router.HandleFunc("/healthz", s.health.Liveness).Methods("GET")
		s.router.HandleFunc("/readyz", s.health.Readiness).Methods("GET")
	}
	if s.metrics != nil && s.cfg.Observability.MetricsEnabled {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}
}

func (s *Server) handleBrowser(path string, h http.HandlerFunc, chain []func(http.Handler) http.Handler, authMW *middleware.AuthMiddleware) {
	full := append([]func(http.Handler) http.Handler{}, chain...)
	full = append(full, authMW.Handler)
	// OPTIONS is answered by the origin middleware for preflight
	s.router.Handle(path, httputil.Chain(full...)(h)).Methods("POST", "OPTIONS")
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// NewHTTPServer wraps the API server in an http.Server with the configured
// timeouts
func NewHTTPServer(addr string, handler http.Handler, srv config.ServerConfig) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       srv.ReadTimeout,
		WriteTimeout:      srv.WriteTimeout,
		IdleTimeout:       srv.IdleTimeout,
	}
}
