package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stripe/stripe-go/v79"

	"github.com/recaphorizon/horizon/pkg/api"
	"github.com/recaphorizon/horizon/pkg/auth"
	"github.com/recaphorizon/horizon/pkg/billing"
	"github.com/recaphorizon/horizon/pkg/config"
	"github.com/recaphorizon/horizon/pkg/middleware"
	"github.com/recaphorizon/horizon/pkg/observability"
	"github.com/recaphorizon/horizon/pkg/referral"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		os.Stderr.WriteString("failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	if !cfg.WebhookConfigured() {
		logger.Warn("Stripe secrets are not configured, webhook deliveries will be rejected")
	}

	db, err := sql.Open("postgres", cfg.Postgres.URL)
	if err != nil {
		logger.WithError(err).Error("failed to open database")
		os.Exit(1)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Postgres.MaxConns)
	if err := db.Ping(); err != nil {
		logger.WithError(err).Error("failed to ping database")
		os.Exit(1)
	}

	stripe.Key = cfg.Stripe.SecretKey

	metrics := observability.NewMetrics(prometheus.NewRegistry())

	// Redis backs the shared rate-limit store. When it is unavailable the
	// service falls back to a per-instance in-memory limiter.
	var redisClient *redis.Client
	var limiterStore middleware.RateLimitStore
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.WithError(err).Error("invalid redis url")
			os.Exit(1)
		}
		if cfg.Redis.Password != "" {
			opts.Password = cfg.Redis.Password
		}
		if cfg.Redis.DB != 0 {
			opts.DB = cfg.Redis.DB
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.WithError(err).Warn("redis unreachable, using in-memory rate limiter")
			redisClient = nil
		}
	}
	if redisClient != nil {
		limiterStore = middleware.NewRedisStore(redisClient, "ratelimit")
		logger.Info("rate limiting backed by redis")
	} else {
		memStore := middleware.NewMemoryStore()
		memStore.StartCleanup(context.Background(), time.Minute)
		limiterStore = memStore
		logger.Warn("rate limiting is per-instance only")
	}
	rateLimit := middleware.NewRateLimitMiddleware(
		limiterStore, cfg.RateLimit.PerIPPerMinute, cfg.RateLimit.PerUserPerMinute, logger, metrics)

	var verifier auth.Verifier
	if sa := cfg.Identity.ServiceAccount; sa != nil {
		v, err := auth.NewOIDCVerifier(context.Background(), sa.ProjectID)
		if err != nil {
			logger.WithError(err).Error("failed to initialize token verifier")
			os.Exit(1)
		}
		verifier = v
	} else {
		logger.Warn("identity service account not configured, authenticated endpoints will reject requests")
	}

	store, err := billing.NewPostgresStore(db, logger)
	if err != nil {
		logger.WithError(err).Error("failed to initialize billing store")
		os.Exit(1)
	}
	ledger := billing.NewPostgresLedger(db)
	resolver := billing.NewTierResolver(cfg.Stripe.PriceTiers, cfg.Stripe.AllowedPriceIDs)
	processor := billing.NewWebhookProcessor(store, ledger, resolver, billing.AddonConfig{
		ProductID:                cfg.Stripe.HorizonProductID,
		ExtraTokensPriceID:       cfg.Stripe.ExtraTokensPriceID,
		ExtraAudioMinutesPriceID: cfg.Stripe.ExtraAudioMinutesPriceID,
		ExtraTokensAmount:        cfg.Stripe.ExtraTokensAmount,
		ExtraAudioMinutesAmount:  cfg.Stripe.ExtraAudioMinutesAmount,
	}, logger, metrics)
	processor.SetLineItemLister(billing.StripeLineItems)
	checkout := billing.NewCheckoutService(store, resolver, cfg.Stripe.FrontendURL, logger, metrics)
	referrals := referral.NewService(db)

	scheduler := billing.NewTierChangeScheduler(store, logger, metrics)
	if err := scheduler.Start(); err != nil {
		logger.WithError(err).Error("failed to start tier change scheduler")
		os.Exit(1)
	}

	server := api.NewServer(api.ServerOptions{
		Config:    cfg,
		Logger:    logger,
		Metrics:   metrics,
		Health:    observability.NewHealthChecker(db, redisClient),
		Verifier:  verifier,
		Store:     store,
		Processor: processor,
		Checkout:  checkout,
		Referrals: referrals,
		RateLimit: rateLimit,
	})

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	httpServer := api.NewHTTPServer(addr, server, cfg.Server)

	go func() {
		logger.WithField("addr", addr).Info("horizon billing service listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("http server failed")
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.WithError(err).Warn("graceful shutdown did not complete")
	}
	if redisClient != nil {
		redisClient.Close()
	}
	logger.Info("stopped")
}
