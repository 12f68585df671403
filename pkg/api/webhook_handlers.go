package api

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/recaphorizon/horizon/pkg/billing"
	"github.com/recaphorizon/horizon/pkg/config"
	"github.com/recaphorizon/horizon/pkg/httputil"
	"github.com/recaphorizon/horizon/pkg/observability"
)

// WebhookHandlers handles incoming Stripe webhook deliveries
type WebhookHandlers struct {
	cfg       *config.Config
	processor *billing.WebhookProcessor
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// NewWebhookHandlers creates a new WebhookHandlers
func NewWebhookHandlers(cfg *config.Config, processor *billing.WebhookProcessor, logger *observability.Logger, metrics *observability.Metrics) *WebhookHandlers {
	return &WebhookHandlers{
		cfg:       cfg,
		processor: processor,
		logger:    logger,
		metrics:   metrics,
	}
}

// HandleWebhook verifies and processes a Stripe webhook delivery.
//
// The endpoint always acknowledges verified events with 200, including
// event types it does not handle, so Stripe does not retry them. It
// returns 500 for processing failures so Stripe retries the delivery.
func (h *WebhookHandlers) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.WriteMethodNotAllowed(w, "only POST is accepted")
		return
	}

	// Fail closed: without both secrets we cannot verify signatures,
	// so deliveries are rejected rather than processed unverified.
	if !h.cfg.WebhookConfigured() {
		h.logger.Error("webhook received but Stripe secrets are not configured")
		httputil.WriteInternalError(w, "webhook processing is not configured")
		return
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WithError(err).Warn("failed to read webhook body")
		httputil.WriteInternalError(w, "failed to read request body")
		return
	}
	payload = normalizePayload(payload)

	event, err := webhook.ConstructEventWithOptions(
		payload,
		r.Header.Get("Stripe-Signature"),
		h.cfg.Stripe.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		h.logger.WithError(err).Warn("webhook signature verification failed")
		httputil.WriteBadRequest(w, "invalid signature")
		return
	}

	if err := h.processor.Process(r.Context(), event); err != nil {
		h.logger.WithError(err).WithFields(map[string]any{
			"event_id":   event.ID,
			"event_type": string(event.Type),
		}).Error("webhook processing failed")
		httputil.WriteInternalError(w, "event processing failed")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// normalizePayload undoes transport-level base64 encoding that some
// delivery proxies apply to the raw body. The signature is computed over
// the decoded JSON payload, so decode before verification.
func normalizePayload(body []byte) []byte {
	if len(body) == 0 || body[0] == '{' {
		return body
	}
	if !json.Valid(body) {
		if decoded, err := base64.StdEncoding.DecodeString(string(body)); err == nil && json.Valid(decoded) {
			return decoded
		}
	}
	return body
}
