package api

import (
	"errors"
	"net/http"

	"github.com/recaphorizon/horizon/pkg/auth"
	"github.com/recaphorizon/horizon/pkg/billing"
	"github.com/recaphorizon/horizon/pkg/httputil"
	"github.com/recaphorizon/horizon/pkg/observability"
)

// CheckoutHandlers handles checkout session and reactivation requests
type CheckoutHandlers struct {
	checkout *billing.CheckoutService
	logger   *observability.Logger
}

// NewCheckoutHandlers creates a new CheckoutHandlers
func NewCheckoutHandlers(checkout *billing.CheckoutService, logger *observability.Logger) *CheckoutHandlers {
	return &CheckoutHandlers{
		checkout: checkout,
		logger:   logger,
	}
}

// CreateCheckoutSession creates a Stripe Checkout session for the caller
func (h *CheckoutHandlers) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req billing.CheckoutRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.checkout.ValidateCheckout(&req); err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	// The body's user claims must belong to the authenticated caller
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	if !identity.Matches(req.UserID, req.UserEmail) {
		h.logger.WithFields(map[string]any{
			"uid":          identity.UID,
			"claimed_user": req.UserID,
		}).Warn("checkout request user claims do not match token")
		httputil.WriteForbidden(w, "user claims do not match the authenticated user")
		return
	}

	resp, err := h.checkout.CreateCheckoutSession(r.Context(), &req)
	if err != nil {
		category, status := billing.ClassifyProviderError(err)
		h.logger.WithError(err).WithField("category", string(category)).Error("checkout session creation failed")
		httputil.WriteErrorMessage(w, status, "failed to create checkout session")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, resp)
}

// ReactivateSubscription creates a fresh subscription for an existing customer
func (h *CheckoutHandlers) ReactivateSubscription(w http.ResponseWriter, r *http.Request) {
	var req billing.ReactivationRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if auth.IdentityFromContext(r.Context()) == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	resp, err := h.checkout.ReactivateSubscription(r.Context(), &req)
	if err != nil {
		if errors.Is(err, billing.ErrInvalidRequest) {
			httputil.WriteBadRequest(w, err.Error())
			return
		}
		category, status := billing.ClassifyProviderError(err)
		h.logger.WithError(err).WithField("category", string(category)).Error("subscription reactivation failed")
		httputil.WriteErrorMessage(w, status, "failed to reactivate subscription")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, resp)
}
