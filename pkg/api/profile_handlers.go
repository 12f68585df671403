package api

import (
	"errors"
	"net/http"

	"github.com/recaphorizon/horizon/pkg/auth"
	"github.com/recaphorizon/horizon/pkg/billing"
	"github.com/recaphorizon/horizon/pkg/httputil"
	"github.com/recaphorizon/horizon/pkg/observability"
)

// ProfileHandlers serves the billing view of user profiles
type ProfileHandlers struct {
	store  billing.Store
	logger *observability.Logger
}

// NewProfileHandlers creates a new ProfileHandlers
func NewProfileHandlers(store billing.Store, logger *observability.Logger) *ProfileHandlers {
	return &ProfileHandlers{
		store:  store,
		logger: logger,
	}
}

// GetSubscription returns the authenticated user's subscription state
func (h *ProfileHandlers) GetSubscription(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	profile, err := h.store.GetProfile(r.Context(), identity.UID)
	if err != nil {
		if errors.Is(err, billing.ErrProfileNotFound) {
			httputil.WriteNotFoundError(w, "profile not found")
			return
		}
		h.logger.WithError(err).WithField("uid", identity.UID).Error("failed to load profile")
		httputil.WriteInternalError(w, "failed to load subscription")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, profile)
}
