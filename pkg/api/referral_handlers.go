package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/recaphorizon/horizon/pkg/auth"
	"github.com/recaphorizon/horizon/pkg/httputil"
	"github.com/recaphorizon/horizon/pkg/observability"
	"github.com/recaphorizon/horizon/pkg/referral"
)

// ReferralHandlers handles referral program enrollment
type ReferralHandlers struct {
	referrals *referral.Service
	logger    *observability.Logger
}

// NewReferralHandlers creates a new ReferralHandlers
func NewReferralHandlers(referrals *referral.Service, logger *observability.Logger) *ReferralHandlers {
	return &ReferralHandlers{
		referrals: referrals,
		logger:    logger,
	}
}

type enrollRequest struct {
	PayPalMeLink string `json:"paypalMeLink"`
}

// Enroll enrolls the authenticated user in the referral program
func (h *ReferralHandlers) Enroll(w http.ResponseWriter, r *http.Request) {
	identity := auth.IdentityFromContext(r.Context())
	if identity == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req enrollRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	link := strings.TrimSpace(req.PayPalMeLink)
	if link == "" {
		httputil.WriteBadRequest(w, "paypalMeLink is required")
		return
	}
	if !strings.HasPrefix(link, "https://paypal.me/") && !strings.HasPrefix(link, "https://www.paypal.me/") {
		httputil.WriteBadRequest(w, "paypalMeLink must be a paypal.me URL")
		return
	}

	enrollment, err := h.referrals.Enroll(r.Context(), identity.UID, link)
	if err != nil {
		switch {
		case errors.Is(err, referral.ErrAlreadyEnrolled):
			httputil.WriteConflict(w, "already enrolled in the referral program")
		case errors.Is(err, referral.ErrCodeCollision):
			h.logger.WithError(err).Error("referral code generation exhausted retries")
			httputil.WriteInternalError(w, "failed to generate referral code")
		default:
			h.logger.WithError(err).WithField("uid", identity.UID).Error("referral enrollment failed")
			httputil.WriteInternalError(w, "enrollment failed")
		}
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, enrollment)
}
