package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recaphorizon/horizon/pkg/auth"
	"github.com/recaphorizon/horizon/pkg/billing"
)

func TestGetSubscriptionRequiresAuth(t *testing.T) {
	h := NewProfileHandlers(&fakeBillingStore{}, testLogger())

	req := httptest.NewRequest("GET", "/subscription", nil)
	rec := httptest.NewRecorder()
	h.GetSubscription(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGetSubscriptionNotFound(t *testing.T) {
	h := NewProfileHandlers(&fakeBillingStore{}, testLogger())

	req := httptest.NewRequest("GET", "/subscription", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))
	rec := httptest.NewRecorder()
	h.GetSubscription(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetSubscriptionReturnsProfile(t *testing.T) {
	store := &fakeBillingStore{profile: &billing.UserProfile{
		ID:               "user-1",
		Email:            "u@example.com",
		SubscriptionTier: billing.TierGold,
	}}
	h := NewProfileHandlers(store, testLogger())

	req := httptest.NewRequest("GET", "/subscription", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: "user-1"}))
	rec := httptest.NewRecorder()
	h.GetSubscription(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got billing.UserProfile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, billing.TierGold, got.SubscriptionTier)
	assert.Equal(t, "u@example.com", got.Email)
}
