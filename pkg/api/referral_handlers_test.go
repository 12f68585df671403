package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recaphorizon/horizon/pkg/auth"
	"github.com/recaphorizon/horizon/pkg/referral"
)

func setupReferralHandlers(t *testing.T) (*ReferralHandlers, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return NewReferralHandlers(referral.NewService(db), testLogger()), mock, func() { db.Close() }
}

func TestEnrollRequiresAuth(t *testing.T) {
	h, _, cleanup := setupReferralHandlers(t)
	defer cleanup()

	rec := httptest.NewRecorder()
	h.Enroll(rec, postJSON("/referral/enroll", `{"paypalMeLink":"https://paypal.me/user"}`, nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEnrollRejectsMissingLink(t *testing.T) {
	h, _, cleanup := setupReferralHandlers(t)
	defer cleanup()

	identity := &auth.Identity{UID: "user-1"}
	rec := httptest.NewRecorder()
	h.Enroll(rec, postJSON("/referral/enroll", `{}`, identity))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEnrollRejectsNonPayPalLink(t *testing.T) {
	h, _, cleanup := setupReferralHandlers(t)
	defer cleanup()

	identity := &auth.Identity{UID: "user-1"}
	rec := httptest.NewRecorder()
	h.Enroll(rec, postJSON("/referral/enroll", `{"paypalMeLink":"https://evil.example.com/user"}`, identity))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEnrollCreatesEnrollment(t *testing.T) {
	h, mock, cleanup := setupReferralHandlers(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT referral_code FROM user_profiles").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"referral_code"}).AddRow(nil))
	mock.ExpectQuery("SELECT EXISTS").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("UPDATE user_profiles").
		WillReturnRows(sqlmock.NewRows([]string{"referral_enrolled_at"}).AddRow(time.Now()))
	mock.ExpectCommit()

	identity := &auth.Identity{UID: "user-1"}
	rec := httptest.NewRecorder()
	h.Enroll(rec, postJSON("/referral/enroll", `{"paypalMeLink":"https://paypal.me/user"}`, identity))
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestEnrollConflictWhenAlreadyEnrolled(t *testing.T) {
	h, mock, cleanup := setupReferralHandlers(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT referral_code FROM user_profiles").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"referral_code"}).AddRow("EXISTINGCODE12345678"))
	mock.ExpectRollback()

	identity := &auth.Identity{UID: "user-1"}
	rec := httptest.NewRecorder()
	h.Enroll(rec, postJSON("/referral/enroll", `{"paypalMeLink":"https://paypal.me/user"}`, identity))
	assert.Equal(t, http.StatusConflict, rec.Code)
}
