package middleware

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recaphorizon/horizon/pkg/auth"
	"github.com/recaphorizon/horizon/pkg/observability"
)

func TestMemoryStoreAllowsUpToLimit(t *testing.T) {
	store := NewMemoryStore()

	for i := 0; i < 5; i++ {
		result, err := store.Check(context.Background(), "k", 5, time.Minute)
		require.NoError(t, err)
		assert.True(t, result.Allowed, "request %d should be allowed", i+1)
		assert.Equal(t, 4-i, result.Remaining)
	}

	result, err := store.Check(context.Background(), "k", 5, time.Minute)
	require.NoError(t, err)
	assert.False(t, result.Allowed, "request over the limit must be rejected")
	assert.GreaterOrEqual(t, result.RetryAfter, time.Second)
}

func TestMemoryStoreWindowSlides(t *testing.T) {
	store := NewMemoryStore()
	current := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }

	for i := 0; i < 3; i++ {
		result, err := store.Check(context.Background(), "k", 3, time.Minute)
		require.NoError(t, err)
		require.True(t, result.Allowed)
	}

	result, err := store.Check(context.Background(), "k", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, time.Minute, result.RetryAfter)

	// After the oldest timestamp leaves the window the key admits again
	current = current.Add(61 * time.Second)
	result, err = store.Check(context.Background(), "k", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestMemoryStoreKeysAreIndependent(t *testing.T) {
	store := NewMemoryStore()

	result, err := store.Check(context.Background(), "a", 1, time.Minute)
	require.NoError(t, err)
	require.True(t, result.Allowed)

	result, err = store.Check(context.Background(), "a", 1, time.Minute)
	require.NoError(t, err)
	assert.False(t, result.Allowed)

	result, err = store.Check(context.Background(), "b", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, result.Allowed, "a separate key has its own window")
}

func TestMemoryStoreCleanup(t *testing.T) {
	store := NewMemoryStore()
	current := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }

	_, err := store.Check(context.Background(), "stale", 5, time.Minute)
	require.NoError(t, err)

	current = current.Add(2 * time.Minute)
	store.Cleanup(time.Minute)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.NotContains(t, store.windows, "stale")
}

type erroringStore struct{}

func (erroringStore) Check(context.Context, string, int, time.Duration) (RateLimitResult, error) {
	return RateLimitResult{}, fmt.Errorf("store unavailable")
}

func testLimiter(store RateLimitStore, perIP, perUser int) *RateLimitMiddleware {
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewRateLimitMiddleware(store, perIP, perUser, logger, nil)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitMiddlewarePerIP(t *testing.T) {
	limiter := testLimiter(NewMemoryStore(), 2, 10)
	handler := limiter.Handler(okHandler())

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/", nil)
		req.RemoteAddr = "198.51.100.7:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	req := httptest.NewRequest("POST", "/", nil)
	req.RemoteAddr = "198.51.100.7:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimitMiddlewarePerUser(t *testing.T) {
	limiter := testLimiter(NewMemoryStore(), 100, 1)
	handler := limiter.Handler(okHandler())

	identity := &auth.Identity{UID: "user-1"}

	req := httptest.NewRequest("POST", "/", nil)
	req.RemoteAddr = "198.51.100.7:1234"
	req = req.WithContext(auth.WithIdentity(req.Context(), identity))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// Same user from a different IP still hits the per-user limit
	req = httptest.NewRequest("POST", "/", nil)
	req.RemoteAddr = "203.0.113.9:4321"
	req = req.WithContext(auth.WithIdentity(req.Context(), identity))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRateLimitMiddlewareAnonymousSkipsUserCheck(t *testing.T) {
	limiter := testLimiter(NewMemoryStore(), 100, 1)
	handler := limiter.Handler(okHandler())

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("POST", "/", nil)
		req.RemoteAddr = "198.51.100.7:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRateLimitMiddlewareFailOpen(t *testing.T) {
	limiter := testLimiter(erroringStore{}, 1, 1)
	handler := limiter.Handler(okHandler())

	req := httptest.NewRequest("POST", "/", nil)
	req.RemoteAddr = "198.51.100.7:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, "store failure must not block traffic by default")
}

func TestRateLimitMiddlewareFailClosed(t *testing.T) {
	limiter := testLimiter(erroringStore{}, 1, 1)
	limiter.SetFailOpen(false)
	handler := limiter.Handler(okHandler())

	req := httptest.NewRequest("POST", "/", nil)
	req.RemoteAddr = "198.51.100.7:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
