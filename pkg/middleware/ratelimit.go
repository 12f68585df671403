package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/recaphorizon/horizon/pkg/auth"
	"github.com/recaphorizon/horizon/pkg/httputil"
	"github.com/recaphorizon/horizon/pkg/observability"
)

// RateLimitResult is the outcome of a rate limit check
type RateLimitResult struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RateLimitStore checks sliding-window rate limits for a key. Implementations
// decide whether counts are shared across instances.
type RateLimitStore interface {
	Check(ctx context.Context, key string, limit int, window time.Duration) (RateLimitResult, error)
}

// MemoryStore is a per-process sliding-window rate limit store. Counts reset
// on restart and are not shared across instances; use the Redis store when
// more than one instance serves traffic.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string][]time.Time
	now     func() time.Time
}

// NewMemoryStore creates an in-memory rate limit store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Check prunes timestamps outside the window, then either rejects with a
// retry hint or records the request.
func (s *MemoryStore) Check(_ context.Context, key string, limit int, window time.Duration) (RateLimitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-window)

	stamps := s.windows[key]
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= limit {
		s.windows[key] = kept
		oldest := kept[0]
		retry := oldest.Add(window).Sub(now)
		// Round up to whole seconds for the Retry-After header
		retrySeconds := int64(retry / time.Second)
		if retry%time.Second > 0 {
			retrySeconds++
		}
		if retrySeconds < 1 {
			retrySeconds = 1
		}
		return RateLimitResult{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: time.Duration(retrySeconds) * time.Second,
		}, nil
	}

	s.windows[key] = append(kept, now)
	return RateLimitResult{
		Allowed:   true,
		Remaining: limit - len(kept) - 1,
	}, nil
}

// Cleanup removes keys with no activity in the past window (should be called
// periodically)
func (s *MemoryStore) Cleanup(window time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-window)
	for key, stamps := range s.windows {
		if len(stamps) == 0 || !stamps[len(stamps)-1].After(cutoff) {
			delete(s.windows, key)
		}
	}
}

// StartCleanup starts a background goroutine to drop idle keys
func (s *MemoryStore) StartCleanup(ctx context.Context, window time.Duration) {
	ticker := time.NewTicker(window)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Cleanup(window)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// RateLimitMiddleware applies per-IP and per-user sliding-window limits.
// A request must pass both dimensions; the per-user check only applies to
// authenticated requests.
type RateLimitMiddleware struct {
	store    RateLimitStore
	perIP    int
	perUser  int
	window   time.Duration
	logger   *observability.Logger
	metrics  *observability.Metrics
	failOpen bool
}

// NewRateLimitMiddleware creates the shared ingress rate limiter
func NewRateLimitMiddleware(store RateLimitStore, perIPPerMinute, perUserPerMinute int, logger *observability.Logger, metrics *observability.Metrics) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		store:    store,
		perIP:    perIPPerMinute,
		perUser:  perUserPerMinute,
		window:   time.Minute,
		logger:   logger,
		metrics:  metrics,
		failOpen: true,
	}
}

// SetFailOpen controls whether store errors allow (true) or reject (false)
// the request
func (m *RateLimitMiddleware) SetFailOpen(failOpen bool) {
	m.failOpen = failOpen
}

// Handler wraps an HTTP handler with rate limiting
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		ipKey := "ip:" + httputil.ClientIP(r)
		result, err := m.store.Check(ctx, ipKey, m.perIP, m.window)
		if err != nil {
			if !m.handleStoreError(w, err) {
				return
			}
		} else if !result.Allowed {
			m.reject(w, "ip", m.perIP, result)
			return
		}

		if id := auth.IdentityFromContext(ctx); id != nil {
			userResult, err := m.store.Check(ctx, "user:"+id.UID, m.perUser, m.window)
			if err != nil {
				if !m.handleStoreError(w, err) {
					return
				}
			} else if !userResult.Allowed {
				m.reject(w, "user", m.perUser, userResult)
				return
			} else {
				result = userResult
			}
		}

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", m.perIP))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", result.Remaining))
		next.ServeHTTP(w, r)
	})
}

// handleStoreError reports whether the request should proceed
func (m *RateLimitMiddleware) handleStoreError(w http.ResponseWriter, err error) bool {
	m.logger.WithError(err).Warn("rate limit store error")
	if m.failOpen {
		return true
	}
	httputil.WriteErrorMessage(w, http.StatusServiceUnavailable, "service temporarily unavailable")
	return false
}

func (m *RateLimitMiddleware) reject(w http.ResponseWriter, dimension string, limit int, result RateLimitResult) {
	if m.metrics != nil {
		m.metrics.RateLimitRejectionsTotal.WithLabelValues(dimension).Inc()
	}

	retrySeconds := int(result.RetryAfter / time.Second)
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retrySeconds))
	w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limit))
	w.Header().Set("X-RateLimit-Remaining", "0")
	httputil.WriteTooManyRequests(w, fmt.Sprintf("rate limit exceeded, retry after %ds", retrySeconds))
}
