package middleware

import (
	"net/http"

	"github.com/recaphorizon/horizon/pkg/httputil"
)

// OriginMiddleware enforces the browser origin allow-list and answers CORS
// preflight requests. One shared instance replaces per-handler origin checks.
type OriginMiddleware struct {
	allowed map[string]bool
}

// NewOriginMiddleware creates an origin-checking middleware. An empty
// allow-list rejects every cross-origin request.
func NewOriginMiddleware(allowedOrigins []string) *OriginMiddleware {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}
	return &OriginMiddleware{allowed: allowed}
}

// Handler wraps an HTTP handler with origin checks. Requests without an
// Origin header (server-to-server calls, webhook deliveries) pass through.
func (m *OriginMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		if !m.allowed[origin] {
			httputil.WriteForbidden(w, "origin not allowed")
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.Header().Set("Access-Control-Max-Age", "3600")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
