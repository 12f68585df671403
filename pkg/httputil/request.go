package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ParseJSON decodes JSON from the request body into the destination
func ParseJSON(r *http.Request, dest interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}

// ParseJSONOrError decodes JSON and writes error response on failure.
// A body exceeding the MaxBytes limit produces a 413 instead of a 400.
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := ParseJSON(r, dest); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			WritePayloadTooLarge(w)
			return false
		}
		WriteBadRequest(w, err.Error())
		return false
	}
	return true
}

// ClientIP extracts the originating client IP from the request, honoring
// proxy headers when present.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		// First entry is the originating client
		if idx := strings.IndexByte(forwarded, ','); idx >= 0 {
			return strings.TrimSpace(forwarded[:idx])
		}
		return strings.TrimSpace(forwarded)
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RequireNonEmpty returns an error message when value is empty, "" otherwise
func RequireNonEmpty(name, value string) string {
	if strings.TrimSpace(value) == "" {
		return fmt.Sprintf("missing required field: %s", name)
	}
	return ""
}

// ValidateAll writes a 400 and returns false if any validation message is non-empty
func ValidateAll(w http.ResponseWriter, messages ...string) bool {
	for _, msg := range messages {
		if msg != "" {
			WriteBadRequest(w, msg)
			return false
		}
	}
	return true
}
