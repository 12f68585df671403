package billing

import (
	"errors"
	"net/http"

	"github.com/stripe/stripe-go/v79"
)

// ErrInvalidRequest marks request validation failures that should surface
// as 400 rather than as a provider error.
var ErrInvalidRequest = errors.New("invalid request")

// ProviderErrorCategory is a coarse classification of billing provider
// failures, used to pick a client-facing status without leaking details.
type ProviderErrorCategory string

const (
	ProviderErrorRateLimit      ProviderErrorCategory = "rate_limit"
	ProviderErrorAuthentication ProviderErrorCategory = "authentication"
	ProviderErrorInvalidRequest ProviderErrorCategory = "invalid_request"
	ProviderErrorConnection     ProviderErrorCategory = "connection"
	ProviderErrorUnknown        ProviderErrorCategory = "unknown"
)

// ClassifyProviderError maps a provider error to a category and the HTTP
// status the client should see.
func ClassifyProviderError(err error) (ProviderErrorCategory, int) {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return ProviderErrorConnection, http.StatusBadGateway
	}

	switch {
	case stripeErr.HTTPStatusCode == http.StatusTooManyRequests:
		return ProviderErrorRateLimit, http.StatusTooManyRequests
	case stripeErr.Type == stripe.ErrorType("authentication_error"):
		return ProviderErrorAuthentication, http.StatusUnauthorized
	case stripeErr.Type == stripe.ErrorTypeInvalidRequest:
		return ProviderErrorInvalidRequest, http.StatusBadRequest
	case stripeErr.Type == stripe.ErrorTypeAPI:
		return ProviderErrorUnknown, http.StatusBadGateway
	default:
		return ProviderErrorUnknown, http.StatusBadGateway
	}
}
