package billing

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stripe/stripe-go/v79"
)

func TestClassifyProviderError(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantCategory ProviderErrorCategory
		wantStatus   int
	}{
		{
			name:         "plain error treated as connection failure",
			err:          fmt.Errorf("dial tcp: connection refused"),
			wantCategory: ProviderErrorConnection,
			wantStatus:   http.StatusBadGateway,
		},
		{
			name:         "provider rate limit",
			err:          &stripe.Error{HTTPStatusCode: http.StatusTooManyRequests},
			wantCategory: ProviderErrorRateLimit,
			wantStatus:   http.StatusTooManyRequests,
		},
		{
			name:         "authentication failure",
			err:          &stripe.Error{Type: stripe.ErrorType("authentication_error")},
			wantCategory: ProviderErrorAuthentication,
			wantStatus:   http.StatusUnauthorized,
		},
		{
			name:         "invalid request",
			err:          &stripe.Error{Type: stripe.ErrorTypeInvalidRequest},
			wantCategory: ProviderErrorInvalidRequest,
			wantStatus:   http.StatusBadRequest,
		},
		{
			name:         "provider api error",
			err:          &stripe.Error{Type: stripe.ErrorTypeAPI},
			wantCategory: ProviderErrorUnknown,
			wantStatus:   http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			category, status := ClassifyProviderError(tt.err)
			assert.Equal(t, tt.wantCategory, category)
			assert.Equal(t, tt.wantStatus, status)
		})
	}
}
