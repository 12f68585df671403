// Package auth verifies caller ID tokens issued by the identity provider and
// exposes the verified identity to handlers through the request context.
package auth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/recaphorizon/horizon/pkg/contextkeys"
)

// issuerBase is the token issuer for identity-provider projects
const issuerBase = "https://securetoken.google.com/"

// Identity is a verified caller identity extracted from an ID token
type Identity struct {
	UID           string
	Email         string
	EmailVerified bool
}

// Verifier validates bearer ID tokens
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (*Identity, error)
}

// OIDCVerifier validates ID tokens against the identity provider's JWKS
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers the identity provider for the given project and
// builds an ID token verifier. The token audience must equal the project id.
func NewOIDCVerifier(ctx context.Context, projectID string) (*OIDCVerifier, error) {
	if projectID == "" {
		return nil, fmt.Errorf("project id is required")
	}

	provider, err := oidc.NewProvider(ctx, issuerBase+projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to discover identity provider: %w", err)
	}

	return &OIDCVerifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: projectID}),
	}, nil
}

// Verify validates the raw token and extracts the caller identity
func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (*Identity, error) {
	token, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("invalid or expired token: %w", err)
	}

	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
	}
	if err := token.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse token claims: %w", err)
	}

	return &Identity{
		UID:           token.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
	}, nil
}

// WithIdentity stores a verified identity in the context
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextkeys.IdentityKey, id)
}

// IdentityFromContext retrieves the verified identity, or nil when the
// request was not authenticated
func IdentityFromContext(ctx context.Context) *Identity {
	if id, ok := ctx.Value(contextkeys.IdentityKey).(*Identity); ok {
		return id
	}
	return nil
}

// Matches reports whether the identity matches a claimed user id and email.
// Empty claimed values are treated as matching (the field was not asserted).
func (id *Identity) Matches(claimedUID, claimedEmail string) bool {
	if claimedUID != "" && claimedUID != id.UID {
		return false
	}
	if claimedEmail != "" && claimedEmail != id.Email {
		return false
	}
	return true
}
