package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentityMatches(t *testing.T) {
	id := &Identity{UID: "user-1", Email: "u@example.com"}

	tests := []struct {
		name         string
		claimedUID   string
		claimedEmail string
		want         bool
	}{
		{"both match", "user-1", "u@example.com", true},
		{"uid only", "user-1", "", true},
		{"email only", "", "u@example.com", true},
		{"nothing asserted", "", "", true},
		{"wrong uid", "user-2", "u@example.com", false},
		{"wrong email", "user-1", "other@example.com", false},
		{"both wrong", "user-2", "other@example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, id.Matches(tt.claimedUID, tt.claimedEmail))
		})
	}
}

func TestIdentityContextRoundTrip(t *testing.T) {
	assert.Nil(t, IdentityFromContext(context.Background()))

	id := &Identity{UID: "user-1"}
	ctx := WithIdentity(context.Background(), id)
	assert.Equal(t, id, IdentityFromContext(ctx))
}
