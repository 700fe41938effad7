package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenIssuer_RoundTrip(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"), time.Hour)

	token, err := issuer.Issue("user-1", []string{ScopeStorefront})
	require.NoError(t, err)

	claims, err := issuer.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, []string{ScopeStorefront}, claims.Scopes)
	assert.NotEmpty(t, claims.ID)
}

func TestTokenIssuer_WrongSecret(t *testing.T) {
	issuer := NewTokenIssuer([]byte("secret-a"), time.Hour)
	other := NewTokenIssuer([]byte("secret-b"), time.Hour)

	token, err := issuer.Issue("user-1", nil)
	require.NoError(t, err)

	_, err = other.Parse(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenIssuer_Expired(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"), time.Minute)

	start := time.Date(2026, time.August, 1, 12, 0, 0, 0, time.UTC)
	issuer.now = func() time.Time { return start }

	token, err := issuer.Issue("user-1", nil)
	require.NoError(t, err)

	issuer.now = func() time.Time { return start.Add(2 * time.Minute) }

	_, err = issuer.Parse(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenIssuer_Garbage(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-secret"), time.Hour)

	_, err := issuer.Parse("not-a-token")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestAPIKeyScopes(t *testing.T) {
	key := &APIKeyInfo{Scopes: []string{ScopeStorefront}}

	assert.True(t, key.HasScope(ScopeStorefront))
	assert.False(t, key.HasScope(ScopeAdmin))
}
