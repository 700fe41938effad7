package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/nileshop/storefront-api/internal/domain/auth"
	"github.com/nileshop/storefront-api/pkg/httpmiddleware"
)

// Identity is the authenticated caller attached to the request context.
type Identity struct {
	// Subject is the API key ID for key-authenticated requests, or the JWT
	// subject for token-authenticated ones.
	Subject string
	Scopes  []string
}

// HasScope reports whether the identity carries the given scope.
func (id *Identity) HasScope(scope string) bool {
	for _, s := range id.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

type identityKey struct{}

// IdentityFromContext extracts the authenticated identity, if any.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(*Identity)
	return id, ok
}

// Security authenticates requests either by API key (X-Api-Key header,
// HMAC-SHA256 hashed with a server-side pepper before lookup) or by a
// bearer JWT minted from an API key.
type Security struct {
	apikeys auth.Repository
	issuer  *auth.TokenIssuer
	pepper  []byte
}

// NewSecurity creates a Security with the given API key repository, token
// issuer, and HMAC pepper.
func NewSecurity(apikeys auth.Repository, issuer *auth.TokenIssuer, pepper []byte) *Security {
	return &Security{apikeys: apikeys, issuer: issuer, pepper: pepper}
}

// HashKey computes the hex HMAC-SHA256 of an API key with the configured
// pepper. The same derivation is used when provisioning keys.
func (s *Security) HashKey(key string) string {
	mac := hmac.New(sha256.New, s.pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// authenticateKey validates a raw API key against the repository with a
// constant-time comparison of the stored hash.
func (s *Security) authenticateKey(ctx context.Context, key string) (*Identity, bool) {
	mac := hmac.New(sha256.New, s.pepper)
	mac.Write([]byte(key))
	hash := mac.Sum(nil)

	info, err := s.apikeys.FindByHash(ctx, hex.EncodeToString(hash))
	if err != nil {
		return nil, false
	}

	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return nil, false
	}
	if subtle.ConstantTimeCompare(hash, stored) != 1 {
		return nil, false
	}

	return &Identity{Subject: info.ID, Scopes: info.Scopes}, true
}

// authenticateToken validates a bearer JWT and converts its claims to an
// identity.
func (s *Security) authenticateToken(tokenString string) (*Identity, bool) {
	claims, err := s.issuer.Parse(tokenString)
	if err != nil {
		return nil, false
	}
	return &Identity{Subject: claims.Subject, Scopes: claims.Scopes}, true
}

// Authenticate returns a middleware that resolves the caller's identity from
// either the Authorization bearer token or the X-Api-Key header. Requests
// without valid credentials get 401.
func (s *Security) Authenticate() httpmiddleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var (
				id *Identity
				ok bool
			)

			if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
				id, ok = s.authenticateToken(strings.TrimPrefix(header, "Bearer "))
			} else if key := r.Header.Get("X-Api-Key"); key != "" {
				id, ok = s.authenticateKey(r.Context(), key)
			}

			if !ok {
				respondError(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}

			ctx := context.WithValue(r.Context(), identityKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope returns a middleware that rejects authenticated requests whose
// identity lacks the given scope.
func RequireScope(scope string) httpmiddleware.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				respondError(w, r, http.StatusUnauthorized, "unauthorized")
				return
			}
			if !id.HasScope(scope) {
				respondError(w, r, http.StatusForbidden, "insufficient scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
