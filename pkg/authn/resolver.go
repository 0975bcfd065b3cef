package authn

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/carlos-israelj/ChainGuard-SDK/pkg/principal"
)

// Claims are the claims chainguard expects on a bearer token.
type Claims struct {
	jwt.RegisteredClaims
}

// Resolver extracts a principal.Principal from a raw "Authorization" header
// value. It is the only place in the module that ever looks at token
// bytes; everything downstream treats principal.Principal as an opaque
// value, per spec.md §3.
type Resolver struct {
	keys KeySet
}

func NewResolver(keys KeySet) *Resolver {
	return &Resolver{keys: keys}
}

// Resolve parses "Bearer <token>" and returns the caller's Principal.
// Any failure — missing header, malformed token, expired token, unknown
// key — is reported as an error; the dispatcher treats that as
// AuthorizationFailure and denies, never as an ambient default identity.
func (r *Resolver) Resolve(authHeader string) (principal.Principal, error) {
	if r.keys == nil {
		return nil, fmt.Errorf("authn: resolver has no keyset configured")
	}
	if authHeader == "" {
		return nil, fmt.Errorf("authn: missing Authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, fmt.Errorf("authn: expected 'Bearer <token>'")
	}

	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(parts[1], claims, r.keys.KeyFunc())
	if err != nil {
		return nil, fmt.Errorf("authn: token validation failed: %w", err)
	}
	if !tok.Valid {
		return nil, fmt.Errorf("authn: invalid token")
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("authn: token subject is required")
	}

	return principal.New(claims.Subject), nil
}

// Mint issues a bearer token for id, for use by tests and local tooling
// that need to drive the dispatcher end to end without a full identity
// provider in front of it.
func (r *Resolver) Mint(id string, ttlClaims jwt.RegisteredClaims) (string, error) {
	ttlClaims.Subject = id
	return r.keys.Sign(&Claims{RegisteredClaims: ttlClaims})
}
