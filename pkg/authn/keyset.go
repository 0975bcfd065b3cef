// Package authn resolves a principal.Principal from the ambient transport's
// bearer token. It stands in for whatever real transport (HTTP, gRPC, an
// embedding host process) hands requests to the core; the core itself
// never inspects tokens.
package authn

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// KeySet manages the signing keys used to mint and verify bearer tokens,
// supporting rotation without invalidating tokens signed by a previous key.
type KeySet interface {
	Sign(claims jwt.Claims) (string, error)
	KeyFunc() jwt.Keyfunc
}

// InMemoryKeySet holds Ed25519 keys in memory. Suitable for a single
// process or for tests; production deployments should back this with a
// KMS-backed keyset instead.
type InMemoryKeySet struct {
	mu         sync.RWMutex
	currentKID string
	keys       map[string]ed25519.PrivateKey
}

// NewInMemoryKeySet creates a keyset with one freshly-generated key.
func NewInMemoryKeySet() (*InMemoryKeySet, error) {
	ks := &InMemoryKeySet{keys: make(map[string]ed25519.PrivateKey)}
	if err := ks.Rotate(); err != nil {
		return nil, err
	}
	return ks, nil
}

// Rotate generates a new signing key and makes it current. Older keys are
// retained for verification of tokens issued before the rotation.
func (ks *InMemoryKeySet) Rotate() error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("authn: key generation failed: %w", err)
	}

	kid := fmt.Sprintf("key-%d", time.Now().UnixNano())
	ks.keys[kid] = priv
	ks.currentKID = kid

	// Bound retained key history by evicting the oldest key; tokens that
	// outlast this window are no longer verifiable, which is acceptable
	// since chainguard tokens are short-lived. Key ids embed their creation
	// time in nanoseconds, so the lexically smallest id is the oldest.
	if len(ks.keys) > 8 {
		oldest := ""
		for k := range ks.keys {
			if k != kid && (oldest == "" || k < oldest) {
				oldest = k
			}
		}
		delete(ks.keys, oldest)
	}
	return nil
}

// Sign mints a token with the current active key.
func (ks *InMemoryKeySet) Sign(claims jwt.Claims) (string, error) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	priv, ok := ks.keys[ks.currentKID]
	if !ok {
		return "", fmt.Errorf("authn: no active signing key")
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	tok.Header["kid"] = ks.currentKID
	return tok.SignedString(priv)
}

// KeyFunc returns the verification callback jwt.ParseWithClaims expects,
// resolving the token's public key by its "kid" header.
func (ks *InMemoryKeySet) KeyFunc() jwt.Keyfunc {
	return func(tok *jwt.Token) (interface{}, error) {
		if tok.Method.Alg() != jwt.SigningMethodEdDSA.Alg() {
			return nil, fmt.Errorf("authn: unexpected signing method %s", tok.Method.Alg())
		}
		kid, _ := tok.Header["kid"].(string)

		ks.mu.RLock()
		defer ks.mu.RUnlock()
		priv, ok := ks.keys[kid]
		if !ok {
			return nil, fmt.Errorf("authn: unknown key id %q", kid)
		}
		return priv.Public(), nil
	}
}
