package authn

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestResolveRoundTrip(t *testing.T) {
	ks, err := NewInMemoryKeySet()
	require.NoError(t, err)

	resolver := NewResolver(ks)
	token, err := resolver.Mint("alice", jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	require.NoError(t, err)

	p, err := resolver.Resolve("Bearer " + token)
	require.NoError(t, err)
	require.Equal(t, "alice", p.ID())
}

func TestResolveRejectsMissingHeader(t *testing.T) {
	ks, err := NewInMemoryKeySet()
	require.NoError(t, err)
	resolver := NewResolver(ks)

	_, err = resolver.Resolve("")
	require.Error(t, err)
}

func TestResolveRejectsMalformedHeader(t *testing.T) {
	ks, err := NewInMemoryKeySet()
	require.NoError(t, err)
	resolver := NewResolver(ks)

	_, err = resolver.Resolve("Basic xyz")
	require.Error(t, err)
}

func TestResolveRejectsExpiredToken(t *testing.T) {
	ks, err := NewInMemoryKeySet()
	require.NoError(t, err)
	resolver := NewResolver(ks)

	token, err := resolver.Mint("bob", jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})
	require.NoError(t, err)

	_, err = resolver.Resolve("Bearer " + token)
	require.Error(t, err)
}

func TestResolveAfterRotationRejectsStaleKey(t *testing.T) {
	ks, err := NewInMemoryKeySet()
	require.NoError(t, err)
	resolver := NewResolver(ks)

	token, err := resolver.Mint("carol", jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	require.NoError(t, err)

	// Rotating repeatedly evicts the key the token was signed with.
	for i := 0; i < 10; i++ {
		require.NoError(t, ks.Rotate())
	}

	_, err = resolver.Resolve("Bearer " + token)
	require.Error(t, err)
}
