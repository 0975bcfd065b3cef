// Package signer defines the external signer adapter chainguard's
// dispatcher consumes: sign(action, derivation_context) -> signature_bytes
// | error (spec.md §6). The core never inspects the returned bytes; it
// only forwards them to the RPC adapter.
package signer

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/carlos-israelj/ChainGuard-SDK/pkg/action"
)

// Signer produces a raw signature over an action, scoped by an
// implementation-defined derivation context (a key path, a wallet
// selector, whatever the concrete signer needs to pick the right key).
type Signer interface {
	Sign(ctx context.Context, a action.Action, derivationContext string) ([]byte, error)
}

// Ed25519Signer is an in-process signer for tests and local tooling; it
// signs the action's deterministic textual params, the same rendering the
// audit log stores. Production deployments front a real custody backend
// (HSM, MPC signer, hardware wallet) behind the same Signer interface.
type Ed25519Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

func NewEd25519Signer() (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("signer: key generation failed: %w", err)
	}
	return &Ed25519Signer{priv: priv, pub: pub}, nil
}

func (s *Ed25519Signer) Sign(_ context.Context, a action.Action, derivationContext string) ([]byte, error) {
	payload := derivationContext + "\x00" + a.Params()
	return ed25519.Sign(s.priv, []byte(payload)), nil
}

// PublicKeyHex returns the hex-encoded public key, for callers that need
// to attach verifying material alongside a signed payload.
func (s *Ed25519Signer) PublicKeyHex() string {
	return hex.EncodeToString(s.pub)
}

// Verify checks a signature produced by Sign, exposed for tests that want
// to confirm the fake signer's output is genuine rather than trusting it
// blindly.
func (s *Ed25519Signer) Verify(a action.Action, derivationContext string, sig []byte) bool {
	payload := derivationContext + "\x00" + a.Params()
	return ed25519.Verify(s.pub, []byte(payload), sig)
}

// AlwaysFailSigner is a fake for tests exercising the dispatcher's
// execution-failure path.
type AlwaysFailSigner struct{ Err error }

func (f AlwaysFailSigner) Sign(context.Context, action.Action, string) ([]byte, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	return nil, fmt.Errorf("signer: refused to sign")
}
