package signer

import (
	"context"
	"testing"

	"github.com/carlos-israelj/ChainGuard-SDK/pkg/action"
)

func TestEd25519SignerRoundTrip(t *testing.T) {
	s, err := NewEd25519Signer()
	if err != nil {
		t.Fatalf("NewEd25519Signer: %v", err)
	}
	a := action.NewTransfer(action.Transfer{Chain: "Sepolia", Amount: 1})

	sig, err := s.Sign(context.Background(), a, "wallet-1")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !s.Verify(a, "wallet-1", sig) {
		t.Fatalf("expected signature to verify")
	}
}

func TestEd25519SignerRejectsWrongDerivationContext(t *testing.T) {
	s, err := NewEd25519Signer()
	if err != nil {
		t.Fatalf("NewEd25519Signer: %v", err)
	}
	a := action.NewTransfer(action.Transfer{Chain: "Sepolia", Amount: 1})

	sig, err := s.Sign(context.Background(), a, "wallet-1")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if s.Verify(a, "wallet-2", sig) {
		t.Fatalf("expected signature not to verify against a different derivation context")
	}
}

func TestAlwaysFailSignerReturnsError(t *testing.T) {
	s := AlwaysFailSigner{}
	a := action.NewTransfer(action.Transfer{})
	_, err := s.Sign(context.Background(), a, "wallet-1")
	if err == nil {
		t.Fatalf("expected error")
	}
}
