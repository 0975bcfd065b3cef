//go:build property
// +build property

package proposal_test

import (
	"context"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/carlos-israelj/ChainGuard-SDK/pkg/action"
	"github.com/carlos-israelj/ChainGuard-SDK/pkg/clockid"
	"github.com/carlos-israelj/ChainGuard-SDK/pkg/proposal"
)

// TestMonotonicIDsProperty pins spec.md §8 universal property 3: two
// proposals created in order have strictly increasing IDs, for any pair of
// creation timestamps and signer counts.
func TestMonotonicIDsProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("proposal IDs are strictly increasing in creation order", prop.ForAll(
		func(t1, t2 uint64, required int) bool {
			s := proposal.NewStore(clockid.NewSequence())
			a := action.NewTransfer(action.Transfer{Amount: 1})

			p1, err := s.Create(context.Background(), a, "alice", required, t1)
			if err != nil {
				return false
			}
			p2, err := s.Create(context.Background(), a, "alice", required, t2)
			if err != nil {
				return false
			}
			return p1.ID < p2.ID
		},
		gen.UInt64Range(0, 1<<40),
		gen.UInt64Range(0, 1<<40),
		gen.IntRange(1, 10),
	))

	properties.TestingRun(t)
}

// TestNoDoubleSignProperty pins universal property 4: signing twice with the
// same principal always fails the second time and never grows the
// signature set past one entry for that signer, regardless of the
// threshold or the wall-clock value used.
func TestNoDoubleSignProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("a signer cannot sign the same proposal twice", prop.ForAll(
		func(signer string, required int, now uint64) bool {
			s := proposal.NewStore(clockid.NewSequence())
			a := action.NewTransfer(action.Transfer{Amount: 1})

			p, err := s.Create(context.Background(), a, "bob", required, 0)
			if err != nil {
				return false
			}
			if now > p.ExpiresAt {
				// Outside the expiry property's scope; skip.
				return true
			}

			if _, err := s.Sign(context.Background(), p.ID, signer, now); err != nil {
				return false
			}
			before, err := s.Get(context.Background(), p.ID)
			if err != nil {
				return false
			}
			count := len(before.Signatures)

			_, err = s.Sign(context.Background(), p.ID, signer, now)
			if !errors.Is(err, proposal.ErrIllegalTransition) {
				return false
			}

			after, err := s.Get(context.Background(), p.ID)
			if err != nil {
				return false
			}
			return len(after.Signatures) == count
		},
		gen.AlphaString().SuchThat(func(s string) bool { return s != "" }),
		gen.IntRange(2, 10),
		gen.UInt64Range(0, proposal.DefaultExpiryNS),
	))

	properties.TestingRun(t)
}

// TestThresholdSufficientAndNecessaryProperty pins universal property 5: a
// Pending proposal becomes Approved exactly when the signature count
// reaches the required threshold, for any threshold and any number of
// distinct signers up to it.
func TestThresholdSufficientAndNecessaryProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 60
	properties := gopter.NewProperties(parameters)

	properties.Property("Approved holds iff signature count has reached required", prop.ForAll(
		func(required, signerCount int) bool {
			if signerCount > required+2 {
				signerCount = required + 2
			}
			s := proposal.NewStore(clockid.NewSequence())
			a := action.NewTransfer(action.Transfer{Amount: 1})

			p, err := s.Create(context.Background(), a, "carol", required, 0)
			if err != nil {
				return false
			}

			for i := 0; i < signerCount; i++ {
				signer := "signer-" + string(rune('A'+i))
				got, err := s.Sign(context.Background(), p.ID, signer, uint64(i))
				if err != nil {
					return false
				}
				wantApproved := (i + 1) >= required
				if wantApproved != (got.Status == proposal.StatusApproved) {
					return false
				}
				if wantApproved {
					break
				}
			}
			return true
		},
		gen.IntRange(1, 6),
		gen.IntRange(1, 8),
	))

	properties.TestingRun(t)
}

// TestExpiryTimeUnitConsistencyProperty pins universal property 10: signing
// exactly at created_at+DefaultExpiryNS still succeeds; signing one
// nanosecond later always yields Expired, for any creation timestamp.
func TestExpiryTimeUnitConsistencyProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("expiry boundary is exact in nanoseconds", prop.ForAll(
		func(createdAt uint64) bool {
			s := proposal.NewStore(clockid.NewSequence())
			a := action.NewTransfer(action.Transfer{Amount: 1})

			pAtBoundary, err := s.Create(context.Background(), a, "dave", 2, createdAt)
			if err != nil {
				return false
			}
			if _, err := s.Sign(context.Background(), pAtBoundary.ID, "sig1", createdAt+proposal.DefaultExpiryNS); err != nil {
				return false
			}

			pPastBoundary, err := s.Create(context.Background(), a, "dave", 2, createdAt)
			if err != nil {
				return false
			}
			_, err = s.Sign(context.Background(), pPastBoundary.ID, "sig1", createdAt+proposal.DefaultExpiryNS+1)
			if err != proposal.ErrExpired {
				return false
			}
			got, err := s.Get(context.Background(), pPastBoundary.ID)
			if err != nil {
				return false
			}
			return got.Status == proposal.StatusExpired
		},
		gen.UInt64Range(0, 1<<40),
	))

	properties.TestingRun(t)
}
