package proposal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carlos-israelj/ChainGuard-SDK/pkg/action"
	"github.com/carlos-israelj/ChainGuard-SDK/pkg/clockid"
)

func newStore() *Store {
	return NewStore(clockid.NewSequence())
}

// create is a test-only helper that fails the test on error, since Store
// never actually returns one — it exists for ProposalStore parity with
// SQLStore.
func create(t *testing.T, s *Store, a action.Action, requester string, required int, now uint64) *Proposal {
	t.Helper()
	p, err := s.Create(context.Background(), a, requester, required, now)
	require.NoError(t, err)
	return p
}

func TestCreateAssignsMonotonicIDsAndPendingStatus(t *testing.T) {
	s := newStore()
	a := action.NewTransfer(action.Transfer{Amount: 1})

	p1 := create(t, s, a, "alice", 2, 1_000)
	p2 := create(t, s, a, "alice", 2, 1_000)

	assert.Less(t, p1.ID, p2.ID)
	assert.Equal(t, StatusPending, p1.Status)
	assert.Equal(t, uint64(1_000+DefaultExpiryNS), p1.ExpiresAt)
	assert.Empty(t, p1.Signatures)
}

func TestSignAccumulatesUntilApproved(t *testing.T) {
	s := newStore()
	a := action.NewTransfer(action.Transfer{Amount: 1})
	p := create(t, s, a, "alice", 2, 1_000)

	got, err := s.Sign(context.Background(), p.ID, "owner-1", 1_100)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
	assert.Len(t, got.Signatures, 1)

	got, err = s.Sign(context.Background(), p.ID, "owner-2", 1_200)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, got.Status)
	assert.Len(t, got.Signatures, 2)
}

func TestSignRejectsDuplicateSigner(t *testing.T) {
	s := newStore()
	a := action.NewTransfer(action.Transfer{Amount: 1})
	p := create(t, s, a, "alice", 2, 1_000)

	_, err := s.Sign(context.Background(), p.ID, "owner-1", 1_100)
	require.NoError(t, err)

	_, err = s.Sign(context.Background(), p.ID, "owner-1", 1_200)
	require.ErrorIs(t, err, ErrAlreadySigned)
	require.ErrorIs(t, err, ErrIllegalTransition)
}

func TestSignPastDeadlineExpiresAndFails(t *testing.T) {
	s := newStore()
	a := action.NewTransfer(action.Transfer{Amount: 1})
	p := create(t, s, a, "alice", 2, 1_000)

	pastDeadline := p.ExpiresAt + 1
	_, err := s.Sign(context.Background(), p.ID, "owner-1", pastDeadline)
	require.ErrorIs(t, err, ErrExpired)

	fetched, err := s.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, fetched.Status)
}

func TestSignOnTerminalProposalFails(t *testing.T) {
	s := newStore()
	a := action.NewTransfer(action.Transfer{Amount: 1})
	p := create(t, s, a, "alice", 1, 1_000)

	_, err := s.Sign(context.Background(), p.ID, "owner-1", 1_100)
	require.NoError(t, err)
	require.NoError(t, s.MarkExecuted(context.Background(), p.ID))

	_, err = s.Sign(context.Background(), p.ID, "owner-2", 1_200)
	require.ErrorIs(t, err, ErrIllegalTransition)
}

func TestRejectOnlyValidFromPending(t *testing.T) {
	s := newStore()
	a := action.NewTransfer(action.Transfer{Amount: 1})
	p := create(t, s, a, "alice", 1, 1_000)

	require.NoError(t, s.Reject(context.Background(), p.ID, "operator declined"))

	fetched, err := s.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, fetched.Status)

	err = s.Reject(context.Background(), p.ID, "again")
	require.ErrorIs(t, err, ErrIllegalTransition)
}

func TestMarkExecutedOnlyValidFromApproved(t *testing.T) {
	s := newStore()
	a := action.NewTransfer(action.Transfer{Amount: 1})
	p := create(t, s, a, "alice", 1, 1_000)

	err := s.MarkExecuted(context.Background(), p.ID)
	require.ErrorIs(t, err, ErrIllegalTransition)

	_, err = s.Sign(context.Background(), p.ID, "owner-1", 1_100)
	require.NoError(t, err)
	require.NoError(t, s.MarkExecuted(context.Background(), p.ID))

	fetched, err := s.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExecuted, fetched.Status)
}

func TestSweepExpiredTransitionsOnlyPastDeadlinePending(t *testing.T) {
	s := newStore()
	a := action.NewTransfer(action.Transfer{Amount: 1})
	stillLive := create(t, s, a, "alice", 1, 1_000)
	pastDeadline := create(t, s, a, "alice", 1, 500)

	swept := s.SweepExpired(500 + DefaultExpiryNS + 1)
	require.Len(t, swept, 1)
	assert.Equal(t, pastDeadline.ID, swept[0])

	live, err := s.Get(context.Background(), stillLive.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, live.Status)

	expired, err := s.Get(context.Background(), pastDeadline.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, expired.Status)
}

func TestListPendingOrderedByID(t *testing.T) {
	s := newStore()
	a := action.NewTransfer(action.Transfer{Amount: 1})
	first := create(t, s, a, "alice", 2, 1_000)
	second := create(t, s, a, "alice", 2, 1_000)

	pending, err := s.ListPending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, second.ID, pending[1].ID)
}

func TestRequesterIsAttributedRegardlessOfSigner(t *testing.T) {
	s := newStore()
	a := action.NewTransfer(action.Transfer{Amount: 1})
	p := create(t, s, a, "original-requester", 1, 1_000)

	got, err := s.Sign(context.Background(), p.ID, "some-other-owner", 1_100)
	require.NoError(t, err)
	assert.Equal(t, "original-requester", got.Requester)
}

func TestStoreSatisfiesProposalStore(t *testing.T) {
	var _ ProposalStore = newStore()
}
