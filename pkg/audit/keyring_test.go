package audit

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carlos-israelj/ChainGuard-SDK/pkg/action"
	"github.com/carlos-israelj/ChainGuard-SDK/pkg/clockid"
	"github.com/carlos-israelj/ChainGuard-SDK/pkg/policy"
)

func TestDeriveHMACKeyIsDeterministic(t *testing.T) {
	k1, err := DeriveHMACKey([]byte("root-secret"))
	require.NoError(t, err)
	k2, err := DeriveHMACKey([]byte("root-secret"))
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	k3, err := DeriveHMACKey([]byte("different-secret"))
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)
}

func TestDeriveHMACKeyRejectsEmptySecret(t *testing.T) {
	_, err := DeriveHMACKey(nil)
	require.Error(t, err)
}

func TestNewKeyedLogProducesHMACTaggedEntries(t *testing.T) {
	l, err := NewKeyedLog(clockid.NewSequence(), []byte("root-secret"))
	require.NoError(t, err)

	a := action.NewTransfer(action.Transfer{Amount: 1})
	e, err := l.Record(a, "alice", policy.Result{Decision: policy.DecisionAllowed}, nil, 1_000)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(e.EntryHash, "hmac-sha256:"))
	require.NoError(t, l.VerifyChain())
}

func TestKeyedLogChainRequiresTheSameSecretToVerify(t *testing.T) {
	l, err := NewKeyedLog(clockid.NewSequence(), []byte("root-secret"))
	require.NoError(t, err)

	a := action.NewTransfer(action.Transfer{Amount: 1})
	_, err = l.Record(a, "alice", policy.Result{Decision: policy.DecisionAllowed}, nil, 1_000)
	require.NoError(t, err)

	l.hmacKey = []byte("wrong-secret")
	err = l.VerifyChain()
	require.ErrorIs(t, err, ErrChainBroken)
}

func TestPlainLogStillUsesSHA256(t *testing.T) {
	l := newLog()
	a := action.NewTransfer(action.Transfer{Amount: 1})
	e, err := l.Record(a, "alice", policy.Result{Decision: policy.DecisionAllowed}, nil, 1_000)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(e.EntryHash, "sha256:"))
}
