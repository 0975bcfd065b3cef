package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carlos-israelj/ChainGuard-SDK/pkg/action"
	"github.com/carlos-israelj/ChainGuard-SDK/pkg/condition"
)

func TestEvaluateDefaultDenyWhenEmpty(t *testing.T) {
	s := NewStore()
	a := action.NewTransfer(action.Transfer{Amount: 1})

	res, err := s.Evaluate(a, condition.Env{})
	require.NoError(t, err)
	assert.Equal(t, DecisionDenied, res.Decision)
	assert.Equal(t, "no matching policy", res.Reason)
	assert.Empty(t, res.MatchedPolicy)
}

func TestEvaluateFirstMatchWinsByAscendingPriority(t *testing.T) {
	s := NewStore()
	s.Add(Policy{Name: "broad", Conditions: []condition.Condition{condition.MaxAmount(1_000_000)}, Action: Allow(), Priority: 5})
	s.Add(Policy{Name: "narrow", Conditions: []condition.Condition{condition.MaxAmount(1_000_000_000)}, Action: Deny(), Priority: 1})

	a := action.NewTransfer(action.Transfer{Amount: 500})
	res, err := s.Evaluate(a, condition.Env{})
	require.NoError(t, err)
	assert.Equal(t, DecisionDenied, res.Decision)
	assert.Equal(t, "narrow", res.MatchedPolicy)
}

func TestEvaluateTieBreaksByInsertionOrder(t *testing.T) {
	s := NewStore()
	s.Add(Policy{Name: "first", Conditions: nil, Action: Allow(), Priority: 1})
	s.Add(Policy{Name: "second", Conditions: nil, Action: Deny(), Priority: 1})

	a := action.NewTransfer(action.Transfer{Amount: 1})
	res, err := s.Evaluate(a, condition.Env{})
	require.NoError(t, err)
	assert.Equal(t, "first", res.MatchedPolicy)
	assert.Equal(t, DecisionAllowed, res.Decision)
}

func TestEvaluateAllConditionsMustMatchAND(t *testing.T) {
	s := NewStore()
	s.Add(Policy{
		Name: "narrow-chain-and-amount",
		Conditions: []condition.Condition{
			condition.AllowedChains("Sepolia"),
			condition.MaxAmount(1_000),
		},
		Action:   Allow(),
		Priority: 1,
	})

	inChainTooLarge := action.NewTransfer(action.Transfer{Chain: "Sepolia", Amount: 5_000})
	res, err := s.Evaluate(inChainTooLarge, condition.Env{})
	require.NoError(t, err)
	assert.Equal(t, DecisionDenied, res.Decision, "one failing condition must veto the whole policy")

	rightChainRightAmount := action.NewTransfer(action.Transfer{Chain: "Sepolia", Amount: 500})
	res, err = s.Evaluate(rightChainRightAmount, condition.Env{})
	require.NoError(t, err)
	assert.Equal(t, DecisionAllowed, res.Decision)
}

func TestEvaluateRequireThresholdCarriesPolicyAction(t *testing.T) {
	s := NewStore()
	s.Add(Policy{
		Name:       "threshold",
		Conditions: []condition.Condition{condition.MaxAmount(10_000_000_000)},
		Action:     RequireThreshold(2, "owner", "operator"),
		Priority:   2,
	})

	a := action.NewTransfer(action.Transfer{Amount: 5_000_000_000})
	res, err := s.Evaluate(a, condition.Env{})
	require.NoError(t, err)
	assert.Equal(t, DecisionRequiresThreshold, res.Decision)
	assert.Equal(t, 2, res.ThresholdAction.Required)
	assert.Equal(t, []string{"owner", "operator"}, res.ThresholdAction.FromRoles)
}

func TestUpdatePreservesInsertionOrderForTieBreak(t *testing.T) {
	s := NewStore()
	firstID := s.Add(Policy{Name: "first", Action: Deny(), Priority: 1})
	s.Add(Policy{Name: "second", Action: Allow(), Priority: 1})

	require.NoError(t, s.Update(firstID, Policy{Name: "first-updated", Action: Deny(), Priority: 1}))

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, "first-updated", list[0].Policy.Name)
	assert.Equal(t, "second", list[1].Policy.Name)
}

func TestRemoveUnknownIDReturnsNotFound(t *testing.T) {
	s := NewStore()
	err := s.Remove(999)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestEvaluatePropagatesConditionErrorsFailClosed(t *testing.T) {
	s := NewStore()
	s.Add(Policy{Name: "broken", Conditions: []condition.Condition{condition.Cooldown(60)}, Action: Allow(), Priority: 1})

	a := action.NewTransfer(action.Transfer{})
	_, err := s.Evaluate(a, condition.Env{}) // no LastSuccess configured
	require.Error(t, err)
}
