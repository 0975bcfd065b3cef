// Package condition implements the predicates spec.md §4.2 lets a policy
// attach to an action. Every Condition value is a closed tagged variant
// evaluated against (action, daily_volume, now) plus, for Cooldown, a
// caller-supplied last-success lookup.
package condition

import (
	"fmt"

	"github.com/carlos-israelj/ChainGuard-SDK/pkg/action"
)

// Kind identifies which Condition variant a value holds.
type Kind string

const (
	KindMaxAmount     Kind = "max_amount"
	KindMinAmount     Kind = "min_amount"
	KindDailyLimit    Kind = "daily_limit"
	KindAllowedTokens Kind = "allowed_tokens"
	KindAllowedChains Kind = "allowed_chains"
	KindTimeWindow    Kind = "time_window"
	KindCooldown      Kind = "cooldown"
	KindExpression    Kind = "expression"
)

// Condition is a closed tagged variant; exactly one field group is
// meaningful, selected by Kind.
type Condition struct {
	kind Kind

	amount      uint64
	set         map[string]bool
	windowStart uint64
	windowEnd   uint64
	cooldownNS  uint64
	expression  string
}

func MaxAmount(n uint64) Condition     { return Condition{kind: KindMaxAmount, amount: n} }
func MinAmount(n uint64) Condition     { return Condition{kind: KindMinAmount, amount: n} }
func DailyLimit(n uint64) Condition    { return Condition{kind: KindDailyLimit, amount: n} }
func Cooldown(seconds uint64) Condition {
	return Condition{kind: KindCooldown, cooldownNS: seconds * 1_000_000_000}
}

func AllowedTokens(tokens ...string) Condition {
	return Condition{kind: KindAllowedTokens, set: toSet(tokens)}
}

func AllowedChains(chains ...string) Condition {
	return Condition{kind: KindAllowedChains, set: toSet(chains)}
}

func TimeWindow(start, end uint64) Condition {
	return Condition{kind: KindTimeWindow, windowStart: start, windowEnd: end}
}

// Expression wraps a CEL boolean expression evaluated against the input
// map pkg/celeval's Evaluator exposes: action, chain, amount, tokens,
// daily_volume, now, caller. It supplements the fixed condition set with the
// escape hatch operators reach for once the closed vocabulary is too rigid.
func Expression(src string) Condition {
	return Condition{kind: KindExpression, expression: src}
}

func (c Condition) Kind() Kind { return c.kind }

// ExpressionSource returns the CEL source of an Expression condition.
func (c Condition) ExpressionSource() string { return c.expression }

func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, it := range items {
		s[it] = true
	}
	return s
}

// Env is the state a condition needs beyond the action itself: the
// caller's accumulated daily volume, the current wall clock, and a
// cooldown lookup. Matching a condition never mutates Env; the dispatcher
// is solely responsible for advancing daily_volume and cooldown markers
// after a successful execution.
type Env struct {
	DailyVolume uint64
	Now         uint64

	// LastSuccess returns the nanosecond timestamp of the caller's last
	// successful execution of actionType, and whether one has occurred.
	LastSuccess func(caller, actionType string) (uint64, bool)
	Caller      string
	ActionType  string

	// Eval, if set, evaluates an Expression condition's CEL source against
	// the action/env and reports whether it matched. Left nil, an
	// Expression condition always fails closed.
	Eval func(src string, a action.Action, env Env) (bool, error)
}

// Match reports whether c holds for a given action under env. Every
// variant is a pure predicate; none of them mutate env.
func (c Condition) Match(a action.Action, env Env) (bool, error) {
	switch c.kind {
	case KindMaxAmount:
		return a.Amount() <= c.amount, nil
	case KindMinAmount:
		return a.Amount() >= c.amount, nil
	case KindDailyLimit:
		// Compared without computing DailyVolume+Amount, which could wrap
		// around for a volume near the uint64 maximum.
		return env.DailyVolume <= c.amount && a.Amount() <= c.amount-env.DailyVolume, nil
	case KindAllowedChains:
		return c.set[a.Chain()], nil
	case KindAllowedTokens:
		for _, tok := range a.Tokens() {
			if !c.set[tok] {
				return false, nil
			}
		}
		return true, nil
	case KindTimeWindow:
		return c.windowStart <= env.Now && env.Now <= c.windowEnd, nil
	case KindCooldown:
		if env.LastSuccess == nil {
			return false, fmt.Errorf("condition: cooldown requires a last-success lookup")
		}
		last, ok := env.LastSuccess(env.Caller, env.ActionType)
		if !ok {
			return true, nil
		}
		return env.Now-last > c.cooldownNS, nil
	case KindExpression:
		if env.Eval == nil {
			return false, fmt.Errorf("condition: expression evaluator not configured")
		}
		return env.Eval(c.expression, a, env)
	default:
		return false, fmt.Errorf("condition: unknown kind %q", c.kind)
	}
}
