// Package celeval backs the condition.Expression variant with a real CEL
// evaluator: policies that need a predicate beyond the fixed condition
// vocabulary (spec.md §4.2) compile down to a cached CEL program here.
//
// The compile-once, cache-by-source-string shape follows
// pkg/governance.CELPolicyEvaluator; the input map's fixed set of variables
// (action, chain, amount, tokens, daily_volume, now, caller) is the same
// shape pkg/condition documents in condition.Expression's doc comment.
package celeval

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/carlos-israelj/ChainGuard-SDK/pkg/action"
	"github.com/carlos-israelj/ChainGuard-SDK/pkg/condition"
)

// Evaluator compiles and caches CEL programs for condition.Expression
// sources, and exposes an Eval method matching condition.Env.Eval's
// signature.
type Evaluator struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

// New builds an Evaluator with the fixed variable set every Expression
// condition may reference.
func New() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("action", cel.StringType),
		cel.Variable("chain", cel.StringType),
		cel.Variable("amount", cel.UintType),
		cel.Variable("tokens", cel.ListType(cel.StringType)),
		cel.Variable("daily_volume", cel.UintType),
		cel.Variable("now", cel.UintType),
		cel.Variable("caller", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("celeval: creating environment: %w", err)
	}
	return &Evaluator{env: env, programs: make(map[string]cel.Program)}, nil
}

// Eval compiles src on first use (caching the program by source text) and
// evaluates it against a, returning whether the expression matched.
// Anything that keeps the expression from producing a clean boolean —
// a compile error, a runtime error, a non-bool result — is reported as an
// error, never coerced to false silently, so the fail-closed contract
// condition.Match documents for KindExpression holds all the way down.
func (e *Evaluator) Eval(src string, a action.Action, env condition.Env) (bool, error) {
	prg, err := e.programFor(src)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(map[string]any{
		"action":       a.ActionType(),
		"chain":        a.Chain(),
		"amount":       a.Amount(),
		"tokens":       a.Tokens(),
		"daily_volume": env.DailyVolume,
		"now":          env.Now,
		"caller":       env.Caller,
	})
	if err != nil {
		return false, fmt.Errorf("celeval: evaluating %q: %w", src, err)
	}

	matched, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("celeval: expression %q did not evaluate to a bool", src)
	}
	return matched, nil
}

func (e *Evaluator) programFor(src string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.programs[src]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, ok := e.programs[src]; ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("celeval: compiling %q: %w", src, issues.Err())
	}
	prg, err := e.env.Program(ast, cel.InterruptCheckFrequency(100), cel.CostLimit(10_000))
	if err != nil {
		return nil, fmt.Errorf("celeval: building program for %q: %w", src, err)
	}
	e.programs[src] = prg
	return prg, nil
}
