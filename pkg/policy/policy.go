// Package policy implements the policy store and evaluation algorithm of
// spec.md §4.2: an ordered set of {conditions, action, priority} rules
// evaluated first-match-wins with a default-deny fallback.
package policy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/carlos-israelj/ChainGuard-SDK/pkg/action"
	"github.com/carlos-israelj/ChainGuard-SDK/pkg/condition"
)

// Decision is the outcome of evaluating a policy set against an action.
type Decision string

const (
	DecisionAllowed           Decision = "allowed"
	DecisionDenied            Decision = "denied"
	DecisionRequiresThreshold Decision = "requires_threshold"
)

// ActionKind identifies which PolicyAction variant a rule carries.
type ActionKind string

const (
	ActionAllow            ActionKind = "allow"
	ActionDeny             ActionKind = "deny"
	ActionRequireThreshold ActionKind = "require_threshold"
)

// PolicyAction is the closed tagged variant a matching Policy resolves to.
type PolicyAction struct {
	Kind      ActionKind
	Required  int      // meaningful only for ActionRequireThreshold
	FromRoles []string // meaningful only for ActionRequireThreshold
}

func Allow() PolicyAction { return PolicyAction{Kind: ActionAllow} }
func Deny() PolicyAction  { return PolicyAction{Kind: ActionDeny} }

func RequireThreshold(required int, fromRoles ...string) PolicyAction {
	return PolicyAction{Kind: ActionRequireThreshold, Required: required, FromRoles: fromRoles}
}

// Policy is one rule in the store: a name, an AND-combined condition list,
// a resolved action, and a priority used to order evaluation.
type Policy struct {
	Name       string
	Conditions []condition.Condition
	Action     PolicyAction
	Priority   int
}

// Result is the outcome Store.Evaluate returns.
type Result struct {
	Decision      Decision
	MatchedPolicy string // empty when Decision == DecisionDenied by default-deny
	Reason        string
	ThresholdAction PolicyAction // populated when Decision == DecisionRequiresThreshold
}

type entry struct {
	id       uint64
	inserted uint64
	policy   Policy
}

// Store holds the live policy set. Mutations (Add/Update/Remove) take
// effect for subsequent evaluations only — an evaluation already in
// flight sees a fixed snapshot taken at the start of Evaluate.
type Store struct {
	mu       sync.RWMutex
	nextID   uint64
	inserted uint64
	entries  map[uint64]*entry
}

func NewStore() *Store {
	return &Store{entries: make(map[uint64]*entry)}
}

// Add registers a new policy and returns its store-assigned id.
func (s *Store) Add(p Policy) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	s.inserted++
	id := s.nextID
	s.entries[id] = &entry{id: id, inserted: s.inserted, policy: p}
	return id
}

// ErrNotFound is returned by Update and Remove given an unknown id.
var ErrNotFound = fmt.Errorf("policy: not found")

// Update replaces the policy at id, preserving its original insertion
// order for tie-breaking purposes.
func (s *Store) Update(id uint64, p Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return ErrNotFound
	}
	e.policy = p
	return nil
}

// Remove deletes the policy at id.
func (s *Store) Remove(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; !ok {
		return ErrNotFound
	}
	delete(s.entries, id)
	return nil
}

// Listed is a Policy paired with its store id, returned by List.
type Listed struct {
	ID     uint64
	Policy Policy
}

// List returns every policy ordered by ascending priority, ties broken by
// insertion order — the same order Evaluate walks.
func (s *Store) List() []Listed {
	s.mu.RLock()
	snapshot := s.snapshotLocked()
	s.mu.RUnlock()

	out := make([]Listed, len(snapshot))
	for i, e := range snapshot {
		out[i] = Listed{ID: e.id, Policy: e.policy}
	}
	return out
}

func (s *Store) snapshotLocked() []*entry {
	snapshot := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		snapshot = append(snapshot, e)
	}
	sort.Slice(snapshot, func(i, j int) bool {
		if snapshot[i].policy.Priority != snapshot[j].policy.Priority {
			return snapshot[i].policy.Priority < snapshot[j].policy.Priority
		}
		return snapshot[i].inserted < snapshot[j].inserted
	})
	return snapshot
}

// Evaluate runs the first-match-wins algorithm of spec.md §4.2 over a
// priority-ordered snapshot of the store.
func (s *Store) Evaluate(a action.Action, env condition.Env) (Result, error) {
	s.mu.RLock()
	snapshot := s.snapshotLocked()
	s.mu.RUnlock()

	for _, e := range snapshot {
		matched := true
		for _, c := range e.policy.Conditions {
			ok, err := c.Match(a, env)
			if err != nil {
				// A condition that cannot be evaluated fails the whole
				// module closed: it never counts as a match.
				return Result{}, fmt.Errorf("policy: evaluating condition of %q: %w", e.policy.Name, err)
			}
			if !ok {
				matched = false
				break
			}
		}
		if !matched {
			continue
		}
		return resultFor(e.policy), nil
	}
	return Result{Decision: DecisionDenied, Reason: "no matching policy"}, nil
}

func resultFor(p Policy) Result {
	switch p.Action.Kind {
	case ActionAllow:
		return Result{Decision: DecisionAllowed, MatchedPolicy: p.Name, Reason: fmt.Sprintf("allowed by policy %q", p.Name)}
	case ActionDeny:
		return Result{Decision: DecisionDenied, MatchedPolicy: p.Name, Reason: fmt.Sprintf("denied by policy %q", p.Name)}
	case ActionRequireThreshold:
		return Result{
			Decision:        DecisionRequiresThreshold,
			MatchedPolicy:   p.Name,
			Reason:          fmt.Sprintf("requires threshold approval per policy %q", p.Name),
			ThresholdAction: p.Action,
		}
	default:
		return Result{Decision: DecisionDenied, Reason: "unknown policy action"}
	}
}
