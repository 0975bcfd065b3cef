package role

import (
	"errors"
	"sync"

	"github.com/carlos-israelj/ChainGuard-SDK/pkg/principal"
)

// ErrAuthorization is returned when the caller of a Configure-gated
// operation does not hold Configure on any of their roles.
var ErrAuthorization = errors.New("role: caller lacks configure permission")

// ErrAlreadyBootstrapped is returned by Bootstrap after the first call.
var ErrAlreadyBootstrapped = errors.New("role: already bootstrapped")

// Store maps principals to the set of roles they hold. It is the sole
// authority the rest of the module consults for "does this caller have
// permission X", via HasPermission.
//
// Mirrors the mutex-guarded adjacency map in pkg/authz/engine.go, adapted
// from a general relationship graph down to the fixed three-role table
// spec.md defines.
type Store struct {
	mu          sync.RWMutex
	assignments map[string]map[Role]bool
	bootstrapped bool
}

func NewStore() *Store {
	return &Store{assignments: make(map[string]map[Role]bool)}
}

// Bootstrap grants Owner to installer unconditionally. It succeeds exactly
// once per Store; subsequent calls return ErrAlreadyBootstrapped. This is
// the only path by which a role can exist without a Configure-authorized
// caller (spec.md §4.1).
func (s *Store) Bootstrap(installer principal.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bootstrapped {
		return ErrAlreadyBootstrapped
	}
	s.bootstrapped = true
	s.grantLocked(installer.ID(), RoleOwner)
	return nil
}

// Assign grants target the given role, on behalf of caller. Idempotent:
// assigning a role the target already holds is a no-op success.
func (s *Store) Assign(caller, target principal.Principal, r Role) error {
	if !IsValid(r) {
		return ErrUnknownRole{Role: r}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasPermissionLocked(caller.ID(), PermConfigure) {
		return ErrAuthorization
	}
	s.grantLocked(target.ID(), r)
	return nil
}

// Revoke removes role from target, on behalf of caller. Idempotent success
// if the role was not held.
func (s *Store) Revoke(caller, target principal.Principal, r Role) error {
	if !IsValid(r) {
		return ErrUnknownRole{Role: r}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasPermissionLocked(caller.ID(), PermConfigure) {
		return ErrAuthorization
	}
	if roles, ok := s.assignments[target.ID()]; ok {
		delete(roles, r)
	}
	return nil
}

// RolesOf returns the set of roles p holds. Read-only; no authorization
// check, matching spec.md's query-path-is-unrestricted posture.
func (s *Store) RolesOf(p principal.Principal) []Role {
	s.mu.RLock()
	defer s.mu.RUnlock()

	roles := s.assignments[p.ID()]
	out := make([]Role, 0, len(roles))
	for r := range roles {
		out = append(out, r)
	}
	return out
}

// HasPermission reports whether p holds permission via any role they hold.
func (s *Store) HasPermission(p principal.Principal, perm Permission) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasPermissionLocked(p.ID(), perm)
}

// ListAssignments returns a snapshot of every principal→roles assignment,
// used by the client-facing list_role_assignments() operation.
func (s *Store) ListAssignments() map[string][]Role {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]Role, len(s.assignments))
	for id, roles := range s.assignments {
		list := make([]Role, 0, len(roles))
		for r := range roles {
			list = append(list, r)
		}
		out[id] = list
	}
	return out
}

func (s *Store) grantLocked(id string, r Role) {
	roles, ok := s.assignments[id]
	if !ok {
		roles = make(map[Role]bool)
		s.assignments[id] = roles
	}
	roles[r] = true
}

func (s *Store) hasPermissionLocked(id string, perm Permission) bool {
	for r := range s.assignments[id] {
		if Grants(r, perm) {
			return true
		}
	}
	return false
}
