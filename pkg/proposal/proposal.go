// Package proposal implements the threshold-approval state machine of
// spec.md §4.3: a proposal is created when a policy resolves to
// RequireThreshold, collects unique-per-signer approvals, and transitions
// to Approved once enough signatures accumulate.
package proposal

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/carlos-israelj/ChainGuard-SDK/pkg/action"
	"github.com/carlos-israelj/ChainGuard-SDK/pkg/clockid"
)

// ProposalStore is the durable interface a Dispatcher depends on. Store (this
// file) is the in-memory implementation; SQLStore (sql_store.go) persists to
// a relational database. A Dispatcher configured for durability swaps one for
// the other without any change to dispatcher.go, the same way
// pkg/store/ledger.Ledger lets the teacher's kernel swap an in-memory ledger
// for a Postgres-backed one.
type ProposalStore interface {
	Create(ctx context.Context, a action.Action, requester string, required int, now uint64) (*Proposal, error)
	Get(ctx context.Context, id uint64) (*Proposal, error)
	Sign(ctx context.Context, id uint64, signer string, now uint64) (*Proposal, error)
	Reject(ctx context.Context, id uint64, reason string) error
	MarkExecuted(ctx context.Context, id uint64) error
	ListPending(ctx context.Context) ([]*Proposal, error)
}

// DefaultExpiryNS is 24 hours expressed in nanoseconds, the same unit as
// every timestamp this package accepts. The source this module descends
// from conflated seconds and nanoseconds here, causing every proposal to
// expire immediately; this constant is deliberately unit-explicit.
const DefaultExpiryNS uint64 = 86_400 * 1_000_000_000

// Status is one of the five states a Proposal may occupy.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusExecuted Status = "executed"
	StatusExpired  Status = "expired"
	StatusRejected Status = "rejected"
)

// Signature records that a principal approved a proposal. The core does
// not retain cryptographic material for the approval; authentication of
// the signer happened upstream, at the transport.
type Signature struct {
	Signer   string
	SignedAt uint64
}

// Proposal is one pending or resolved threshold-approval request.
type Proposal struct {
	ID                 uint64
	Action             action.Action
	Requester          string
	CreatedAt          uint64
	ExpiresAt          uint64
	RequiredSignatures int
	Signatures         []Signature
	Status             Status
}

var (
	ErrNotFound          = errors.New("proposal: not found")
	ErrExpired           = errors.New("proposal: expired")
	ErrIllegalTransition = errors.New("proposal: illegal state transition")
)

// ErrAlreadySigned is returned by Sign when signer already appears in the
// proposal's signature list. spec.md §7 classifies double-signing under
// IllegalTransition, so this wraps ErrIllegalTransition rather than
// standing alone — errors.Is(err, ErrIllegalTransition) holds for it too.
var ErrAlreadySigned = fmt.Errorf("%w: signer already signed", ErrIllegalTransition)

// Store holds every proposal ever created, keyed by its monotonic id.
// Mutations are serialized by mu, mirroring the single-threaded execution
// model spec.md §5 requires of the whole core.
type Store struct {
	mu   sync.Mutex
	seq  *clockid.Sequence
	byID map[uint64]*Proposal
}

func NewStore(seq *clockid.Sequence) *Store {
	return &Store{seq: seq, byID: make(map[uint64]*Proposal)}
}

// Create assigns the next monotonic id and stamps a Pending proposal. ctx is
// accepted for interface parity with SQLStore; the in-memory path never
// blocks on it.
func (s *Store) Create(_ context.Context, a action.Action, requester string, required int, now uint64) (*Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := &Proposal{
		ID:                 s.seq.Next(),
		Action:             a,
		Requester:          requester,
		CreatedAt:          now,
		ExpiresAt:          now + DefaultExpiryNS,
		RequiredSignatures: required,
		Status:             StatusPending,
	}
	s.byID[p.ID] = p
	return copyProposal(p), nil
}

// Sign records signer's approval of proposal id at time now. It fails if
// the proposal is missing, non-Pending, past its deadline (transitioning
// it to Expired as a side effect), or already signed by signer. Reaching
// RequiredSignatures transitions the proposal to Approved.
func (s *Store) Sign(_ context.Context, id uint64, signer string, now uint64) (*Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if p.Status != StatusPending {
		return nil, fmt.Errorf("%w: proposal %d is %s", ErrIllegalTransition, id, p.Status)
	}
	if now > p.ExpiresAt {
		p.Status = StatusExpired
		return nil, ErrExpired
	}
	for _, sig := range p.Signatures {
		if sig.Signer == signer {
			return nil, ErrAlreadySigned
		}
	}

	p.Signatures = append(p.Signatures, Signature{Signer: signer, SignedAt: now})
	if len(p.Signatures) >= p.RequiredSignatures {
		p.Status = StatusApproved
	}
	return copyProposal(p), nil
}

// Reject transitions a Pending proposal to Rejected. The reason argument
// exists for callers that want to record it elsewhere (the audit log);
// this package does not store it structurally.
func (s *Store) Reject(_ context.Context, id uint64, reason string) error {
	_ = reason
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if p.Status != StatusPending {
		return fmt.Errorf("%w: proposal %d is %s", ErrIllegalTransition, id, p.Status)
	}
	p.Status = StatusRejected
	return nil
}

// MarkExecuted transitions an Approved proposal to Executed.
func (s *Store) MarkExecuted(_ context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if p.Status != StatusApproved {
		return fmt.Errorf("%w: proposal %d is %s", ErrIllegalTransition, id, p.Status)
	}
	p.Status = StatusExecuted
	return nil
}

// Get returns a copy of the proposal at id.
func (s *Store) Get(_ context.Context, id uint64) (*Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyProposal(p), nil
}

// ListPending returns every Pending proposal ordered by id.
func (s *Store) ListPending(_ context.Context) ([]*Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Proposal, 0)
	for _, p := range s.byID {
		if p.Status == StatusPending {
			out = append(out, copyProposal(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SweepExpired transitions every Pending proposal past its deadline to
// Expired, returning the ids that changed.
func (s *Store) SweepExpired(now uint64) []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var swept []uint64
	for _, p := range s.byID {
		if p.Status == StatusPending && now > p.ExpiresAt {
			p.Status = StatusExpired
			swept = append(swept, p.ID)
		}
	}
	sort.Slice(swept, func(i, j int) bool { return swept[i] < swept[j] })
	return swept
}

func copyProposal(p *Proposal) *Proposal {
	cp := *p
	cp.Signatures = append([]Signature(nil), p.Signatures...)
	return &cp
}
