// Package audit implements the append-only, hash-chained audit log of
// spec.md §4.4. Every entry's hash folds in the previous entry's hash, so
// tampering with any entry invalidates every hash after it — the same
// scheme pkg/store's AuditStore uses, rebuilt here on top of
// pkg/canonicalize instead of a hand-rolled JSON hash. A Log constructed
// with NewKeyedLog chains HMAC-SHA256 tags instead of plain hashes, keyed
// by a secret derived via HKDF (keyring.go), so recomputing the chain
// requires the root secret rather than just the entries themselves.
package audit

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/carlos-israelj/ChainGuard-SDK/pkg/action"
	"github.com/carlos-israelj/ChainGuard-SDK/pkg/canonicalize"
	"github.com/carlos-israelj/ChainGuard-SDK/pkg/clockid"
	"github.com/carlos-israelj/ChainGuard-SDK/pkg/policy"
)

// ExecutionResult is produced by the external signer/RPC adapters once an
// Allowed or Approved action has been submitted to a chain.
type ExecutionResult struct {
	Success bool
	Chain   string
	TxHash  string
	Error   string
}

// Entry is one append-only record. ExecutionResult starts nil and may be
// attached exactly once via AttachExecution.
type Entry struct {
	ID              uint64
	Timestamp       uint64
	ActionType      string
	ActionParams    string
	Requester       string
	PolicyResult    policy.Result
	ProposalID      *uint64
	ExecutionResult *ExecutionResult

	// CorrelationID is an opaque identifier an operator can hand to an
	// external system (a ticket, a trace, a support case) to look this
	// entry up without knowing its monotonic ID ahead of time. It plays
	// no part in the hash chain.
	CorrelationID string

	PreviousHash string
	EntryHash    string
}

var (
	ErrNotFound            = errors.New("audit: entry not found")
	ErrExecutionAlreadySet = errors.New("audit: execution result already attached")
	ErrChainBroken         = errors.New("audit: hash chain is broken")
)

// genesisHash seeds the chain before any entry exists, mirroring the
// teacher store's "genesis" sentinel.
const genesisHash = "sha256:genesis"

// Log is the mutex-guarded, hash-chained store. All mutation happens
// through Record and AttachExecution; nothing else ever changes an entry
// once appended.
type Log struct {
	mu        sync.Mutex
	seq       *clockid.Sequence
	entries   []*Entry
	byID      map[uint64]*Entry
	chainHead string
	hmacKey   []byte
}

func NewLog(seq *clockid.Sequence) *Log {
	return &Log{seq: seq, byID: make(map[uint64]*Entry), chainHead: genesisHash}
}

// NewKeyedLog is NewLog with every hash in the chain replaced by an
// HMAC-SHA256 tag keyed on a value derived from rootSecret via
// DeriveHMACKey. Use this when the audit log must resist an attacker who
// can read (and thus rehash) the log but does not hold rootSecret.
func NewKeyedLog(seq *clockid.Sequence, rootSecret []byte) (*Log, error) {
	key, err := DeriveHMACKey(rootSecret)
	if err != nil {
		return nil, err
	}
	l := NewLog(seq)
	l.hmacKey = key
	return l, nil
}

// hashable is the subset of Entry fields folded into EntryHash. Excluding
// ExecutionResult means attaching it later never invalidates the chain —
// intentional, since spec.md requires that slot to be patchable exactly
// once without breaking earlier verification.
type hashable struct {
	ID           uint64
	Timestamp    uint64
	ActionType   string
	ActionParams string
	Requester    string
	Decision     policy.Decision
	MatchedPolicy string
	ProposalID   uint64
	PreviousHash string
}

// chainTag hashes h with HMAC-SHA256 when l carries a key, or with plain
// SHA-256 otherwise. Every call site uses this instead of calling
// pkg/canonicalize directly, so Record and VerifyChain never drift apart on
// which one a given Log uses.
func (l *Log) chainTag(h hashable) (string, error) {
	if l.hmacKey != nil {
		return canonicalize.MAC(l.hmacKey, h)
	}
	return canonicalize.Hash(h)
}

// Record appends a new entry describing a just-evaluated action.
func (l *Log) Record(a action.Action, requester string, result policy.Result, proposalID *uint64, now uint64) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := &Entry{
		ID:            l.seq.Next(),
		Timestamp:     now,
		ActionType:    a.ActionType(),
		ActionParams:  a.Params(),
		Requester:     requester,
		PolicyResult:  result,
		ProposalID:    proposalID,
		CorrelationID: uuid.New().String(),
		PreviousHash:  l.chainHead,
	}

	h := hashable{
		ID:            e.ID,
		Timestamp:     e.Timestamp,
		ActionType:    e.ActionType,
		ActionParams:  e.ActionParams,
		Requester:     e.Requester,
		Decision:      result.Decision,
		MatchedPolicy: result.MatchedPolicy,
		PreviousHash:  e.PreviousHash,
	}
	if proposalID != nil {
		h.ProposalID = *proposalID
	}

	hash, err := l.chainTag(h)
	if err != nil {
		return nil, fmt.Errorf("audit: hashing entry: %w", err)
	}
	e.EntryHash = hash
	l.chainHead = hash

	l.entries = append(l.entries, e)
	l.byID[e.ID] = e
	return copyEntry(e), nil
}

// AttachExecution patches the execution_result slot of an existing entry.
// Attempting to attach twice is an error; the slot transitions empty to
// populated exactly once, as spec.md §4.4 requires.
func (l *Log) AttachExecution(id uint64, result ExecutionResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byID[id]
	if !ok {
		return ErrNotFound
	}
	if e.ExecutionResult != nil {
		return ErrExecutionAlreadySet
	}
	e.ExecutionResult = &result
	return nil
}

// Entry returns a copy of the entry at id.
func (l *Log) Entry(id uint64) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyEntry(e), nil
}

// EntryByCorrelationID returns the entry whose CorrelationID matches id, the
// lookup path an operator uses when they only have the correlation ID an
// external system recorded, not the monotonic audit ID.
func (l *Log) EntryByCorrelationID(id string) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range l.entries {
		if e.CorrelationID == id {
			return copyEntry(e), nil
		}
	}
	return nil, ErrNotFound
}

// EntriesInRange returns every entry with start <= timestamp <= end.
// A nil bound is unbounded on that side.
func (l *Log) EntriesInRange(start, end *uint64) []*Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*Entry, 0)
	for _, e := range l.entries {
		if start != nil && e.Timestamp < *start {
			continue
		}
		if end != nil && e.Timestamp > *end {
			continue
		}
		out = append(out, copyEntry(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// VerifyChain recomputes every entry's hash and confirms the chain is
// intact, the way pkg/store's AuditStore.VerifyChain does for the
// original append-only store this package descends from.
func (l *Log) VerifyChain() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	expectedPrev := genesisHash
	for i, e := range l.entries {
		if e.PreviousHash != expectedPrev {
			return fmt.Errorf("%w: entry %d has previous_hash %s but expected %s", ErrChainBroken, i, e.PreviousHash, expectedPrev)
		}
		h := hashable{
			ID:            e.ID,
			Timestamp:     e.Timestamp,
			ActionType:    e.ActionType,
			ActionParams:  e.ActionParams,
			Requester:     e.Requester,
			Decision:      e.PolicyResult.Decision,
			MatchedPolicy: e.PolicyResult.MatchedPolicy,
			PreviousHash:  e.PreviousHash,
		}
		if e.ProposalID != nil {
			h.ProposalID = *e.ProposalID
		}
		computed, err := l.chainTag(h)
		if err != nil {
			return fmt.Errorf("%w: entry %d hash computation failed: %v", ErrChainBroken, i, err)
		}
		if computed != e.EntryHash {
			return fmt.Errorf("%w: entry %d hash mismatch (computed %s, stored %s)", ErrChainBroken, i, computed, e.EntryHash)
		}
		expectedPrev = e.EntryHash
	}
	return nil
}

func copyEntry(e *Entry) *Entry {
	cp := *e
	if e.ProposalID != nil {
		id := *e.ProposalID
		cp.ProposalID = &id
	}
	if e.ExecutionResult != nil {
		res := *e.ExecutionResult
		cp.ExecutionResult = &res
	}
	return &cp
}
