// Package clockid provides the authority time source and monotonic ID
// generators shared by the proposal store and the audit log.
//
// Per spec, timestamps are unsigned nanoseconds since a fixed epoch, and
// proposal/audit IDs must be strictly increasing and disjoint from each
// other. Nothing in this package reaches for wall-clock time on its own;
// callers inject a Clock so tests can drive the system with an arbitrary
// time sequence.
package clockid

import (
	"sync/atomic"
	"time"
)

// Clock provides authority time in nanoseconds since the Unix epoch.
// Production code injects a wall clock; tests inject a deterministic one.
type Clock interface {
	NowNano() uint64
}

// WallClock is the default Clock, backed by time.Now.
type WallClock struct{}

func (WallClock) NowNano() uint64 {
	return uint64(time.Now().UnixNano())
}

// FixedClock is a test clock that returns a caller-controlled value.
type FixedClock struct {
	nanos uint64
}

func NewFixedClock(nanos uint64) *FixedClock {
	return &FixedClock{nanos: nanos}
}

func (c *FixedClock) NowNano() uint64 {
	return atomic.LoadUint64(&c.nanos)
}

// Set moves the clock to an arbitrary nanosecond timestamp.
func (c *FixedClock) Set(nanos uint64) {
	atomic.StoreUint64(&c.nanos, nanos)
}

// Advance moves the clock forward by delta nanoseconds and returns the
// new value.
func (c *FixedClock) Advance(delta uint64) uint64 {
	return atomic.AddUint64(&c.nanos, delta)
}

// Sequence is a strictly-increasing ID generator. Proposal IDs and audit
// IDs each get their own Sequence so the two ID spaces stay disjoint, per
// spec.md §4.4 ("IDs are monotonic and disjoint from proposal IDs").
type Sequence struct {
	next uint64
}

// NewSequence creates a Sequence whose first Next() call returns 1.
func NewSequence() *Sequence {
	return &Sequence{}
}

// Next returns the next strictly-increasing value, starting at 1.
func (s *Sequence) Next() uint64 {
	return atomic.AddUint64(&s.next, 1)
}

// Peek returns the most recently issued value without consuming one, or 0
// if Next has never been called.
func (s *Sequence) Peek() uint64 {
	return atomic.LoadUint64(&s.next)
}
