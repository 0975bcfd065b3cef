// Package limits tracks the two pieces of per-caller state the fixed
// condition set in pkg/condition needs but does not own itself:
// process-wide daily volume (for DailyLimit) and per-(caller, action_type)
// last-success timestamps (for Cooldown). Both are supplemental state the
// dispatcher advances only after a successful execution, never during
// evaluation.
package limits

import "sync"

// DayWindowNS is the 24-hour rollover window, expressed in nanoseconds to
// match every other timestamp in this module.
const DayWindowNS uint64 = 24 * 3_600 * 1_000_000_000

// VolumeTracker exposes the rolling daily_volume counter spec.md §4.2
// requires: reset whenever now crosses a 24-hour boundary since the last
// reset, incremented only by successfully-executed actions.
type VolumeTracker interface {
	DailyVolume(now uint64) uint64
	AddExecuted(amount uint64, now uint64)
}

// CooldownTracker records the last successful execution time per
// (caller, action_type), the state the Cooldown condition consults.
type CooldownTracker interface {
	LastSuccess(caller, actionType string) (uint64, bool)
	RecordSuccess(caller, actionType string, now uint64)
}

// InMemory implements both trackers with a mutex-guarded map, mirroring
// pkg/finance's InMemoryTracker: re-check and mutate under the same lock
// so no caller ever observes a torn update.
type InMemory struct {
	mu sync.Mutex

	volume    uint64
	lastReset uint64

	cooldowns map[string]uint64
}

func NewInMemory() *InMemory {
	return &InMemory{cooldowns: make(map[string]uint64)}
}

// DailyVolume returns the current counter, rolling it over to zero first
// if now has crossed a day boundary since the last reset.
func (m *InMemory) DailyVolume(now uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked(now)
	return m.volume
}

// AddExecuted adds amount to the counter, rolling over first if needed.
func (m *InMemory) AddExecuted(amount uint64, now uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolloverLocked(now)
	m.volume += amount
}

func (m *InMemory) rolloverLocked(now uint64) {
	if now-m.lastReset >= DayWindowNS {
		m.volume = 0
		m.lastReset = now
	}
}

func cooldownKey(caller, actionType string) string {
	return caller + "\x00" + actionType
}

func (m *InMemory) LastSuccess(caller, actionType string) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ts, ok := m.cooldowns[cooldownKey(caller, actionType)]
	return ts, ok
}

func (m *InMemory) RecordSuccess(caller, actionType string, now uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cooldowns[cooldownKey(caller, actionType)] = now
}
