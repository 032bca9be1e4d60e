// Package failmem remembers execution failures per (source, destination,
// move kind) so later searches price repeatedly failing transitions higher and
// eventually skip them, without blacklisting the cells for other moves.
package failmem

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"voxelpath.ai/internal/sim/nav/cell"
	"voxelpath.ai/internal/sim/nav/move"
)

type Reason string

const (
	ReasonRejected     Reason = "rejected"
	ReasonWorldChanged Reason = "world_changed"
	ReasonTimeout      Reason = "timeout"
	ReasonBlocked      Reason = "blocked"
	ReasonUnreachable  Reason = "unreachable"
)

type Settings struct {
	// Window is how long a failure counts towards the attempt total.
	Window      time.Duration
	PenaltyBase float64
	MaxPenalty  float64
	// MaxAttempts filters a transition outright once reached; <= 0 disables.
	MaxAttempts int
}

func DefaultSettings() Settings {
	return Settings{
		Window:      30 * time.Second,
		PenaltyBase: 2,
		MaxPenalty:  64,
		MaxAttempts: 5,
	}
}

type Event struct {
	At     time.Time
	Reason Reason
}

type pairKey struct {
	src int64
	dst int64
}

type entry struct {
	mu    sync.Mutex
	dead  bool
	kinds map[move.Kind][]Event
}

// Memory is safe for concurrent use. Reads from the search goroutine only
// contend with writers touching the same (source, destination) pair.
type Memory struct {
	settings Settings
	now      func() time.Time

	entries sync.Map // pairKey -> *entry
	pairs   atomic.Int64
}

func New(s Settings) *Memory {
	if s.PenaltyBase < 1 {
		s.PenaltyBase = 1
	}
	if s.MaxPenalty < 1 {
		s.MaxPenalty = 1
	}
	return &Memory{settings: s, now: time.Now}
}

// SetClock replaces the time source. Not safe to call concurrently with
// other methods.
func (m *Memory) SetClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

func (m *Memory) Settings() Settings { return m.settings }

// Record stores a failure and returns the attempt count inside the window.
func (m *Memory) Record(src, dst cell.Cell, kind move.Kind, reason Reason) int {
	k := pairKey{src: src.Key(), dst: dst.Key()}
	now := m.now()
	for {
		v, loaded := m.entries.LoadOrStore(k, &entry{kinds: map[move.Kind][]Event{}})
		if !loaded {
			m.pairs.Add(1)
		}
		e := v.(*entry)
		e.mu.Lock()
		if e.dead {
			// Lost a race with Cleanup; the entry is gone from the map.
			e.mu.Unlock()
			continue
		}
		events := append(e.kinds[kind], Event{At: now, Reason: reason})
		events = m.pruneLocked(events, now)
		e.kinds[kind] = events
		n := len(events)
		e.mu.Unlock()
		return n
	}
}

func (m *Memory) pruneLocked(events []Event, now time.Time) []Event {
	if m.settings.Window <= 0 {
		return events
	}
	cut := 0
	for cut < len(events) && now.Sub(events[cut].At) >= m.settings.Window {
		cut++
	}
	if cut == 0 {
		return events
	}
	return append(events[:0], events[cut:]...)
}

// Attempts counts failures of the exact triple inside the window.
func (m *Memory) Attempts(src, dst cell.Cell, kind move.Kind) int {
	if m == nil || m.pairs.Load() == 0 {
		return 0
	}
	v, ok := m.entries.Load(pairKey{src: src.Key(), dst: dst.Key()})
	if !ok {
		return 0
	}
	e := v.(*entry)
	now := m.now()
	e.mu.Lock()
	defer e.mu.Unlock()
	events := e.kinds[kind]
	if m.settings.Window <= 0 {
		return len(events)
	}
	n := 0
	for i := len(events) - 1; i >= 0; i-- {
		if now.Sub(events[i].At) >= m.settings.Window {
			break
		}
		n++
	}
	return n
}

// Penalty is the cost multiplier for the triple: base^attempts, capped.
func (m *Memory) Penalty(src, dst cell.Cell, kind move.Kind) float64 {
	n := m.Attempts(src, dst, kind)
	if n == 0 {
		return 1
	}
	return math.Min(math.Pow(m.settings.PenaltyBase, float64(n)), m.settings.MaxPenalty)
}

func (m *Memory) ShouldFilter(src, dst cell.Cell, kind move.Kind) bool {
	if m == nil || m.settings.MaxAttempts <= 0 {
		return false
	}
	return m.Attempts(src, dst, kind) >= m.settings.MaxAttempts
}

// Cleanup drops expired events and forgets keys whose lists empty.
func (m *Memory) Cleanup() {
	now := m.now()
	m.entries.Range(func(k, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		for kind, events := range e.kinds {
			events = m.pruneLocked(events, now)
			if len(events) == 0 {
				delete(e.kinds, kind)
				continue
			}
			e.kinds[kind] = events
		}
		if len(e.kinds) == 0 {
			e.dead = true
			if m.entries.CompareAndDelete(k, e) {
				m.pairs.Add(-1)
			}
		}
		e.mu.Unlock()
		return true
	})
}

// Clear forgets everything, e.g. after a dimension change.
func (m *Memory) Clear() {
	m.entries.Range(func(k, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		e.dead = true
		if m.entries.CompareAndDelete(k, e) {
			m.pairs.Add(-1)
		}
		e.mu.Unlock()
		return true
	})
}

// Len reports how many (source, destination, kind) triples hold events.
func (m *Memory) Len() int {
	n := 0
	m.entries.Range(func(_, v any) bool {
		e := v.(*entry)
		e.mu.Lock()
		n += len(e.kinds)
		e.mu.Unlock()
		return true
	})
	return n
}
