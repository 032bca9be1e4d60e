// Package recovery classifies execution-time failures and corridor deviations
// into a retry with an alternative move, a reconnection onto the current path
// through a bounded search, or cancellation (full replan).
package recovery

import (
	"fmt"
	"io"
	"log"
	"math"
	"sync"
	"time"

	"voxelpath.ai/internal/sim/nav/cell"
	"voxelpath.ai/internal/sim/nav/failmem"
	"voxelpath.ai/internal/sim/nav/goal"
	"voxelpath.ai/internal/sim/nav/move"
	"voxelpath.ai/internal/sim/nav/path"
	"voxelpath.ai/internal/sim/nav/search"
)

type Action int

const (
	ActionContinue Action = iota
	ActionRetry
	ActionReconnect
	ActionCancel
)

func (a Action) String() string {
	switch a {
	case ActionContinue:
		return "continue"
	case ActionRetry:
		return "retry"
	case ActionReconnect:
		return "reconnect"
	case ActionCancel:
		return "cancel"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Decision is the outcome of one recovery event.
//
// Retry carries the alternative Move. Reconnect carries the replacement Path
// (starting at the agent's position) and Index, the position on the old path
// it rejoins. Cancel carries only Reason.
type Decision struct {
	Action Action
	Move   *move.Move
	Index  int
	Path   *path.Path
	Reason string
}

type Settings struct {
	// MaxRetries bounds retries from one source cell until Advance.
	MaxRetries int

	ReconnectEnabled bool
	Lookbehind       int
	Lookahead        int
	// Margin is how much cheaper reconnecting must be than returning to the
	// corridor and following the rest of the path.
	Margin float64
	// Node budget for the reconnection search: BaseNodes + NodesPerBlock*distance.
	BaseNodes     int
	NodesPerBlock int
	Timeout       time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		MaxRetries:       3,
		ReconnectEnabled: true,
		Lookbehind:       5,
		Lookahead:        20,
		Margin:           2,
		BaseNodes:        2000,
		NodesPerBlock:    200,
		Timeout:          100 * time.Millisecond,
	}
}

// Manager is safe for concurrent use, though events normally arrive from the
// single execution loop.
type Manager struct {
	provider move.Provider
	failures *failmem.Memory
	settings Settings
	logger   *log.Logger

	mu       sync.Mutex
	retries  map[int64]int
	progress int
	observe  func(Decision)
}

func New(provider move.Provider, failures *failmem.Memory, settings Settings, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if settings.Lookahead < 1 {
		settings.Lookahead = 1
	}
	return &Manager{
		provider: provider,
		failures: failures,
		settings: settings,
		logger:   logger,
		retries:  map[int64]int{},
	}
}

func (m *Manager) Settings() Settings { return m.settings }

// SetObserver installs a hook called with every decision.
func (m *Manager) SetObserver(fn func(Decision)) {
	m.mu.Lock()
	m.observe = fn
	m.mu.Unlock()
}

func (m *Manager) emit(d Decision) Decision {
	m.mu.Lock()
	fn := m.observe
	m.mu.Unlock()
	if fn != nil {
		fn(d)
	}
	return d
}

func cancel(format string, args ...any) Decision {
	return Decision{Action: ActionCancel, Index: -1, Reason: fmt.Sprintf(format, args...)}
}

// Advance tells the manager execution has moved past index; the retry budget
// resets.
func (m *Manager) Advance(index int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index <= m.progress {
		return
	}
	m.progress = index
	clear(m.retries)
}

// Reset forgets execution progress, for use when a new path is adopted.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.progress = 0
	clear(m.retries)
	m.mu.Unlock()
}

// Retries reports how many retries were issued from the given cell since the
// last Advance.
func (m *Manager) Retries(from cell.Cell) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retries[from.Key()]
}

// OnMoveFailure records the failed move and looks for the cheapest other move
// from actual to the same destination.
func (m *Manager) OnMoveFailure(ctx *move.Context, p *path.Path, index int, actual cell.Cell, failed move.Move, reason failmem.Reason) Decision {
	if m.failures != nil {
		n := m.failures.Record(failed.Src, failed.Dst, failed.Kind, reason)
		m.logger.Printf("move failed kind=%s %s->%s reason=%s attempts=%d", failed.Kind, failed.Src, failed.Dst, reason, n)
	}

	target := failed.Dst
	if p != nil && index >= 0 && index < p.NumMoves() {
		target = p.Move(index).Dst
	}

	key := actual.Key()
	m.mu.Lock()
	used := m.retries[key]
	m.mu.Unlock()
	if used >= m.settings.MaxRetries {
		return m.emit(cancel("retry budget exhausted at %s (%d)", actual, used))
	}

	var best *move.Move
	bestCost := math.Inf(1)
	for cand := range m.provider.Moves(ctx, actual) {
		if cand.Dst != target || cand.Kind == failed.Kind || cand.Impossible() {
			continue
		}
		cost := cand.Cost
		if m.failures != nil {
			if m.failures.ShouldFilter(cand.Src, cand.Dst, cand.Kind) {
				continue
			}
			cost *= m.failures.Penalty(cand.Src, cand.Dst, cand.Kind)
		}
		if cost >= move.CostInf || cost >= bestCost {
			continue
		}
		c := cand
		best, bestCost = &c, cost
	}
	if best == nil {
		return m.emit(cancel("no alternative move %s->%s", actual, target))
	}

	m.mu.Lock()
	m.retries[key]++
	m.mu.Unlock()
	m.logger.Printf("retry kind=%s %s->%s cost=%.2f", best.Kind, best.Src, best.Dst, bestCost)
	return m.emit(Decision{Action: ActionRetry, Move: best, Index: index, Reason: string(reason)})
}

// OnDeviation is called when actual has left the corridor around segment. It
// tries to rejoin the path within the lookbehind/lookahead window.
func (m *Manager) OnDeviation(ctx *move.Context, p *path.Path, segment int, actual cell.Cell) Decision {
	if !m.settings.ReconnectEnabled {
		return m.emit(cancel("reconnection disabled"))
	}
	if p == nil || p.Len() == 0 {
		return m.emit(cancel("no path"))
	}
	segment = max(0, min(segment, p.Len()-1))

	j, ok := m.rejoinCandidate(p, segment, actual)
	if !ok {
		return m.emit(cancel("no rejoin candidate"))
	}
	target := p.At(j)
	if target == actual {
		return m.emit(Decision{Action: ActionReconnect, Index: j, Path: p.Suffix(j), Reason: "already on path"})
	}

	dist := math.Sqrt(float64(cell.DistSq(actual, target)))
	budget := m.settings.BaseNodes + int(math.Ceil(float64(m.settings.NodesPerBlock)*dist))
	timeout := m.settings.Timeout
	if timeout <= 0 {
		timeout = DefaultSettings().Timeout
	}
	s := search.New(search.Params{
		Start:    actual,
		Goal:     goal.Block{Pos: target},
		Context:  ctx,
		Provider: m.provider,
		Failures: m.failures,
		Settings: search.Settings{
			PrimaryTimeout: timeout,
			FailureTimeout: timeout,
			Phases:         []search.Phase{{Epsilon: 1, Duration: timeout}},
			MaxNodes:       budget,
			MinPartialDist: search.DefaultSettings().MinPartialDist,
		},
	})
	out, err := s.Run()
	if err != nil {
		return m.emit(cancel("reconnection search: %v", err))
	}
	if out.Status != search.StatusComplete || out.Path == nil || out.AssemblyErr != nil {
		return m.emit(cancel("rejoin target %s unreachable (%s)", target, out.Reason))
	}

	segCost := out.Path.TotalCost()
	reconnect := segCost + p.RemainingCost(j) + m.settings.Margin
	giveUp := goal.Block{Pos: p.At(segment)}.Heuristic(actual) + p.RemainingCost(segment)
	if !(reconnect < giveUp) {
		return m.emit(cancel("reconnection not favorable (%.2f >= %.2f)", reconnect, giveUp))
	}
	spliced, ok := path.Splice(out.Path, p.Suffix(j), true)
	if !ok {
		return m.emit(cancel("splice failed at index %d", j))
	}
	m.logger.Printf("reconnect at index=%d cost=%.2f vs %.2f expanded=%d", j, reconnect, giveUp, out.Expanded)
	return m.emit(Decision{Action: ActionReconnect, Index: j, Path: spliced, Reason: "deviation"})
}

// rejoinCandidate picks the window position with the lowest estimated cost to
// reach and then finish the path from. Later positions win ties.
func (m *Manager) rejoinCandidate(p *path.Path, segment int, actual cell.Cell) (int, bool) {
	lo := max(0, segment-m.settings.Lookbehind)
	hi := min(p.Len()-1, segment+m.settings.Lookahead)
	best, bestEst := -1, math.Inf(1)
	for j := lo; j <= hi; j++ {
		est := goal.Block{Pos: p.At(j)}.Heuristic(actual) + p.RemainingCost(j)
		if est <= bestEst {
			best, bestEst = j, est
		}
	}
	return best, best >= 0
}

// Check updates the corridor to segment and continues while actual stays
// inside it; otherwise it handles the deviation.
func (m *Manager) Check(ctx *move.Context, c *Corridor, p *path.Path, segment int, actual cell.Cell) Decision {
	if c != nil {
		c.Update(segment)
		if c.Contains(actual) {
			return Decision{Action: ActionContinue, Index: segment}
		}
	}
	return m.OnDeviation(ctx, p, segment, actual)
}
