package search

import (
	"fmt"
	"time"

	"voxelpath.ai/internal/sim/nav/cell"
	"voxelpath.ai/internal/sim/nav/move"
)

// Phase is one step of the greediness schedule: while the search has run for
// less than the cumulative Duration, the heuristic is weighted by Epsilon.
type Phase struct {
	Epsilon  float64
	Duration time.Duration
}

// Settings is an immutable snapshot taken when a search is created.
type Settings struct {
	PrimaryTimeout time.Duration
	FailureTimeout time.Duration

	Phases []Phase
	// ProgressPhases caps how many phases are used while the search is
	// making progress away from the start.
	ProgressPhases int

	// MinImprovement filters relaxations that barely change a node's cost.
	MinImprovement float64
	// Coefficients weight cost against heuristic when tracking partial
	// results; smaller values are preferred when picking one.
	Coefficients []float64
	// MinPartialDist is the distance (cells) from the start a partial
	// result must exceed to be usable.
	MinPartialDist float64
	// MaxUnloaded ends the search after this many moves into unloaded
	// regions; <= 0 disables the limit.
	MaxUnloaded int
	// CheckEvery is the expansion interval between clock reads.
	CheckEvery int
	// MaxNodes bounds expansions; <= 0 means unbounded.
	MaxNodes int
}

func DefaultSettings() Settings {
	return Settings{
		PrimaryTimeout: 500 * time.Millisecond,
		FailureTimeout: 2 * time.Second,
		Phases: []Phase{
			{Epsilon: 1, Duration: 150 * time.Millisecond},
			{Epsilon: 3, Duration: 150 * time.Millisecond},
			{Epsilon: 10, Duration: 200 * time.Millisecond},
			{Epsilon: 30, Duration: 500 * time.Millisecond},
			{Epsilon: 100, Duration: time.Second},
		},
		ProgressPhases: 3,
		MinImprovement: 0.01,
		Coefficients:   []float64{1.5, 2, 2.5, 3, 4, 5, 10},
		MinPartialDist: 5,
		MaxUnloaded:    50,
		CheckEvery:     64,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.PrimaryTimeout <= 0 {
		s.PrimaryTimeout = d.PrimaryTimeout
	}
	if s.FailureTimeout <= 0 {
		s.FailureTimeout = d.FailureTimeout
	}
	if s.FailureTimeout < s.PrimaryTimeout {
		s.FailureTimeout = s.PrimaryTimeout
	}
	if len(s.Phases) == 0 {
		s.Phases = []Phase{{Epsilon: 1}}
	}
	if s.ProgressPhases <= 0 {
		s.ProgressPhases = len(s.Phases)
	}
	if s.MinImprovement < 0 {
		s.MinImprovement = 0
	}
	if len(s.Coefficients) == 0 {
		s.Coefficients = d.Coefficients
	}
	if s.CheckEvery <= 0 {
		s.CheckEvery = d.CheckEvery
	}
	s.Phases = append([]Phase(nil), s.Phases...)
	s.Coefficients = append([]float64(nil), s.Coefficients...)
	return s
}

// epsilonAt picks the heuristic weight for the elapsed time. Phases past
// ProgressPhases only apply while the search is failing.
func (s Settings) epsilonAt(elapsed time.Duration, failing bool) float64 {
	limit := len(s.Phases)
	if !failing && s.ProgressPhases < limit {
		limit = s.ProgressPhases
	}
	var acc time.Duration
	for i := 0; i < limit; i++ {
		acc += s.Phases[i].Duration
		if elapsed < acc || i == limit-1 {
			return s.Phases[i].Epsilon
		}
	}
	return 1
}

type Status int

const (
	StatusComplete Status = iota + 1
	StatusPartial
	StatusNoPath
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusComplete:
		return "complete"
	case StatusPartial:
		return "partial"
	case StatusNoPath:
		return "no_path"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

type Reason int

const (
	ReasonNone Reason = iota
	ReasonUnreachable
	ReasonPrimaryTimeout
	ReasonFailureTimeout
	ReasonChunkLoadLimit
	ReasonCancelled
	ReasonNodeLimit
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonUnreachable:
		return "unreachable"
	case ReasonPrimaryTimeout:
		return "primary_timeout"
	case ReasonFailureTimeout:
		return "failure_timeout"
	case ReasonChunkLoadLimit:
		return "chunk_load_limit"
	case ReasonCancelled:
		return "cancelled"
	case ReasonNodeLimit:
		return "node_limit"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// ContractError describes a collaborator breaking the search contract (a
// non-positive or NaN move cost, a NaN heuristic, a move not starting where
// it was requested). The search panics with it.
type ContractError struct {
	Src  cell.Cell
	Dst  cell.Cell
	Kind move.Kind
	Msg  string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("search contract violated: %s (src=%s dst=%s kind=%s)", e.Msg, e.Src, e.Dst, e.Kind)
}
