package planner

import (
	"maps"

	"voxelpath.ai/internal/sim/nav/failmem"
	"voxelpath.ai/internal/sim/nav/recovery"
	"voxelpath.ai/internal/sim/nav/search"
	"voxelpath.ai/internal/sim/tuning"
)

// SearchSettings converts the tuning section into an engine snapshot.
func SearchSettings(t tuning.Search) search.Settings {
	phases := make([]search.Phase, 0, len(t.Phases))
	for _, ph := range t.Phases {
		phases = append(phases, search.Phase{Epsilon: ph.Epsilon, Duration: ph.Duration()})
	}
	return search.Settings{
		PrimaryTimeout: t.PrimaryTimeout(),
		FailureTimeout: t.FailureTimeout(),
		Phases:         phases,
		ProgressPhases: t.ProgressPhases,
		MinImprovement: t.MinImprovement,
		Coefficients:   append([]float64(nil), t.Coefficients...),
		MinPartialDist: t.MinPartialDist,
		MaxUnloaded:    t.MaxUnloaded,
		CheckEvery:     t.CheckEvery,
		MaxNodes:       t.MaxNodes,
	}
}

func FailureSettings(t tuning.Failures) failmem.Settings {
	return failmem.Settings{
		Window:      t.Window(),
		PenaltyBase: t.PenaltyBase,
		MaxPenalty:  t.MaxPenalty,
		MaxAttempts: t.MaxAttempts,
	}
}

func RecoverySettings(t tuning.Recovery) recovery.Settings {
	return recovery.Settings{
		MaxRetries:       t.MaxRetries,
		ReconnectEnabled: t.ReconnectEnabled,
		Lookbehind:       t.Lookbehind,
		Lookahead:        t.Lookahead,
		Margin:           t.Margin,
		BaseNodes:        t.BaseNodes,
		NodesPerBlock:    t.NodesPerBlock,
		Timeout:          t.Timeout(),
	}
}

func tunables(t tuning.Tuning) map[string]float64 {
	if len(t.Movement) == 0 {
		return nil
	}
	return maps.Clone(t.Movement)
}
