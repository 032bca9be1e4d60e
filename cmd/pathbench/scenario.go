package main

import (
	"context"
	"log"
	"strconv"
	"time"

	"voxelpath.ai/internal/sim/mathx"
	"voxelpath.ai/internal/sim/nav/cell"
	"voxelpath.ai/internal/sim/nav/failmem"
	"voxelpath.ai/internal/sim/nav/goal"
	"voxelpath.ai/internal/sim/nav/gridworld"
	"voxelpath.ai/internal/sim/nav/path"
	"voxelpath.ai/internal/sim/nav/planner"
	"voxelpath.ai/internal/sim/nav/recovery"
	"voxelpath.ai/internal/sim/tuning"
)

// Hash salts for the per-move fault injection.
const (
	saltFail = 0x6661696c
	saltSlip = 0x736c6970
)

type scenario struct {
	ID           int
	Seed         int64
	Size         int
	Obstacles    int
	GoalDist     int
	FailPermille int
	SlipPermille int
	MaxSegments  int
	Diagonals    bool
}

type result struct {
	ID         int
	Goal       string
	Reached    bool
	Final      cell.Cell
	Searches   int
	Expanded   int
	Moves      int
	Failures   int
	Retries    int
	Reconnects int
	Replans    int
	Elapsed    time.Duration
}

func (sc scenario) world(t tuning.World) *gridworld.World {
	boundary := t.BoundaryR
	if sc.Size > 0 {
		boundary = sc.Size
	}
	return gridworld.New(gridworld.Config{
		Seed:             sc.Seed,
		MinY:             t.MinY,
		MaxY:             t.MaxY,
		GroundY:          t.GroundY,
		BoundaryR:        boundary,
		ObstaclePermille: sc.Obstacles,
		HillPermille:     t.HillPermille,
		SpawnClearRadius: t.SpawnClearRadius,
	})
}

// target picks a column GoalDist cells from the origin in a seed-dependent
// direction and clears it.
func (sc scenario) target(w *gridworld.World) goal.XZ {
	d := max(sc.GoalDist, 1)
	side := int(mathx.Hash2(sc.Seed, d, sc.ID)%uint64(2*d+1)) - d
	x, z := d, side
	if mathx.Hash2(sc.Seed, sc.ID, d)%2 == 1 {
		x, z = side, d
	}
	if mathx.Hash2(sc.Seed, x, z)%2 == 1 {
		x, z = -x, -z
	}
	w.SetBlocked(x, z, false)
	return goal.XZ{X: x, Z: z}
}

func (sc scenario) inject(salt, step, permille int) bool {
	if permille <= 0 {
		return false
	}
	return mathx.Hash3(sc.Seed, salt, sc.ID, step)%1000 < uint64(permille)
}

// runScenario drives one agent towards its goal: plan, plan ahead, then walk
// the path with injected move failures and slips, replanning or reconnecting
// as the recovery manager decides.
func runScenario(ctx context.Context, sc scenario, tune tuning.Tuning, rec planner.Recorder, logger *log.Logger) (result, error) {
	began := time.Now()
	w := sc.world(tune.World)
	g := sc.target(w)
	res := result{ID: sc.ID, Goal: g.String()}

	p := planner.New(planner.Config{
		ID:       "run-" + strconv.Itoa(sc.ID),
		World:    w,
		Border:   w,
		Provider: gridworld.Walker{World: w, Diagonals: sc.Diagonals},
		Hazards:  w.Hazards,
		Recorder: rec,
		Logger:   logger,
		Tuning:   tune,
	})
	mgr := p.Recovery()
	mctx := p.MoveContext()
	slip := tune.Corridor.Buffer + 1

	pos := w.Surface(0, 0)
	step := 0
	var previous *path.Path
	for seg := 0; seg < sc.MaxSegments && !g.IsSatisfied(pos); seg++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		out, err := p.Plan(ctx, planner.Request{Start: pos, Goal: g, Previous: previous})
		if err != nil {
			return res, err
		}
		res.Searches++
		res.Expanded += out.Expanded
		if !out.HasPath() {
			break
		}
		current := out.Path
		if !current.EndsInGoal() {
			if next, ahead, err := p.PlanAhead(ctx, current, g); err == nil && next != current {
				res.Searches++
				res.Expanded += ahead.Expanded
				current = next
			}
		}
		previous = current
		if seg > 0 {
			res.Replans++
		}

		corridor := p.Corridor(current)
		mgr.Reset()
		budget := step + 4*current.NumMoves()
		for i := 0; i < current.NumMoves() && step < budget; i++ {
			step++
			m := current.Move(i)
			if sc.inject(saltFail, step, sc.FailPermille) {
				res.Failures++
				d := p.MoveFailed(mgr, current, i, pos, m, failmem.ReasonRejected)
				if d.Action != recovery.ActionRetry {
					break
				}
				res.Retries++
				m = *d.Move
			}
			pos = m.Dst
			res.Moves++
			mgr.Advance(i + 1)

			if !sc.inject(saltSlip, step, sc.SlipPermille) {
				continue
			}
			drift := w.Surface(pos.X, pos.Z+slip)
			if !w.Contains(drift.X, drift.Z) || w.Blocked(drift.X, drift.Z) || drift.Y != pos.Y {
				continue
			}
			pos = drift
			d := mgr.Check(mctx, corridor, current, i+1, pos)
			if d.Action != recovery.ActionReconnect {
				break
			}
			res.Reconnects++
			current = d.Path
			corridor.Reset(current, 0)
			mgr.Reset()
			i = -1
		}
	}

	res.Reached = g.IsSatisfied(pos)
	res.Final = pos
	res.Elapsed = time.Since(began)
	return res, nil
}
