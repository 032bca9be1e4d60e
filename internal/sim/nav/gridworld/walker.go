package gridworld

import (
	"iter"
	"math"

	"voxelpath.ai/internal/sim/mathx"
	"voxelpath.ai/internal/sim/nav/cell"
	"voxelpath.ai/internal/sim/nav/move"
)

const (
	KindWalk     move.Kind = "walk"
	KindDiagonal move.Kind = "diagonal"
	KindAscend   move.Kind = "ascend"
	KindDescend  move.Kind = "descend"
)

// Tunable names read from move.Context.
const (
	TunableWalkCost     = "walk_cost"
	TunableDiagonalCost = "diagonal_cost"
	TunableAscendCost   = "ascend_cost"
	TunableDescendCost  = "descend_cost"
)

const (
	DefaultWalkCost     = 1.0
	DefaultAscendCost   = 2.0
	DefaultDescendCost  = 1.5
	defaultDiagonalCost = math.Sqrt2
)

// Step is the Exec payload of gridworld moves.
type Step struct {
	DX int
	DY int
	DZ int
}

var cardinals = [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}
var diagonals = [4][2]int{{1, 1}, {1, -1}, {-1, 1}, {-1, -1}}

// Walker yields terrestrial moves over a World: level steps in the four
// cardinal directions, single-block ascents and descents, and (optionally)
// level diagonals when both flanking columns are open.
type Walker struct {
	World     *World
	Diagonals bool
}

func (p Walker) Moves(ctx *move.Context, from cell.Cell) iter.Seq[move.Move] {
	return func(yield func(move.Move) bool) {
		w := p.World
		if w == nil {
			return
		}
		walk := ctx.Tunable(TunableWalkCost, DefaultWalkCost)
		up := ctx.Tunable(TunableAscendCost, DefaultAscendCost)
		down := ctx.Tunable(TunableDescendCost, DefaultDescendCost)

		for _, d := range cardinals {
			nx, nz := from.X+d[0], from.Z+d[1]
			if w.Blocked(nx, nz) {
				continue
			}
			ny := w.Height(nx, nz)
			dy := ny - from.Y
			var kind move.Kind
			var cost float64
			switch dy {
			case 0:
				kind, cost = KindWalk, walk
			case 1:
				kind, cost = KindAscend, up
			case -1:
				kind, cost = KindDescend, down
			default:
				continue
			}
			m := move.Move{
				Src:  from,
				Dst:  cell.New(nx, ny, nz),
				Cost: cost,
				Kind: kind,
				Exec: Step{DX: d[0], DY: dy, DZ: d[1]},
			}
			if !yield(m) {
				return
			}
		}

		if !p.Diagonals {
			return
		}
		diag := ctx.Tunable(TunableDiagonalCost, defaultDiagonalCost)
		for _, d := range diagonals {
			nx, nz := from.X+d[0], from.Z+d[1]
			if w.Blocked(nx, nz) || w.Height(nx, nz) != from.Y {
				continue
			}
			// Both flanking columns must be open and level.
			if w.Blocked(nx, from.Z) || w.Blocked(from.X, nz) {
				continue
			}
			if w.Height(nx, from.Z) != from.Y || w.Height(from.X, nz) != from.Y {
				continue
			}
			m := move.Move{
				Src:  from,
				Dst:  cell.New(nx, from.Y, nz),
				Cost: diag,
				Kind: KindDiagonal,
				Exec: Step{DX: d[0], DZ: d[1]},
			}
			if !yield(m) {
				return
			}
		}
	}
}

// StepBetween reports the offset a move covers, for executors that only know cells.
func StepBetween(a, b cell.Cell) (Step, bool) {
	s := Step{DX: b.X - a.X, DY: b.Y - a.Y, DZ: b.Z - a.Z}
	if mathx.AbsInt(s.DX) > 1 || mathx.AbsInt(s.DY) > 1 || mathx.AbsInt(s.DZ) > 1 {
		return Step{}, false
	}
	return s, true
}
