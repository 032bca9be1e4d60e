// Package goal describes acceptance regions for path planning.
//
// A Goal is a predicate over cells plus an admissible heuristic: the estimate
// never exceeds the cheapest cost any movement provider can charge to reach a
// satisfying cell, given that providers honour the per-displacement minimums
// below. Goal values are immutable and compose through Union and Invert.
package goal

import (
	"fmt"
	"math"
	"strings"

	"voxelpath.ai/internal/sim/mathx"
	"voxelpath.ai/internal/sim/nav/cell"
)

// Minimum cost a provider may charge per unit of displacement.
const (
	StraightCost = 1.0
	DiagonalCost = math.Sqrt2
	UpCost       = 1.0
	DownCost     = 0.5
)

type Goal interface {
	IsSatisfied(c cell.Cell) bool
	Heuristic(c cell.Cell) float64
	// HeuristicAtGoal is the heuristic value reported for any satisfying cell.
	HeuristicAtGoal() float64
	String() string
}

// horizontalCost is the octile distance for the given absolute XZ deltas.
func horizontalCost(dx, dz int) float64 {
	lo, hi := dx, dz
	if lo > hi {
		lo, hi = hi, lo
	}
	return StraightCost*float64(hi-lo) + DiagonalCost*float64(lo)
}

// verticalCost prices a signed change in Y (positive means climbing).
func verticalCost(dy int) float64 {
	if dy > 0 {
		return UpCost * float64(dy)
	}
	return DownCost * float64(-dy)
}

func shrink(d, by int) int {
	d = mathx.AbsInt(d) - by
	if d < 0 {
		return 0
	}
	return d
}

func shrinkSigned(d, by int) int {
	if d > 0 {
		return shrink(d, by)
	}
	return -shrink(d, by)
}

// Block is satisfied by exactly one cell.
type Block struct{ Pos cell.Cell }

func (g Block) IsSatisfied(c cell.Cell) bool { return c == g.Pos }

func (g Block) Heuristic(c cell.Cell) float64 {
	return horizontalCost(mathx.AbsInt(g.Pos.X-c.X), mathx.AbsInt(g.Pos.Z-c.Z)) + verticalCost(g.Pos.Y-c.Y)
}

func (g Block) HeuristicAtGoal() float64 { return 0 }

func (g Block) String() string { return "Block" + g.Pos.String() }

// XZ is satisfied anywhere in one column.
type XZ struct{ X, Z int }

func (g XZ) IsSatisfied(c cell.Cell) bool { return c.X == g.X && c.Z == g.Z }

func (g XZ) Heuristic(c cell.Cell) float64 {
	return horizontalCost(mathx.AbsInt(g.X-c.X), mathx.AbsInt(g.Z-c.Z))
}

func (g XZ) HeuristicAtGoal() float64 { return 0 }

func (g XZ) String() string { return fmt.Sprintf("XZ(%d,%d)", g.X, g.Z) }

// YLevel is satisfied at a fixed height.
type YLevel struct{ Y int }

func (g YLevel) IsSatisfied(c cell.Cell) bool { return c.Y == g.Y }

func (g YLevel) Heuristic(c cell.Cell) float64 { return verticalCost(g.Y - c.Y) }

func (g YLevel) HeuristicAtGoal() float64 { return 0 }

func (g YLevel) String() string { return fmt.Sprintf("YLevel(%d)", g.Y) }

// Near is satisfied inside a sphere. The heuristic measures the distance to
// the sphere's bounding cube so it stays admissible.
type Near struct {
	Center cell.Cell
	Radius int
}

func (g Near) IsSatisfied(c cell.Cell) bool {
	return cell.DistSq(c, g.Center) <= g.Radius*g.Radius
}

func (g Near) Heuristic(c cell.Cell) float64 {
	return horizontalCost(shrink(g.Center.X-c.X, g.Radius), shrink(g.Center.Z-c.Z, g.Radius)) +
		verticalCost(shrinkSigned(g.Center.Y-c.Y, g.Radius))
}

func (g Near) HeuristicAtGoal() float64 { return 0 }
func (g Near) String() string {
	return fmt.Sprintf("Near(%s,r=%d)", g.Center, g.Radius)
}

// GetToBlock is satisfied on the cell or any face-adjacent cell.
type GetToBlock struct{ Pos cell.Cell }

func (g GetToBlock) IsSatisfied(c cell.Cell) bool { return cell.Manhattan(c, g.Pos) <= 1 }

func (g GetToBlock) Heuristic(c cell.Cell) float64 {
	return horizontalCost(shrink(g.Pos.X-c.X, 1), shrink(g.Pos.Z-c.Z, 1)) +
		verticalCost(shrinkSigned(g.Pos.Y-c.Y, 1))
}

func (g GetToBlock) HeuristicAtGoal() float64 { return 0 }

func (g GetToBlock) String() string { return "GetToBlock" + g.Pos.String() }

// Axis is satisfied on the X axis, the Z axis or either diagonal through the
// origin, at height Y.
type Axis struct{ Y int }

func (g Axis) IsSatisfied(c cell.Cell) bool {
	if c.Y != g.Y {
		return false
	}
	ax, az := mathx.AbsInt(c.X), mathx.AbsInt(c.Z)
	return c.X == 0 || c.Z == 0 || ax == az
}

func (g Axis) Heuristic(c cell.Cell) float64 {
	ax, az := mathx.AbsInt(c.X), mathx.AbsInt(c.Z)
	best := float64(ax) * StraightCost
	best = math.Min(best, float64(az)*StraightCost)
	// A diagonal step leaves |x|-|z| unchanged or moves it by two.
	best = math.Min(best, float64(mathx.AbsInt(ax-az))*DiagonalCost/2)
	return best + verticalCost(g.Y-c.Y)
}

func (g Axis) HeuristicAtGoal() float64 { return 0 }

func (g Axis) String() string { return fmt.Sprintf("Axis(y=%d)", g.Y) }

// StrictDirection is never satisfied; the heuristic falls as the cell moves
// further along (DX, DZ) from Origin and rises with sideways drift.
type StrictDirection struct {
	Origin cell.Cell
	DX, DZ int
}

func (g StrictDirection) IsSatisfied(cell.Cell) bool { return false }

func (g StrictDirection) Heuristic(c cell.Cell) float64 {
	x, z := c.X-g.Origin.X, c.Z-g.Origin.Z
	along := x*g.DX + z*g.DZ
	drift := mathx.AbsInt(x*g.DZ - z*g.DX)
	return float64(drift-along)*StraightCost + verticalCost(g.Origin.Y-c.Y)
}

func (g StrictDirection) HeuristicAtGoal() float64 { return math.Inf(-1) }
func (g StrictDirection) String() string {
	return fmt.Sprintf("StrictDirection(%s,%d,%d)", g.Origin, g.DX, g.DZ)
}

// Composite is the union of several goals.
type Composite struct{ goals []Goal }

// Union returns a goal satisfied when any member is. An empty union is never
// satisfied and reports an infinite heuristic.
func Union(goals ...Goal) Composite {
	return Composite{goals: append([]Goal(nil), goals...)}
}

func (g Composite) Goals() []Goal { return append([]Goal(nil), g.goals...) }

func (g Composite) IsSatisfied(c cell.Cell) bool {
	for _, m := range g.goals {
		if m.IsSatisfied(c) {
			return true
		}
	}
	return false
}

func (g Composite) Heuristic(c cell.Cell) float64 {
	best := math.Inf(1)
	for _, m := range g.goals {
		if h := m.Heuristic(c); h < best {
			best = h
		}
	}
	return best
}

func (g Composite) HeuristicAtGoal() float64 {
	best := math.Inf(1)
	for _, m := range g.goals {
		if h := m.HeuristicAtGoal(); h < best {
			best = h
		}
	}
	return best
}

func (g Composite) String() string {
	parts := make([]string, 0, len(g.goals))
	for _, m := range g.goals {
		parts = append(parts, m.String())
	}
	return "Union[" + strings.Join(parts, ",") + "]"
}

// Inverted flips the heuristic of another goal so the search runs away from
// it. It is never satisfied.
type Inverted struct{ Origin Goal }

func Invert(g Goal) Inverted { return Inverted{Origin: g} }

func (g Inverted) IsSatisfied(cell.Cell) bool { return false }

func (g Inverted) Heuristic(c cell.Cell) float64 { return -g.Origin.Heuristic(c) }

func (g Inverted) HeuristicAtGoal() float64 { return math.Inf(-1) }

func (g Inverted) String() string { return "Invert(" + g.Origin.String() + ")" }

// Remaining estimates the cost left from c, treating the heuristic floor at
// the goal as zero.
func Remaining(g Goal, c cell.Cell) float64 {
	if g.IsSatisfied(c) {
		return 0
	}
	h := g.Heuristic(c)
	if at := g.HeuristicAtGoal(); !math.IsInf(at, 0) {
		h -= at
	}
	if h < 0 || math.IsNaN(h) {
		return 0
	}
	return h
}
