package move

import (
	"fmt"
	"iter"

	"voxelpath.ai/internal/sim/nav/cell"
)

// CostInf marks a move that cannot be performed.
const CostInf = 1_000_000.0

// Kind names a family of moves (walk, ascend, swim, ...). Failure memory and
// retry logic key on it.
type Kind string

// KindBridge is the zero-cost link synthesised between the agent's real
// position and a simplified search start.
const KindBridge Kind = "bridge"

// Move is a candidate transition produced by a Provider. Exec is opaque to
// the planner and only interpreted by the execution loop.
type Move struct {
	Src  cell.Cell
	Dst  cell.Cell
	Cost float64
	Kind Kind
	// Through lists cells the agent occupies mid-move besides Src and Dst.
	Through []cell.Cell
	Exec    any
}

func (m Move) Impossible() bool { return m.Cost >= CostInf }

// Cells returns every cell the agent may legitimately occupy during the move.
func (m Move) Cells() []cell.Cell {
	out := make([]cell.Cell, 0, 2+len(m.Through))
	out = append(out, m.Src)
	out = append(out, m.Through...)
	return append(out, m.Dst)
}

func (m Move) String() string {
	return fmt.Sprintf("%s %s->%s cost=%.3f", m.Kind, m.Src, m.Dst, m.Cost)
}

// World is the voxel-world view the planner needs. Implementations must be
// safe for use from the search goroutine.
type World interface {
	IsRegionLoaded(x, z int) bool
	// VerticalBounds returns the inclusive-exclusive Y range [min, max).
	VerticalBounds() (min, max int)
}

// Border is a hard horizontal limit on where the agent may go.
type Border interface {
	Contains(x, z int) bool
}

// NoBorder accepts every column.
type NoBorder struct{}

func (NoBorder) Contains(int, int) bool { return true }

// Context is the per-calculation handle given to providers. It is built once
// per search and not mutated afterwards.
type Context struct {
	World  World
	Border Border
	// Tunables exposes provider-specific knobs from the tuning snapshot.
	Tunables map[string]float64
}

func (c *Context) Loaded(at cell.Cell) bool {
	if c == nil || c.World == nil {
		return true
	}
	return c.World.IsRegionLoaded(at.X, at.Z)
}

func (c *Context) InBounds(at cell.Cell) bool {
	if c == nil {
		return true
	}
	if c.World != nil {
		lo, hi := c.World.VerticalBounds()
		if at.Y < lo || at.Y >= hi {
			return false
		}
	}
	if c.Border != nil && !c.Border.Contains(at.X, at.Z) {
		return false
	}
	return true
}

func (c *Context) Tunable(name string, def float64) float64 {
	if c == nil || c.Tunables == nil {
		return def
	}
	if v, ok := c.Tunables[name]; ok {
		return v
	}
	return def
}

// Provider yields candidate moves from a cell. The search treats it as an
// opaque oracle and may stop consuming the sequence early.
type Provider interface {
	Moves(ctx *Context, from cell.Cell) iter.Seq[Move]
}

// ProviderFunc adapts a plain function to Provider.
type ProviderFunc func(ctx *Context, from cell.Cell) iter.Seq[Move]

func (f ProviderFunc) Moves(ctx *Context, from cell.Cell) iter.Seq[Move] { return f(ctx, from) }

type composite []Provider

// Composite concatenates the output of several providers in order.
func Composite(providers ...Provider) Provider {
	out := make(composite, 0, len(providers))
	for _, p := range providers {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

func (c composite) Moves(ctx *Context, from cell.Cell) iter.Seq[Move] {
	return func(yield func(Move) bool) {
		for _, p := range c {
			for m := range p.Moves(ctx, from) {
				if !yield(m) {
					return
				}
			}
		}
	}
}

// Collect drains a provider into a slice.
func Collect(p Provider, ctx *Context, from cell.Cell) []Move {
	var out []Move
	for m := range p.Moves(ctx, from) {
		out = append(out, m)
	}
	return out
}
