// Package path holds the immutable result of a search and the operations that
// derive new paths from it (cutoffs, splicing).
package path

import (
	"errors"
	"fmt"

	"voxelpath.ai/internal/sim/nav/cell"
	"voxelpath.ai/internal/sim/nav/goal"
	"voxelpath.ai/internal/sim/nav/move"
)

var (
	ErrEmptyChain = errors.New("path: empty node chain")
	ErrInvalid    = errors.New("path: invariant violated")
)

// Path is an ordered list of positions and the moves between them:
// len(moves) == len(positions)-1 and moves[i] goes positions[i] -> positions[i+1].
// Values are never mutated after construction.
type Path struct {
	positions []cell.Cell
	moves     []move.Move
	goal      goal.Goal
	expanded  int
}

// New builds and validates a path from explicit parts.
func New(positions []cell.Cell, moves []move.Move, g goal.Goal, expanded int) (*Path, error) {
	p := &Path{
		positions: append([]cell.Cell(nil), positions...),
		moves:     append([]move.Move(nil), moves...),
		goal:      g,
		expanded:  expanded,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Path) Validate() error {
	if p == nil || len(p.positions) == 0 {
		return fmt.Errorf("%w: no positions", ErrInvalid)
	}
	if len(p.moves) != len(p.positions)-1 {
		return fmt.Errorf("%w: %d moves for %d positions", ErrInvalid, len(p.moves), len(p.positions))
	}
	for i, m := range p.moves {
		if m.Src != p.positions[i] {
			return fmt.Errorf("%w: move %d starts at %s, position is %s", ErrInvalid, i, m.Src, p.positions[i])
		}
		if m.Dst != p.positions[i+1] {
			return fmt.Errorf("%w: move %d ends at %s, next position is %s", ErrInvalid, i, m.Dst, p.positions[i+1])
		}
	}
	return nil
}

// Len is the number of positions.
func (p *Path) Len() int { return len(p.positions) }

func (p *Path) NumMoves() int { return len(p.moves) }

func (p *Path) Start() cell.Cell { return p.positions[0] }

func (p *Path) Dest() cell.Cell { return p.positions[len(p.positions)-1] }

func (p *Path) At(i int) cell.Cell { return p.positions[i] }

func (p *Path) Move(i int) move.Move { return p.moves[i] }

func (p *Path) Positions() []cell.Cell { return append([]cell.Cell(nil), p.positions...) }

func (p *Path) Moves() []move.Move { return append([]move.Move(nil), p.moves...) }

func (p *Path) Goal() goal.Goal { return p.goal }

// Expanded is the number of nodes the search(es) behind this path expanded.
func (p *Path) Expanded() int { return p.expanded }

func (p *Path) EndsInGoal() bool {
	return p.goal != nil && p.goal.IsSatisfied(p.Dest())
}

func (p *Path) TotalCost() float64 { return p.RemainingCost(0) }

// RemainingCost sums the cost of moves from position i to the end.
func (p *Path) RemainingCost(i int) float64 {
	if i < 0 {
		i = 0
	}
	var sum float64
	for j := i; j < len(p.moves); j++ {
		sum += p.moves[j].Cost
	}
	return sum
}

// IndexOf returns the first index of c, or -1.
func (p *Path) IndexOf(c cell.Cell) int {
	for i, pos := range p.positions {
		if pos == c {
			return i
		}
	}
	return -1
}

func (p *Path) String() string {
	return fmt.Sprintf("Path{%s->%s positions=%d cost=%.2f expanded=%d}", p.Start(), p.Dest(), p.Len(), p.TotalCost(), p.expanded)
}

// CutoffAtIndex keeps positions[0..i].
func (p *Path) CutoffAtIndex(i int) *Path {
	if i >= len(p.positions)-1 {
		return p
	}
	if i < 0 {
		i = 0
	}
	return &Path{
		positions: p.positions[:i+1:i+1],
		moves:     p.moves[:i:i],
		goal:      p.goal,
		expanded:  p.expanded,
	}
}

// Suffix drops positions before i.
func (p *Path) Suffix(i int) *Path {
	if i <= 0 {
		return p
	}
	if i > len(p.positions)-1 {
		i = len(p.positions) - 1
	}
	return &Path{
		positions: p.positions[i:],
		moves:     p.moves[i:],
		goal:      p.goal,
		expanded:  p.expanded,
	}
}

// CutoffAtLoaded truncates before the first position whose region is not
// loaded. The start is always kept, even when its own region is unloaded:
// the agent already stands there, so the result then holds only the start.
func (p *Path) CutoffAtLoaded(w move.World) *Path {
	if w == nil {
		return p
	}
	for i := 1; i < len(p.positions); i++ {
		pos := p.positions[i]
		if !w.IsRegionLoaded(pos.X, pos.Z) {
			return p.CutoffAtIndex(i - 1)
		}
	}
	return p
}

// StaticCutoff shortens a path that does not reach its goal and has at least
// minLength positions to factor of its moves.
func (p *Path) StaticCutoff(minLength int, factor float64) *Path {
	if len(p.positions) < minLength || p.EndsInGoal() {
		return p
	}
	if factor <= 0 || factor >= 1 {
		return p
	}
	return p.CutoffAtIndex(int(float64(len(p.moves)) * factor))
}
