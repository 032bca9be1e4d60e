package path

import (
	"fmt"

	"voxelpath.ai/internal/sim/nav/cell"
	"voxelpath.ai/internal/sim/nav/goal"
	"voxelpath.ai/internal/sim/nav/move"
)

// Link is one node of a search result chain: the cell and the move that
// reached it (nil for the search start).
type Link struct {
	Pos cell.Cell
	Via *move.Move
}

// ChainBreakError reports a node whose producing move is missing or does not
// connect to its neighbours. Index is the last valid position.
type ChainBreakError struct {
	Index  int
	Pos    cell.Cell
	Reason string
}

func (e *ChainBreakError) Error() string {
	return fmt.Sprintf("path: chain broken after index %d at %s: %s", e.Index, e.Pos, e.Reason)
}

// Assemble turns a terminal-first chain into a Path. When the chain is
// inconsistent the valid prefix is returned together with a *ChainBreakError.
// If the search was seeded from start but the agent stands at realStart and
// no moves were produced, a zero-cost bridge move links the two.
func Assemble(start, realStart cell.Cell, chain []Link, g goal.Goal, expanded int) (*Path, error) {
	if len(chain) == 0 {
		return nil, ErrEmptyChain
	}
	first := chain[len(chain)-1]
	if first.Pos != start {
		return nil, fmt.Errorf("%w: chain begins at %s, search started at %s", ErrInvalid, first.Pos, start)
	}

	positions := make([]cell.Cell, 0, len(chain)+1)
	moves := make([]move.Move, 0, len(chain))
	positions = append(positions, first.Pos)

	var broken *ChainBreakError
	for i := len(chain) - 2; i >= 0; i-- {
		link := chain[i]
		prev := positions[len(positions)-1]
		switch {
		case link.Via == nil:
			broken = &ChainBreakError{Index: len(positions) - 1, Pos: link.Pos, Reason: "missing producing move"}
		case link.Via.Dst != link.Pos:
			broken = &ChainBreakError{Index: len(positions) - 1, Pos: link.Pos, Reason: fmt.Sprintf("move ends at %s", link.Via.Dst)}
		case link.Via.Src != prev:
			broken = &ChainBreakError{Index: len(positions) - 1, Pos: link.Pos, Reason: fmt.Sprintf("move starts at %s, previous is %s", link.Via.Src, prev)}
		}
		if broken != nil {
			break
		}
		positions = append(positions, link.Pos)
		moves = append(moves, *link.Via)
	}

	if len(moves) == 0 && realStart != start {
		positions = []cell.Cell{realStart, start}
		moves = []move.Move{{Src: realStart, Dst: start, Cost: 0, Kind: move.KindBridge}}
	}

	p := &Path{positions: positions, moves: moves, goal: g, expanded: expanded}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if broken != nil {
		return p, broken
	}
	return p, nil
}
