package path

import (
	"voxelpath.ai/internal/sim/nav/cell"
	"voxelpath.ai/internal/sim/nav/move"
)

// Splice joins two consecutive paths where a ends where b starts; paths that
// do not meet are refused. With allowOverlapCutoff set, a loop formed by a
// position of a (other than its destination) reappearing in b is cut out;
// without it the paths are simply concatenated. The result carries b's goal.
func Splice(a, b *Path, allowOverlapCutoff bool) (*Path, bool) {
	if a == nil {
		return b, b != nil
	}
	if b == nil {
		return a, true
	}
	if a.Dest() != b.Start() {
		return nil, false
	}

	// Overlap at a's last element is required, so only scan up to it.
	cutA := len(a.positions) - 1
	if allowOverlapCutoff {
		inB := make(map[int64]struct{}, len(b.positions))
		for _, pos := range b.positions {
			inB[pos.Key()] = struct{}{}
		}
		for i := 0; i < len(a.positions)-1; i++ {
			if _, ok := inB[a.positions[i].Key()]; ok {
				cutA = i
				break
			}
		}
	}
	cutB := 0
	if cutA < len(a.positions)-1 {
		cutB = b.IndexOf(a.positions[cutA])
	}

	positions := make([]cell.Cell, 0, cutA+1+len(b.positions)-cutB-1)
	positions = append(positions, a.positions[:cutA+1]...)
	positions = append(positions, b.positions[cutB+1:]...)

	moves := make([]move.Move, 0, len(positions)-1)
	moves = append(moves, a.moves[:cutA]...)
	moves = append(moves, b.moves[cutB:]...)

	return &Path{
		positions: positions,
		moves:     moves,
		goal:      b.goal,
		expanded:  a.expanded + b.expanded,
	}, true
}
