package search

import (
	"voxelpath.ai/internal/sim/nav/cell"
	"voxelpath.ai/internal/sim/nav/move"
)

// node lives in the search's arena; prev and heapIdx are arena/heap indices.
type node struct {
	pos      cell.Cell
	cost     float64
	h        float64
	combined float64
	prev     int32
	via      move.Move
	hasVia   bool
	heapIdx  int32
}

// openSet is a binary min-heap of arena indices keyed on node.combined,
// driven through container/heap. Swap keeps node.heapIdx current so
// decrease-key can use heap.Fix.
type openSet struct {
	s     *Search
	items []int32
}

func (o *openSet) Len() int { return len(o.items) }

func (o *openSet) Less(i, j int) bool {
	return o.s.nodes[o.items[i]].combined < o.s.nodes[o.items[j]].combined
}

func (o *openSet) Swap(i, j int) {
	o.items[i], o.items[j] = o.items[j], o.items[i]
	o.s.nodes[o.items[i]].heapIdx = int32(i)
	o.s.nodes[o.items[j]].heapIdx = int32(j)
}

func (o *openSet) Push(x any) {
	idx := x.(int32)
	o.s.nodes[idx].heapIdx = int32(len(o.items))
	o.items = append(o.items, idx)
}

func (o *openSet) Pop() any {
	n := len(o.items)
	idx := o.items[n-1]
	o.items = o.items[:n-1]
	o.s.nodes[idx].heapIdx = -1
	return idx
}
