package goal

import (
	"container/heap"
	"math"
	"testing"

	"voxelpath.ai/internal/sim/nav/cell"
)

// Box of cells used as a small synthetic world. Every cell is open; moves are
// the 26 neighbours priced with the minimum costs the heuristics assume.
const (
	boxXZ = 5
	boxY  = 2
)

func inBox(c cell.Cell) bool {
	return c.X >= -boxXZ && c.X <= boxXZ && c.Z >= -boxXZ && c.Z <= boxXZ && c.Y >= -boxY && c.Y <= boxY
}

func stepCost(dx, dy, dz int) float64 {
	var h float64
	switch {
	case dx != 0 && dz != 0:
		h = DiagonalCost
	case dx != 0 || dz != 0:
		h = StraightCost
	}
	return h + verticalCost(dy)
}

type distItem struct {
	c cell.Cell
	d float64
}

type distHeap []distItem

func (h distHeap) Len() int           { return len(h) }
func (h distHeap) Less(i, j int) bool { return h[i].d < h[j].d }
func (h distHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *distHeap) Push(x any)        { *h = append(*h, x.(distItem)) }
func (h *distHeap) Pop() any {
	old := *h
	it := old[len(old)-1]
	*h = old[:len(old)-1]
	return it
}

// trueCosts runs a reverse Dijkstra from every satisfying cell in the box.
func trueCosts(g Goal) map[cell.Cell]float64 {
	dist := map[cell.Cell]float64{}
	h := &distHeap{}
	for x := -boxXZ; x <= boxXZ; x++ {
		for y := -boxY; y <= boxY; y++ {
			for z := -boxXZ; z <= boxXZ; z++ {
				c := cell.New(x, y, z)
				if g.IsSatisfied(c) {
					dist[c] = 0
					heap.Push(h, distItem{c: c})
				}
			}
		}
	}
	for h.Len() > 0 {
		it := heap.Pop(h).(distItem)
		if it.d > dist[it.c] {
			continue
		}
		for dx := -1; dx <= 1; dx++ {
			for dy := -1; dy <= 1; dy++ {
				for dz := -1; dz <= 1; dz++ {
					if dx == 0 && dy == 0 && dz == 0 {
						continue
					}
					from := it.c.Add(-dx, -dy, -dz)
					if !inBox(from) {
						continue
					}
					nd := it.d + stepCost(dx, dy, dz)
					if old, ok := dist[from]; !ok || nd < old-1e-12 {
						dist[from] = nd
						heap.Push(h, distItem{c: from, d: nd})
					}
				}
			}
		}
	}
	return dist
}

func TestHeuristicsAdmissible(t *testing.T) {
	goals := []Goal{
		Block{Pos: cell.New(2, 1, -3)},
		XZ{X: -4, Z: 1},
		YLevel{Y: -2},
		YLevel{Y: 2},
		Near{Center: cell.New(1, 0, 1), Radius: 2},
		GetToBlock{Pos: cell.New(-3, -1, 4)},
		Axis{Y: 0},
		Union(Block{Pos: cell.New(4, 0, 4)}, XZ{X: -5, Z: -5}),
	}
	for _, g := range goals {
		costs := trueCosts(g)
		if len(costs) == 0 {
			t.Fatalf("%s: no satisfying cells in box", g)
		}
		for c, want := range costs {
			if got := g.Heuristic(c); got > want+1e-9 {
				t.Fatalf("%s: heuristic(%s)=%.4f exceeds true cost %.4f", g, c, got, want)
			}
			if g.IsSatisfied(c) && g.Heuristic(c) != g.HeuristicAtGoal() {
				t.Fatalf("%s: heuristic at satisfied %s = %.4f, want %.4f", g, c, g.Heuristic(c), g.HeuristicAtGoal())
			}
		}
	}
}

func TestUnionLaws(t *testing.T) {
	g1 := Block{Pos: cell.New(3, 0, 0)}
	g2 := Near{Center: cell.New(-2, 1, 2), Radius: 1}
	u := Union(g1, g2)
	for x := -4; x <= 4; x++ {
		for z := -4; z <= 4; z++ {
			c := cell.New(x, 0, z)
			if got, want := u.Heuristic(c), math.Min(g1.Heuristic(c), g2.Heuristic(c)); got != want {
				t.Fatalf("union heuristic(%s)=%v want %v", c, got, want)
			}
			if got, want := u.IsSatisfied(c), g1.IsSatisfied(c) || g2.IsSatisfied(c); got != want {
				t.Fatalf("union satisfied(%s)=%v want %v", c, got, want)
			}
		}
	}
}

func TestEmptyUnionNeverSatisfied(t *testing.T) {
	u := Union()
	if u.IsSatisfied(cell.New(0, 0, 0)) {
		t.Fatalf("empty union satisfied")
	}
	if !math.IsInf(u.Heuristic(cell.New(0, 0, 0)), 1) {
		t.Fatalf("empty union heuristic should be +Inf")
	}
}

func TestInvert(t *testing.T) {
	g := Block{Pos: cell.New(0, 0, 0)}
	inv := Invert(g)
	c := cell.New(3, 0, 4)
	if inv.Heuristic(c) != -g.Heuristic(c) {
		t.Fatalf("inverted heuristic not negated")
	}
	if inv.IsSatisfied(g.Pos) {
		t.Fatalf("inverted goal must never be satisfied")
	}
}

func TestStrictDirectionPrefersProgress(t *testing.T) {
	g := StrictDirection{Origin: cell.New(0, 0, 0), DX: 1}
	if g.Heuristic(cell.New(5, 0, 0)) >= g.Heuristic(cell.New(1, 0, 0)) {
		t.Fatalf("moving along the direction should lower the heuristic")
	}
	if g.Heuristic(cell.New(5, 0, 3)) <= g.Heuristic(cell.New(5, 0, 0)) {
		t.Fatalf("drift should raise the heuristic")
	}
	if g.IsSatisfied(cell.New(100, 0, 0)) {
		t.Fatalf("strict direction is never satisfied")
	}
}

func TestRemaining(t *testing.T) {
	g := Block{Pos: cell.New(0, 0, 0)}
	if got := Remaining(g, g.Pos); got != 0 {
		t.Fatalf("Remaining at goal=%v", got)
	}
	if got := Remaining(g, cell.New(3, 0, 0)); got != 3 {
		t.Fatalf("Remaining=%v want 3", got)
	}
	if got := Remaining(Invert(g), cell.New(3, 0, 0)); got != 0 {
		t.Fatalf("Remaining for inverted goal=%v want 0", got)
	}
}
