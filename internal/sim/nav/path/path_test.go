package path

import (
	"errors"
	"testing"

	"voxelpath.ai/internal/sim/nav/cell"
	"voxelpath.ai/internal/sim/nav/goal"
	"voxelpath.ai/internal/sim/nav/move"
)

func walk(from, to cell.Cell) *move.Move {
	return &move.Move{Src: from, Dst: to, Cost: 1, Kind: "walk"}
}

// straightChain builds a terminal-first chain along +X from x0 to x1.
func straightChain(x0, x1 int) []Link {
	var fwd []Link
	fwd = append(fwd, Link{Pos: cell.New(x0, 0, 0)})
	for x := x0 + 1; x <= x1; x++ {
		fwd = append(fwd, Link{Pos: cell.New(x, 0, 0), Via: walk(cell.New(x-1, 0, 0), cell.New(x, 0, 0))})
	}
	out := make([]Link, len(fwd))
	for i := range fwd {
		out[len(fwd)-1-i] = fwd[i]
	}
	return out
}

func mustAssemble(t *testing.T, x0, x1 int, g goal.Goal) *Path {
	t.Helper()
	p, err := Assemble(cell.New(x0, 0, 0), cell.New(x0, 0, 0), straightChain(x0, x1), g, x1-x0)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	return p
}

func checkInvariant(t *testing.T, p *Path, start cell.Cell) {
	t.Helper()
	if p.Start() != start {
		t.Fatalf("start=%s want %s", p.Start(), start)
	}
	if p.NumMoves() != p.Len()-1 {
		t.Fatalf("moves=%d positions=%d", p.NumMoves(), p.Len())
	}
	for i := 0; i < p.NumMoves(); i++ {
		if p.Move(i).Src != p.At(i) || p.Move(i).Dst != p.At(i+1) {
			t.Fatalf("move %d (%s) does not connect %s->%s", i, p.Move(i), p.At(i), p.At(i+1))
		}
	}
}

func TestAssembleStraight(t *testing.T) {
	p := mustAssemble(t, 0, 5, goal.Block{Pos: cell.New(5, 0, 0)})
	checkInvariant(t, p, cell.New(0, 0, 0))
	if p.Len() != 6 || p.TotalCost() != 5 {
		t.Fatalf("len=%d cost=%v", p.Len(), p.TotalCost())
	}
	if !p.EndsInGoal() {
		t.Fatalf("path should end in goal")
	}
}

func TestAssembleBridgesRealStart(t *testing.T) {
	start, real := cell.New(0, 0, 0), cell.New(0, 1, 0)
	p, err := Assemble(start, real, []Link{{Pos: start}}, goal.Block{Pos: start}, 1)
	if err != nil {
		t.Fatalf("assemble: %v", err)
	}
	checkInvariant(t, p, real)
	if p.NumMoves() != 1 || p.Move(0).Kind != move.KindBridge || p.Move(0).Cost != 0 {
		t.Fatalf("expected one zero-cost bridge, got %+v", p.Moves())
	}
}

func TestAssembleBrokenChainTruncates(t *testing.T) {
	chain := straightChain(0, 6)
	// chain[2] is position x=4; break its producing move.
	chain[2].Via = walk(cell.New(9, 9, 9), cell.New(4, 0, 0))
	p, err := Assemble(cell.New(0, 0, 0), cell.New(0, 0, 0), chain, nil, 7)
	var cb *ChainBreakError
	if !errors.As(err, &cb) {
		t.Fatalf("want ChainBreakError, got %v", err)
	}
	if cb.Index != 3 {
		t.Fatalf("break index=%d want 3", cb.Index)
	}
	if p == nil || p.Dest() != cell.New(3, 0, 0) {
		t.Fatalf("prefix dest=%v", p)
	}
	checkInvariant(t, p, cell.New(0, 0, 0))
}

func TestAssembleRejectsWrongStart(t *testing.T) {
	if _, err := Assemble(cell.New(1, 0, 0), cell.New(1, 0, 0), straightChain(0, 2), nil, 0); !errors.Is(err, ErrInvalid) {
		t.Fatalf("want ErrInvalid, got %v", err)
	}
	if _, err := Assemble(cell.New(0, 0, 0), cell.New(0, 0, 0), nil, nil, 0); !errors.Is(err, ErrEmptyChain) {
		t.Fatalf("want ErrEmptyChain, got %v", err)
	}
}

type halfLoaded struct{ limit int }

func (w halfLoaded) IsRegionLoaded(x, _ int) bool { return x <= w.limit }
func (w halfLoaded) VerticalBounds() (int, int)   { return -64, 320 }

func TestCutoffAtLoaded(t *testing.T) {
	p := mustAssemble(t, 0, 10, nil)
	cut := p.CutoffAtLoaded(halfLoaded{limit: 4})
	if cut.Len() > p.Len() {
		t.Fatalf("cutoff grew the path")
	}
	if cut.Dest() != cell.New(4, 0, 0) {
		t.Fatalf("dest=%s want (4,0,0)", cut.Dest())
	}
	checkInvariant(t, cut, p.Start())
	if same := p.CutoffAtLoaded(halfLoaded{limit: 100}); same != p {
		t.Fatalf("fully loaded path should be returned unchanged")
	}
	stranded := p.CutoffAtLoaded(halfLoaded{limit: -1})
	if stranded.Len() != 1 || stranded.NumMoves() != 0 || stranded.Dest() != p.Start() {
		t.Fatalf("unloaded start should leave only the start: %v", stranded.Positions())
	}
}

func TestStaticCutoff(t *testing.T) {
	p := mustAssemble(t, 0, 40, goal.Block{Pos: cell.New(100, 0, 0)})
	cut := p.StaticCutoff(30, 0.9)
	if cut.NumMoves() != 36 {
		t.Fatalf("moves after cutoff=%d want 36", cut.NumMoves())
	}
	short := mustAssemble(t, 0, 10, goal.Block{Pos: cell.New(100, 0, 0)})
	if short.StaticCutoff(30, 0.9) != short {
		t.Fatalf("short path should not be cut")
	}
	reached := mustAssemble(t, 0, 40, goal.Block{Pos: cell.New(40, 0, 0)})
	if reached.StaticCutoff(30, 0.9) != reached {
		t.Fatalf("path ending in goal should not be cut")
	}
}

func TestSpliceAdjacent(t *testing.T) {
	a := mustAssemble(t, 0, 4, nil)
	b := mustAssemble(t, 4, 9, goal.Block{Pos: cell.New(9, 0, 0)})
	s, ok := Splice(a, b, false)
	if !ok {
		t.Fatalf("splice refused")
	}
	want := append(a.Positions(), b.Positions()[1:]...)
	if s.Len() != len(want) {
		t.Fatalf("len=%d want %d", s.Len(), len(want))
	}
	for i := range want {
		if s.At(i) != want[i] {
			t.Fatalf("position %d=%s want %s", i, s.At(i), want[i])
		}
	}
	checkInvariant(t, s, a.Start())
	if !s.EndsInGoal() {
		t.Fatalf("spliced path should carry b's goal")
	}
}

func TestSpliceRefusesGap(t *testing.T) {
	a := mustAssemble(t, 0, 4, nil)
	b := mustAssemble(t, 5, 9, nil)
	if s, ok := Splice(a, b, true); ok || s != nil {
		t.Fatalf("non-adjacent splice should fail")
	}
}

func TestSpliceOverlapCutoff(t *testing.T) {
	a := mustAssemble(t, 0, 4, nil)
	// b walks back from 4 to 2 and then sideways.
	b, err := New(
		[]cell.Cell{cell.New(4, 0, 0), cell.New(3, 0, 0), cell.New(2, 0, 0), cell.New(2, 0, 1)},
		[]move.Move{
			*walk(cell.New(4, 0, 0), cell.New(3, 0, 0)),
			*walk(cell.New(3, 0, 0), cell.New(2, 0, 0)),
			*walk(cell.New(2, 0, 0), cell.New(2, 0, 1)),
		}, nil, 0)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	plain, ok := Splice(a, b, false)
	if !ok {
		t.Fatalf("adjacent paths should concatenate without cutoff")
	}
	checkInvariant(t, plain, a.Start())
	if plain.Len() != a.Len()+b.Len()-1 || plain.NumMoves() != a.NumMoves()+b.NumMoves() || plain.At(6) != cell.New(2, 0, 0) {
		t.Fatalf("expected uncut concatenation: %v", plain.Positions())
	}
	s, ok := Splice(a, b, true)
	if !ok {
		t.Fatalf("overlap cutoff refused")
	}
	checkInvariant(t, s, a.Start())
	if s.Len() != 4 || s.Dest() != cell.New(2, 0, 1) {
		t.Fatalf("loop not removed: %v", s.Positions())
	}
}

func TestSuffixAndRemainingCost(t *testing.T) {
	p := mustAssemble(t, 0, 6, nil)
	s := p.Suffix(2)
	checkInvariant(t, s, cell.New(2, 0, 0))
	if s.TotalCost() != p.RemainingCost(2) || s.TotalCost() != 4 {
		t.Fatalf("suffix cost=%v remaining=%v", s.TotalCost(), p.RemainingCost(2))
	}
}
