package planner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"voxelpath.ai/internal/sim/nav/bias"
	"voxelpath.ai/internal/sim/nav/cell"
	"voxelpath.ai/internal/sim/nav/failmem"
	"voxelpath.ai/internal/sim/nav/goal"
	"voxelpath.ai/internal/sim/nav/gridworld"
	"voxelpath.ai/internal/sim/nav/move"
	"voxelpath.ai/internal/sim/nav/path"
	"voxelpath.ai/internal/sim/nav/recovery"
	"voxelpath.ai/internal/sim/nav/search"
	"voxelpath.ai/internal/sim/tuning"
)

type memRecorder struct {
	mu       sync.Mutex
	searches []SearchRecord
	failures []FailureRecord
}

func (r *memRecorder) RecordSearch(s SearchRecord) {
	r.mu.Lock()
	r.searches = append(r.searches, s)
	r.mu.Unlock()
}

func (r *memRecorder) RecordFailure(f FailureRecord) {
	r.mu.Lock()
	r.failures = append(r.failures, f)
	r.mu.Unlock()
}

func newPlanner(t *testing.T, boundary int) (*Planner, *gridworld.World, *memRecorder) {
	t.Helper()
	w := gridworld.New(gridworld.Config{Seed: 11, MinY: 0, MaxY: 8, GroundY: 0, BoundaryR: boundary})
	rec := &memRecorder{}
	p := New(Config{
		ID:       "test",
		World:    w,
		Border:   w,
		Provider: gridworld.Walker{World: w},
		Hazards:  w.Hazards,
		Recorder: rec,
		Tuning:   tuning.Defaults(),
	})
	return p, w, rec
}

func TestPlanRecordsSearch(t *testing.T) {
	p, _, rec := newPlanner(t, 30)
	out, err := p.Plan(context.Background(), Request{Start: cell.New(0, 0, 0), Goal: goal.Block{Pos: cell.New(7, 0, 3)}})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if out.Status != search.StatusComplete || out.Path.TotalCost() != 10 {
		t.Fatalf("status=%s path=%v", out.Status, out.Path)
	}
	if p.InProgress() {
		t.Fatalf("planner should be idle after Plan returns")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.searches) != 1 {
		t.Fatalf("records=%d", len(rec.searches))
	}
	r := rec.searches[0]
	if r.Planner != "test" || r.Status != "complete" || r.PathLen != 11 || r.Cost != 10 || r.Start != [3]int{0, 0, 0} {
		t.Fatalf("record=%+v", r)
	}
}

func TestPlanRequiresGoal(t *testing.T) {
	p, _, _ := newPlanner(t, 10)
	if _, err := p.Plan(context.Background(), Request{}); !errors.Is(err, ErrNoGoal) {
		t.Fatalf("want ErrNoGoal, got %v", err)
	}
}

func waitInProgress(t *testing.T, p *Planner) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !p.InProgress() {
		if time.Now().After(deadline) {
			t.Fatalf("search never started")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSecondPlanIsBusy(t *testing.T) {
	p, _, _ := newPlanner(t, 0)
	long := Request{Start: cell.New(0, 0, 0), Goal: goal.StrictDirection{Origin: cell.New(0, 0, 0), DX: 1}}

	done := make(chan search.Outcome, 1)
	go func() {
		out, _ := p.Plan(context.Background(), long)
		done <- out
	}()
	waitInProgress(t, p)

	if _, err := p.Plan(context.Background(), long); !errors.Is(err, ErrBusy) {
		t.Fatalf("want ErrBusy, got %v", err)
	}
	if !p.Cancel() {
		t.Fatalf("cancel should report a running search")
	}
	select {
	case out := <-done:
		if out.Status != search.StatusCancelled {
			t.Fatalf("status=%s", out.Status)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("cancelled search did not return")
	}
	if p.Cancel() {
		t.Fatalf("nothing should be running")
	}
}

func TestContextCancelStopsSearch(t *testing.T) {
	p, _, _ := newPlanner(t, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	out, err := p.Plan(ctx, Request{Start: cell.New(0, 0, 0), Goal: goal.StrictDirection{Origin: cell.New(0, 0, 0), DZ: 1}})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if out.Status != search.StatusCancelled {
		t.Fatalf("status=%s", out.Status)
	}
	if _, err := p.Plan(ctx, Request{Start: cell.New(0, 0, 0), Goal: goal.Block{Pos: cell.New(1, 0, 0)}}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("done context should be rejected, got %v", err)
	}
}

func TestHazardsShapeRoute(t *testing.T) {
	p, w, _ := newPlanner(t, 30)
	w.AddHazard(bias.Source{Center: cell.New(5, 0, 0), Radius: 2, Coefficient: 20, Label: "lava"})
	out, err := p.Plan(context.Background(), Request{Start: cell.New(0, 0, 0), Goal: goal.Block{Pos: cell.New(10, 0, 0)}})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if out.Path.IndexOf(cell.New(5, 0, 0)) >= 0 {
		t.Fatalf("route crosses the hazard: %v", out.Path.Positions())
	}
}

func TestPlanAheadSplices(t *testing.T) {
	p, _, _ := newPlanner(t, 50)
	target := goal.Block{Pos: cell.New(30, 0, 0)}
	positions := []cell.Cell{cell.New(0, 0, 0)}
	var moves []move.Move
	for x := 1; x <= 10; x++ {
		positions = append(positions, cell.New(x, 0, 0))
		moves = append(moves, move.Move{Src: cell.New(x-1, 0, 0), Dst: cell.New(x, 0, 0), Cost: 1, Kind: gridworld.KindWalk})
	}
	current, err := path.New(positions, moves, target, 0)
	if err != nil {
		t.Fatalf("path: %v", err)
	}

	next, out, err := p.PlanAhead(context.Background(), current, target)
	if err != nil {
		t.Fatalf("plan ahead: %v", err)
	}
	if out.Status != search.StatusComplete {
		t.Fatalf("status=%s", out.Status)
	}
	if next.Start() != current.Start() || !next.EndsInGoal() || next.Len() != 31 {
		t.Fatalf("spliced=%s", next)
	}
	if err := next.Validate(); err != nil {
		t.Fatalf("invalid splice: %v", err)
	}

	same, _, err := p.PlanAhead(context.Background(), next, target)
	if err != nil || same != next {
		t.Fatalf("a path already in its goal should be returned unchanged")
	}
}

func TestRecordFailureFeedsSearch(t *testing.T) {
	p, _, rec := newPlanner(t, 10)
	src, dst := cell.New(0, 0, 0), cell.New(1, 0, 0)
	for i := 0; i < 6; i++ {
		p.RecordFailure(src, dst, gridworld.KindWalk, failmem.ReasonWorldChanged)
	}
	if !p.Failures().ShouldFilter(src, dst, gridworld.KindWalk) {
		t.Fatalf("transition should be filtered")
	}
	out, err := p.Plan(context.Background(), Request{Start: src, Goal: goal.Block{Pos: dst}})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if out.Status != search.StatusComplete || out.Path.NumMoves() != 3 {
		t.Fatalf("expected 3-move detour, got %v", out.Path)
	}
	rec.mu.Lock()
	if len(rec.failures) != 6 || rec.failures[5].Attempts != 6 || rec.failures[5].Reason != "world_changed" {
		t.Fatalf("failure records=%+v", rec.failures)
	}
	rec.mu.Unlock()

	p.Forget()
	if p.Failures().Len() != 0 {
		t.Fatalf("forget should clear memory")
	}
}

func TestRecoveryThroughPlanner(t *testing.T) {
	p, _, rec := newPlanner(t, 10)
	out, err := p.Plan(context.Background(), Request{Start: cell.New(0, 0, 0), Goal: goal.Block{Pos: cell.New(4, 0, 0)}})
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	m := p.Recovery()
	first := out.Path.Move(0)
	d := p.MoveFailed(m, out.Path, 0, out.Path.At(0), first, failmem.ReasonRejected)
	if d.Action != recovery.ActionCancel {
		t.Fatalf("walker offers no alternative kind; got %+v", d)
	}
	if p.Failures().Attempts(first.Src, first.Dst, first.Kind) != 1 {
		t.Fatalf("recovery should share the planner's failure memory")
	}
	rec.mu.Lock()
	if len(rec.failures) != 1 || rec.failures[0].Attempts != 1 || rec.failures[0].Kind != "walk" {
		t.Fatalf("failure records=%+v", rec.failures)
	}
	rec.mu.Unlock()
	c := p.Corridor(out.Path)
	if !c.Contains(out.Path.At(1)) {
		t.Fatalf("corridor should contain the path")
	}
}

func TestRunMaintenancePrunes(t *testing.T) {
	p, _, _ := newPlanner(t, 10)
	now := time.Now()
	var mu sync.Mutex
	p.Failures().SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	})
	p.RecordFailure(cell.New(0, 0, 0), cell.New(1, 0, 0), gridworld.KindWalk, failmem.ReasonTimeout)
	mu.Lock()
	now = now.Add(time.Hour)
	mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- p.RunMaintenance(ctx, 5*time.Millisecond) }()

	deadline := time.Now().Add(2 * time.Second)
	for p.Failures().Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("cleanup never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("maintenance: %v", err)
	}
}

func TestSettingsConversion(t *testing.T) {
	tu := tuning.Defaults()
	s := SearchSettings(tu.Search)
	d := search.DefaultSettings()
	if s.PrimaryTimeout != d.PrimaryTimeout || s.FailureTimeout != d.FailureTimeout || len(s.Phases) != len(d.Phases) {
		t.Fatalf("search settings=%+v", s)
	}
	for i := range s.Phases {
		if s.Phases[i] != d.Phases[i] {
			t.Fatalf("phase %d=%+v want %+v", i, s.Phases[i], d.Phases[i])
		}
	}
	if FailureSettings(tu.Failures) != failmem.DefaultSettings() {
		t.Fatalf("failure settings=%+v", FailureSettings(tu.Failures))
	}
	if RecoverySettings(tu.Recovery) != recovery.DefaultSettings() {
		t.Fatalf("recovery settings=%+v", RecoverySettings(tu.Recovery))
	}
}

type loadedUpTo struct{ limit int }

func (w loadedUpTo) IsRegionLoaded(x, _ int) bool { return x <= w.limit }
func (w loadedUpTo) VerticalBounds() (int, int)   { return 0, 8 }

func TestPostProcessDowngradesTruncatedComplete(t *testing.T) {
	target := goal.Block{Pos: cell.New(20, 0, 0)}
	positions := []cell.Cell{cell.New(0, 0, 0)}
	var moves []move.Move
	for x := 1; x <= 20; x++ {
		positions = append(positions, cell.New(x, 0, 0))
		moves = append(moves, move.Move{Src: cell.New(x-1, 0, 0), Dst: cell.New(x, 0, 0), Cost: 1, Kind: gridworld.KindWalk})
	}
	full, err := path.New(positions, moves, target, 0)
	if err != nil {
		t.Fatalf("path: %v", err)
	}
	cfg := tuning.Defaults().Path

	out := postProcess(search.Outcome{Status: search.StatusComplete, Path: full}, loadedUpTo{limit: 100}, cfg)
	if out.Status != search.StatusComplete || out.Path != full {
		t.Fatalf("loaded path should stay complete: status=%s", out.Status)
	}

	out = postProcess(search.Outcome{Status: search.StatusComplete, Path: full}, loadedUpTo{limit: 15}, cfg)
	if out.Status != search.StatusPartial || out.Reason != search.ReasonChunkLoadLimit {
		t.Fatalf("status=%s reason=%s", out.Status, out.Reason)
	}
	if out.Path.Dest() != cell.New(15, 0, 0) || out.Path.EndsInGoal() {
		t.Fatalf("dest=%s", out.Path.Dest())
	}

	none := postProcess(search.Outcome{Status: search.StatusNoPath}, loadedUpTo{limit: 0}, cfg)
	if none.Status != search.StatusNoPath || none.Path != nil {
		t.Fatalf("outcome without a path should pass through: %+v", none)
	}
}
