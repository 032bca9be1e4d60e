// Package planner owns the planning lifecycle for one agent: it keeps at most
// one search in flight, snapshots tuning per search, builds the bias map,
// post-processes results and reports them to metrics and recorders.
package planner

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"voxelpath.ai/internal/sim/nav/bias"
	"voxelpath.ai/internal/sim/nav/cell"
	"voxelpath.ai/internal/sim/nav/failmem"
	"voxelpath.ai/internal/sim/nav/goal"
	"voxelpath.ai/internal/sim/nav/move"
	"voxelpath.ai/internal/sim/nav/path"
	"voxelpath.ai/internal/sim/nav/recovery"
	"voxelpath.ai/internal/sim/nav/search"
	"voxelpath.ai/internal/sim/tuning"
)

var (
	ErrBusy   = errors.New("planner: search already in progress")
	ErrNoGoal = errors.New("planner: goal is required")
	ErrSplice = errors.New("planner: next segment does not continue the current path")
)

// HazardSource returns the avoidance sources in effect right now. It is
// called once per search.
type HazardSource func() []bias.Source

type Config struct {
	ID       string
	World    move.World
	Border   move.Border
	Provider move.Provider
	Hazards  HazardSource
	// Failures may be shared between planners of the same agent; when nil the
	// planner creates its own from the tuning.
	Failures *failmem.Memory
	Recorder Recorder
	Logger   *log.Logger
	Tuning   tuning.Tuning
}

type Request struct {
	// Start seeds the search; RealStart, when set, is where the agent stands.
	Start     cell.Cell
	RealStart *cell.Cell
	Goal      goal.Goal
	// Previous is favored so replanning keeps to the old route.
	Previous *path.Path
}

type Planner struct {
	id       string
	world    move.World
	border   move.Border
	provider move.Provider
	hazards  HazardSource
	failures *failmem.Memory
	recorder Recorder
	logger   *log.Logger

	mu      sync.Mutex
	tuning  tuning.Tuning
	current *search.Search
	began   time.Time
}

func New(cfg Config) *Planner {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	id := cfg.ID
	if id == "" {
		id = "planner"
	}
	failures := cfg.Failures
	if failures == nil {
		failures = failmem.New(FailureSettings(cfg.Tuning.Failures))
	}
	return &Planner{
		id:       id,
		world:    cfg.World,
		border:   cfg.Border,
		provider: cfg.Provider,
		hazards:  cfg.Hazards,
		failures: failures,
		recorder: cfg.Recorder,
		logger:   logger,
		tuning:   cfg.Tuning,
	}
}

func (p *Planner) ID() string { return p.id }

func (p *Planner) Failures() *failmem.Memory { return p.failures }

func (p *Planner) Tuning() tuning.Tuning {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tuning
}

// SetTuning replaces the tuning used by subsequent searches. A running search
// keeps the snapshot it started with.
func (p *Planner) SetTuning(t tuning.Tuning) {
	p.mu.Lock()
	p.tuning = t
	p.mu.Unlock()
}

func (p *Planner) InProgress() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil
}

// Cancel asks the in-flight search, if any, to stop. It reports whether a
// search was running.
func (p *Planner) Cancel() bool {
	p.mu.Lock()
	s := p.current
	p.mu.Unlock()
	if s == nil {
		return false
	}
	s.Cancel()
	return true
}

// BestSoFar returns the in-flight search's current partial path, or nil.
func (p *Planner) BestSoFar() *path.Path {
	p.mu.Lock()
	s := p.current
	p.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.BestSoFar()
}

func (p *Planner) moveContext(t tuning.Tuning) *move.Context {
	return &move.Context{World: p.world, Border: p.border, Tunables: tunables(t)}
}

func (p *Planner) biasFor(req Request, t tuning.Tuning) *bias.Map {
	var sources []bias.Source
	if p.hazards != nil {
		sources = p.hazards()
	}
	var previous []cell.Cell
	if req.Previous != nil {
		previous = req.Previous.Positions()
	}
	return bias.Build(sources, previous, t.Bias.BacktrackCoefficient)
}

// Plan runs one search to completion on the calling goroutine. It fails with
// ErrBusy if another search is in flight. Cancelling ctx cancels the search,
// which then returns a Cancelled outcome.
func (p *Planner) Plan(ctx context.Context, req Request) (search.Outcome, error) {
	if req.Goal == nil {
		return search.Outcome{}, ErrNoGoal
	}
	if err := ctx.Err(); err != nil {
		return search.Outcome{}, err
	}

	p.mu.Lock()
	if p.current != nil {
		p.mu.Unlock()
		busyRejections.Inc()
		return search.Outcome{}, ErrBusy
	}
	t := p.tuning
	s := search.New(search.Params{
		Start:     req.Start,
		RealStart: req.RealStart,
		Goal:      req.Goal,
		Context:   p.moveContext(t),
		Provider:  p.provider,
		Bias:      p.biasFor(req, t),
		Failures:  p.failures,
		Settings:  SearchSettings(t.Search),
	})
	p.current = s
	p.began = time.Now()
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.current = nil
		p.mu.Unlock()
	}()

	stop := context.AfterFunc(ctx, s.Cancel)
	out, err := s.Run()
	stop()
	if err != nil {
		return out, err
	}
	if out.AssemblyErr != nil {
		p.logger.Printf("search %s: path truncated: %v", req.Goal, out.AssemblyErr)
	}
	out = postProcess(out, p.world, t.Path)
	p.report(req, out)
	return out, nil
}

// postProcess cuts the result at the first unloaded region, then applies the
// static cutoff. A complete path cut short of its goal becomes partial.
func postProcess(out search.Outcome, w move.World, t tuning.Path) search.Outcome {
	if out.Path == nil {
		return out
	}
	out.Path = out.Path.CutoffAtLoaded(w).StaticCutoff(t.CutoffMinLength, t.CutoffFactor)
	if out.Status == search.StatusComplete && !out.Path.EndsInGoal() {
		out.Status = search.StatusPartial
		out.Reason = search.ReasonChunkLoadLimit
	}
	return out
}

func (p *Planner) report(req Request, out search.Outcome) {
	searchesTotal.WithLabelValues(out.Status.String(), out.Reason.String()).Inc()
	searchDuration.Observe(out.Elapsed.Seconds())
	nodesExpanded.Observe(float64(out.Expanded))

	rec := SearchRecord{
		Time:      time.Now().UTC(),
		Planner:   p.id,
		Start:     triple(req.Start),
		Goal:      req.Goal.String(),
		Status:    out.Status.String(),
		Reason:    out.Reason.String(),
		Expanded:  out.Expanded,
		ElapsedMs: float64(out.Elapsed.Microseconds()) / 1000,
		Epsilon:   out.Epsilon,
	}
	if out.Path != nil {
		rec.PathLen = out.Path.Len()
		rec.Cost = out.Path.TotalCost()
	}
	p.logger.Printf("search %s start=%s status=%s reason=%s expanded=%d elapsed=%s len=%d",
		rec.Goal, req.Start, rec.Status, rec.Reason, rec.Expanded, out.Elapsed.Round(time.Microsecond), rec.PathLen)
	if p.recorder != nil {
		p.recorder.RecordSearch(rec)
	}
}

// PlanAhead plans the segment after current and splices it on. When current
// already ends in its goal it is returned unchanged without searching. If no
// usable segment is found current is returned with the search outcome.
func (p *Planner) PlanAhead(ctx context.Context, current *path.Path, g goal.Goal) (*path.Path, search.Outcome, error) {
	if current == nil {
		return nil, search.Outcome{}, errors.New("planner: plan ahead needs a current path")
	}
	if current.EndsInGoal() {
		return current, search.Outcome{Status: search.StatusComplete, Path: current, Closest: current.Dest()}, nil
	}
	out, err := p.Plan(ctx, Request{Start: current.Dest(), Goal: g, Previous: current})
	if err != nil || !out.HasPath() {
		return current, out, err
	}
	spliced, ok := path.Splice(current, out.Path, p.Tuning().Path.SpliceOverlapCutoff)
	if !ok {
		return current, out, ErrSplice
	}
	return spliced, out, nil
}

// RecordFailure stores an execution failure and returns the attempt count.
func (p *Planner) RecordFailure(src, dst cell.Cell, kind move.Kind, reason failmem.Reason) int {
	n := p.failures.Record(src, dst, kind, reason)
	p.noteFailure(src, dst, kind, reason, n)
	return n
}

// MoveFailed hands a failed move of pth to mgr, which records it in the shared
// failure memory, and reports the failure like RecordFailure.
func (p *Planner) MoveFailed(mgr *recovery.Manager, pth *path.Path, index int, actual cell.Cell, failed move.Move, reason failmem.Reason) recovery.Decision {
	d := mgr.OnMoveFailure(p.MoveContext(), pth, index, actual, failed, reason)
	p.noteFailure(failed.Src, failed.Dst, failed.Kind, reason, p.failures.Attempts(failed.Src, failed.Dst, failed.Kind))
	return d
}

func (p *Planner) noteFailure(src, dst cell.Cell, kind move.Kind, reason failmem.Reason, n int) {
	failuresRecorded.WithLabelValues(string(reason)).Inc()
	p.logger.Printf("failure kind=%s %s->%s reason=%s attempts=%d", kind, src, dst, reason, n)
	if p.recorder != nil {
		p.recorder.RecordFailure(FailureRecord{
			Time:     time.Now().UTC(),
			Planner:  p.id,
			Src:      triple(src),
			Dst:      triple(dst),
			Kind:     string(kind),
			Reason:   string(reason),
			Attempts: n,
		})
	}
}

// Forget drops all failure history, e.g. after a teleport or world switch.
func (p *Planner) Forget() {
	p.failures.Clear()
	p.logger.Printf("failure memory cleared")
}

// Recovery returns a recovery manager sharing this planner's provider and
// failure memory, configured from the current tuning.
func (p *Planner) Recovery() *recovery.Manager {
	m := recovery.New(p.provider, p.failures, RecoverySettings(p.Tuning().Recovery), p.logger)
	m.SetObserver(func(d recovery.Decision) {
		recoveryDecisions.WithLabelValues(d.Action.String()).Inc()
	})
	return m
}

// Corridor builds the execution corridor for pth from the current tuning.
func (p *Planner) Corridor(pth *path.Path) *recovery.Corridor {
	c := p.Tuning().Corridor
	return recovery.NewCorridor(pth, c.Buffer, c.Lookbehind, c.Lookahead)
}

// MoveContext returns the calculation context recovery calls should use.
func (p *Planner) MoveContext() *move.Context { return p.moveContext(p.Tuning()) }

// RunMaintenance prunes failure memory every interval and cancels searches
// that overrun their failure timeout by more than that interval. It blocks
// until ctx is done.
func (p *Planner) RunMaintenance(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		every = p.Tuning().Failures.CleanupEvery()
	}
	if every <= 0 {
		every = 10 * time.Second
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tick := time.NewTicker(every)
		defer tick.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-tick.C:
				before := p.failures.Len()
				p.failures.Cleanup()
				if after := p.failures.Len(); after != before {
					p.logger.Printf("failure memory cleanup: %d -> %d", before, after)
				}
			}
		}
	})
	g.Go(func() error {
		tick := time.NewTicker(every)
		defer tick.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-tick.C:
				p.mu.Lock()
				s, began, limit := p.current, p.began, p.tuning.Search.FailureTimeout()
				p.mu.Unlock()
				if s != nil && time.Since(began) > limit+every {
					p.logger.Printf("search running for %s; cancelling", time.Since(began).Round(time.Millisecond))
					s.Cancel()
				}
			}
		}
	})
	return g.Wait()
}
