// Package search implements the time-boxed A* cost search.
//
// A Search is created per calculation, run once on a background goroutine and
// then discarded. The heuristic weight (epsilon) rises through a fixed phase
// schedule as wall-clock time passes so the search always terminates with an
// answer, trading optimality for speed. When the goal is not reached the best
// partial route is chosen from per-coefficient candidates.
package search

import (
	"container/heap"
	"errors"
	"math"
	"sync/atomic"
	"time"

	"voxelpath.ai/internal/sim/nav/bias"
	"voxelpath.ai/internal/sim/nav/cell"
	"voxelpath.ai/internal/sim/nav/failmem"
	"voxelpath.ai/internal/sim/nav/goal"
	"voxelpath.ai/internal/sim/nav/move"
	"voxelpath.ai/internal/sim/nav/path"
)

var ErrAlreadyRun = errors.New("search: instance already run")

type Params struct {
	Start cell.Cell
	// RealStart is where the agent actually stands, if it differs from the
	// simplified Start the search is seeded from.
	RealStart *cell.Cell
	Goal      goal.Goal
	Context   *move.Context
	Provider  move.Provider
	Bias      *bias.Map
	Failures  *failmem.Memory
	Settings  Settings
}

type Outcome struct {
	Status   Status
	Reason   Reason
	Path     *path.Path
	Expanded int
	Elapsed  time.Duration
	// Epsilon is the heuristic weight in force when the search stopped.
	Epsilon float64
	// Closest is the node with the lowest heuristic seen.
	Closest cell.Cell
	// AssemblyErr is set when the result chain was inconsistent and Path was
	// truncated to its last valid position.
	AssemblyErr error
}

func (o Outcome) HasPath() bool { return o.Path != nil && o.Path.NumMoves() > 0 }

type Search struct {
	start     cell.Cell
	realStart cell.Cell
	goal      goal.Goal
	ctx       *move.Context
	provider  move.Provider
	bias      *bias.Map
	failures  *failmem.Memory
	settings  Settings

	started  atomic.Bool
	canceled atomic.Bool
	best     atomic.Pointer[path.Path]
	expanded atomic.Int64

	nodes []node
	index map[int64]int32
	open  openSet
}

func New(p Params) *Search {
	s := &Search{
		start:     p.Start,
		realStart: p.Start,
		goal:      p.Goal,
		ctx:       p.Context,
		provider:  p.Provider,
		bias:      p.Bias,
		failures:  p.Failures,
		settings:  p.Settings.withDefaults(),
	}
	if p.RealStart != nil {
		s.realStart = *p.RealStart
	}
	if s.ctx == nil {
		s.ctx = &move.Context{}
	}
	s.open.s = s
	return s
}

func (s *Search) Start() cell.Cell { return s.start }

func (s *Search) Goal() goal.Goal { return s.goal }

// Cancel asks a running search to stop at its next periodic check.
func (s *Search) Cancel() { s.canceled.Store(true) }

func (s *Search) Cancelled() bool { return s.canceled.Load() }

// BestSoFar returns the partial path the search would settle for right now.
// It is refreshed at every periodic check and safe to call concurrently.
func (s *Search) BestSoFar() *path.Path { return s.best.Load() }

// Expanded reports the number of nodes expanded so far.
func (s *Search) Expanded() int { return int(s.expanded.Load()) }

func (s *Search) heuristic(c cell.Cell, from cell.Cell, kind move.Kind) float64 {
	h := s.goal.Heuristic(c)
	if math.IsNaN(h) {
		panic(&ContractError{Src: from, Dst: c, Kind: kind, Msg: "goal " + s.goal.String() + " produced NaN heuristic"})
	}
	return h
}

func (s *Search) nodeFor(c cell.Cell, from cell.Cell, kind move.Kind) int32 {
	k := c.Key()
	if idx, ok := s.index[k]; ok {
		return idx
	}
	idx := int32(len(s.nodes))
	s.nodes = append(s.nodes, node{
		pos:     c,
		cost:    move.CostInf,
		h:       s.heuristic(c, from, kind),
		prev:    -1,
		heapIdx: -1,
	})
	s.index[k] = idx
	return idx
}

func (s *Search) distFromStartSq(idx int32) float64 {
	return float64(cell.DistSq(s.nodes[idx].pos, s.start))
}

// Run executes the search. It may be called once.
func (s *Search) Run() (Outcome, error) {
	if !s.started.CompareAndSwap(false, true) {
		return Outcome{}, ErrAlreadyRun
	}
	if s.goal == nil || s.provider == nil {
		return Outcome{}, errors.New("search: goal and provider are required")
	}
	cfg := s.settings
	began := time.Now()

	s.nodes = make([]node, 0, 1024)
	s.index = make(map[int64]int32, 1024)

	eps := cfg.epsilonAt(0, true)
	startIdx := s.nodeFor(s.start, s.start, "")
	sn := &s.nodes[startIdx]
	sn.cost = 0
	sn.combined = sn.h * eps
	if math.IsInf(sn.h, 0) {
		return s.finish(began, eps, ReasonUnreachable, startIdx, nil, 0), nil
	}
	heap.Push(&s.open, startIdx)

	nCoef := len(cfg.Coefficients)
	bestSoFar := make([]int32, nCoef)
	bestScore := make([]float64, nCoef)
	for i := range bestSoFar {
		bestSoFar[i] = startIdx
		bestScore[i] = sn.h
	}
	closest := startIdx
	minDistSq := cfg.MinPartialDist * cfg.MinPartialDist
	failing := true
	expanded := 0
	unloaded := 0
	published := int32(-1)
	reason := ReasonUnreachable

	for s.open.Len() > 0 {
		if expanded%cfg.CheckEvery == 0 {
			if s.canceled.Load() {
				reason = ReasonCancelled
				break
			}
			elapsed := time.Since(began)
			if failing && elapsed >= cfg.FailureTimeout {
				reason = ReasonFailureTimeout
				break
			}
			if !failing && elapsed >= cfg.PrimaryTimeout {
				reason = ReasonPrimaryTimeout
				break
			}
			if next := cfg.epsilonAt(elapsed, failing); next != eps {
				eps = next
				s.rekey(eps)
			}
			if pick := s.pickPartial(bestSoFar, minDistSq); pick >= 0 && pick != published {
				if p, _ := s.assemble(pick, expanded); p != nil {
					s.best.Store(p)
					published = pick
				}
			}
		}
		if cfg.MaxNodes > 0 && expanded >= cfg.MaxNodes {
			reason = ReasonNodeLimit
			break
		}

		cur := heap.Pop(&s.open).(int32)
		expanded++
		s.expanded.Store(int64(expanded))
		curPos := s.nodes[cur].pos
		curCost := s.nodes[cur].cost

		if s.goal.IsSatisfied(curPos) {
			p, err := s.assemble(cur, expanded)
			out := Outcome{
				Status:      StatusComplete,
				Reason:      ReasonNone,
				Path:        p,
				Expanded:    expanded,
				Elapsed:     time.Since(began),
				Epsilon:     eps,
				Closest:     curPos,
				AssemblyErr: err,
			}
			if p != nil {
				s.best.Store(p)
			}
			return out, nil
		}

		for m := range s.provider.Moves(s.ctx, curPos) {
			if m.Src != curPos {
				panic(&ContractError{Src: m.Src, Dst: m.Dst, Kind: m.Kind, Msg: "move does not start at " + curPos.String()})
			}
			dst := m.Dst
			if !s.ctx.Loaded(dst) {
				unloaded++
				continue
			}
			if !s.ctx.InBounds(dst) {
				continue
			}
			cost := m.Cost
			if math.IsNaN(cost) || cost <= 0 {
				panic(&ContractError{Src: m.Src, Dst: dst, Kind: m.Kind, Msg: "non-positive or NaN move cost"})
			}
			if cost >= move.CostInf {
				continue
			}
			if s.failures != nil {
				if s.failures.ShouldFilter(m.Src, dst, m.Kind) {
					continue
				}
				cost *= s.failures.Penalty(m.Src, dst, m.Kind)
				if cost >= move.CostInf {
					continue
				}
			}
			if !s.bias.Empty() {
				cost *= s.bias.Multiplier(dst)
			}

			tentative := curCost + cost
			idx := s.nodeFor(dst, m.Src, m.Kind)
			nb := &s.nodes[idx]
			if math.IsInf(nb.h, 0) {
				continue
			}
			if nb.cost-tentative <= cfg.MinImprovement {
				continue
			}
			nb.cost = tentative
			nb.combined = tentative + nb.h*eps
			nb.prev = cur
			nb.via = m
			nb.hasVia = true
			if nb.heapIdx >= 0 {
				heap.Fix(&s.open, int(nb.heapIdx))
			} else {
				heap.Push(&s.open, idx)
			}

			if nb.h < s.nodes[closest].h {
				closest = idx
			}
			for i, coef := range cfg.Coefficients {
				score := nb.h + nb.cost/coef
				if bestScore[i]-score > cfg.MinImprovement {
					bestScore[i] = score
					bestSoFar[i] = idx
					if failing && s.distFromStartSq(idx) > minDistSq {
						failing = false
					}
				}
			}
		}

		if cfg.MaxUnloaded > 0 && unloaded > cfg.MaxUnloaded {
			reason = ReasonChunkLoadLimit
			break
		}
	}

	if reason == ReasonCancelled {
		return Outcome{
			Status:   StatusCancelled,
			Reason:   ReasonCancelled,
			Expanded: expanded,
			Elapsed:  time.Since(began),
			Epsilon:  eps,
			Closest:  s.nodes[closest].pos,
		}, nil
	}
	return s.finish(began, eps, reason, closest, bestSoFar, expanded), nil
}

// finish selects the partial result for a search that did not reach the goal.
func (s *Search) finish(began time.Time, eps float64, reason Reason, closest int32, bestSoFar []int32, expanded int) Outcome {
	out := Outcome{
		Status:   StatusNoPath,
		Reason:   reason,
		Expanded: expanded,
		Elapsed:  time.Since(began),
		Epsilon:  eps,
		Closest:  s.nodes[closest].pos,
	}
	minDistSq := s.settings.MinPartialDist * s.settings.MinPartialDist
	if pick := s.pickPartial(bestSoFar, minDistSq); pick >= 0 {
		p, err := s.assemble(pick, expanded)
		if p != nil && p.NumMoves() > 0 {
			out.Status = StatusPartial
			out.Path = p
			out.AssemblyErr = err
			s.best.Store(p)
		}
	}
	return out
}

// pickPartial returns the candidate of the smallest coefficient that got far
// enough from the start, or -1.
func (s *Search) pickPartial(bestSoFar []int32, minDistSq float64) int32 {
	for _, idx := range bestSoFar {
		if idx >= 0 && s.distFromStartSq(idx) > minDistSq {
			return idx
		}
	}
	return -1
}

func (s *Search) rekey(eps float64) {
	for _, idx := range s.open.items {
		n := &s.nodes[idx]
		n.combined = n.cost + n.h*eps
	}
	heap.Init(&s.open)
}

// assemble walks back-pointers from idx and builds a Path.
func (s *Search) assemble(idx int32, expanded int) (*path.Path, error) {
	var chain []path.Link
	for cur := idx; cur >= 0; cur = s.nodes[cur].prev {
		n := &s.nodes[cur]
		link := path.Link{Pos: n.pos}
		if n.hasVia {
			via := n.via
			link.Via = &via
		}
		chain = append(chain, link)
		if len(chain) > len(s.nodes) {
			// Back-pointer cycle; keep what we have rather than spin.
			break
		}
	}
	return path.Assemble(s.start, s.realStart, chain, s.goal, expanded)
}
