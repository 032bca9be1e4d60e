package recovery

import (
	"voxelpath.ai/internal/sim/nav/cell"
	"voxelpath.ai/internal/sim/nav/path"
)

// Corridor is the tolerance region around a sliding window of path segments.
// A cell is inside when it lies within Buffer cells (per axis) of any cell
// the agent may occupy while executing a move in the window.
//
// A Corridor belongs to one execution loop and is not safe for concurrent use.
type Corridor struct {
	p          *path.Path
	buffer     int
	lookbehind int
	lookahead  int

	segment int
	lo, hi  int // moves [lo, hi) are in the window

	valid   []cell.Cell
	index   []int // path index of each valid cell
	cells   map[int64]struct{}
	nearest map[int64]int // cell key -> slot in valid
}

func NewCorridor(p *path.Path, buffer, lookbehind, lookahead int) *Corridor {
	if buffer < 0 {
		buffer = 0
	}
	if lookbehind < 0 {
		lookbehind = 0
	}
	if lookahead < 1 {
		lookahead = 1
	}
	c := &Corridor{p: p, buffer: buffer, lookbehind: lookbehind, lookahead: lookahead, segment: -1}
	c.Update(0)
	return c
}

func (c *Corridor) Path() *path.Path { return c.p }

func (c *Corridor) Segment() int { return c.segment }

// Window returns the half-open range of move indices currently covered.
func (c *Corridor) Window() (lo, hi int) { return c.lo, c.hi }

// Update slides the window to segment. Caches are dropped only when the window
// actually moves.
func (c *Corridor) Update(segment int) {
	n := c.p.NumMoves()
	if segment < 0 {
		segment = 0
	}
	if n > 0 && segment > n-1 {
		segment = n - 1
	}
	if segment == c.segment {
		return
	}
	c.segment = segment
	c.lo = max(0, segment-c.lookbehind)
	c.hi = min(n, segment+c.lookahead)
	c.rebuild()
}

func (c *Corridor) rebuild() {
	c.valid = c.valid[:0]
	c.index = c.index[:0]
	c.nearest = make(map[int64]int)
	seen := make(map[int64]struct{})
	add := func(at cell.Cell, idx int) {
		k := at.Key()
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		c.valid = append(c.valid, at)
		c.index = append(c.index, idx)
	}
	if c.hi <= c.lo {
		// Moveless path: only the start is valid.
		add(c.p.Start(), 0)
	}
	for i := c.lo; i < c.hi; i++ {
		m := c.p.Move(i)
		add(m.Src, i)
		for _, t := range m.Through {
			add(t, i)
		}
		add(m.Dst, i+1)
	}

	b := c.buffer
	c.cells = make(map[int64]struct{}, len(c.valid)*(2*b+1)*(2*b+1)*(2*b+1))
	for _, v := range c.valid {
		for dx := -b; dx <= b; dx++ {
			for dy := -b; dy <= b; dy++ {
				for dz := -b; dz <= b; dz++ {
					c.cells[cell.Pack(v.X+dx, v.Y+dy, v.Z+dz)] = struct{}{}
				}
			}
		}
	}
}

func (c *Corridor) Contains(at cell.Cell) bool {
	_, ok := c.cells[at.Key()]
	return ok
}

// Nearest returns the path index and cell of the valid position closest to
// at. Results are cached until the window moves.
func (c *Corridor) Nearest(at cell.Cell) (int, cell.Cell) {
	k := at.Key()
	if slot, ok := c.nearest[k]; ok {
		return c.index[slot], c.valid[slot]
	}
	best, bestD := 0, -1
	for i, v := range c.valid {
		d := cell.DistSq(at, v)
		if bestD < 0 || d < bestD {
			best, bestD = i, d
		}
	}
	c.nearest[k] = best
	return c.index[best], c.valid[best]
}

// Reset replaces the tracked path, e.g. after a reconnection splice.
func (c *Corridor) Reset(p *path.Path, segment int) {
	c.p = p
	c.segment = -1
	c.Update(segment)
}
