// Package gridworld is a seeded, chunked heightmap world with a terrestrial
// movement provider. It backs the bench CLI and the planner tests; real
// deployments plug their own World and Provider into the planner.
package gridworld

import (
	"sync"

	"voxelpath.ai/internal/sim/mathx"
	"voxelpath.ai/internal/sim/nav/bias"
	"voxelpath.ai/internal/sim/nav/cell"
)

type ChunkKey struct {
	CX int
	CZ int
}

type Config struct {
	Seed int64

	// Vertical bounds, [MinY, MaxY).
	MinY int
	MaxY int
	// GroundY is the standing height of flat terrain.
	GroundY int
	// BoundaryR limits |x| and |z| (cells); 0 disables the border.
	BoundaryR int

	// Worldgen tuning.
	ObstaclePermille int
	HillPermille     int
	SpawnClearRadius int
}

func (c *Config) applyDefaults() {
	if c.MaxY <= c.MinY {
		c.MinY = -64
		c.MaxY = 320
	}
	if c.GroundY < c.MinY || c.GroundY >= c.MaxY-1 {
		c.GroundY = mathx.ClampInt(64, c.MinY, c.MaxY-2)
	}
	c.ObstaclePermille = mathx.ClampInt(c.ObstaclePermille, 0, 1000)
	c.HillPermille = mathx.ClampInt(c.HillPermille, 0, 1000)
}

type column struct {
	x, z int
}

// World is safe for concurrent readers; mutators take a write lock so tests
// can change terrain between (or during) searches.
type World struct {
	cfg Config

	mu       sync.RWMutex
	blocked  map[column]bool
	heights  map[column]int
	unloaded map[ChunkKey]struct{}
	hazards  []bias.Source
}

func New(cfg Config) *World {
	cfg.applyDefaults()
	return &World{
		cfg:      cfg,
		blocked:  map[column]bool{},
		heights:  map[column]int{},
		unloaded: map[ChunkKey]struct{}{},
	}
}

func (w *World) Config() Config { return w.cfg }

func chunkOf(x, z int) ChunkKey {
	return ChunkKey{CX: mathx.FloorDiv(x, cell.RegionSize), CZ: mathx.FloorDiv(z, cell.RegionSize)}
}

func withinSpawnClear(x, z, radius int) bool {
	if radius <= 0 {
		return false
	}
	r := int64(radius)
	dx := int64(x)
	dz := int64(z)
	return dx*dx+dz*dz <= r*r
}

// IsRegionLoaded reports whether the chunk column holding (x, z) is loaded.
func (w *World) IsRegionLoaded(x, z int) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, gone := w.unloaded[chunkOf(x, z)]
	return !gone
}

func (w *World) VerticalBounds() (int, int) { return w.cfg.MinY, w.cfg.MaxY }

// Contains implements the world border.
func (w *World) Contains(x, z int) bool {
	if w.cfg.BoundaryR <= 0 {
		return true
	}
	return mathx.AbsInt(x) <= w.cfg.BoundaryR && mathx.AbsInt(z) <= w.cfg.BoundaryR
}

// Blocked reports whether the column cannot be stood on.
func (w *World) Blocked(x, z int) bool {
	w.mu.RLock()
	b, ok := w.blocked[column{x, z}]
	w.mu.RUnlock()
	if ok {
		return b
	}
	if withinSpawnClear(x, z, w.cfg.SpawnClearRadius) {
		return false
	}
	return mathx.Hash3(w.cfg.Seed, x, w.cfg.GroundY, z)%1000 < uint64(w.cfg.ObstaclePermille)
}

// Height is the standing Y of the column.
func (w *World) Height(x, z int) int {
	w.mu.RLock()
	h, ok := w.heights[column{x, z}]
	w.mu.RUnlock()
	if ok {
		return h
	}
	if withinSpawnClear(x, z, w.cfg.SpawnClearRadius) {
		return w.cfg.GroundY
	}
	if mathx.Hash2(w.cfg.Seed, x, z)%1000 < uint64(w.cfg.HillPermille) {
		return w.cfg.GroundY + 1
	}
	return w.cfg.GroundY
}

// Surface returns the standing cell of a column.
func (w *World) Surface(x, z int) cell.Cell {
	return cell.New(x, w.Height(x, z), z)
}

func (w *World) SetBlocked(x, z int, blocked bool) {
	w.mu.Lock()
	w.blocked[column{x, z}] = blocked
	w.mu.Unlock()
}

// Wall blocks every column on the segment between two points on one axis.
func (w *World) Wall(x0, z0, x1, z1 int) {
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if z0 > z1 {
		z0, z1 = z1, z0
	}
	w.mu.Lock()
	for x := x0; x <= x1; x++ {
		for z := z0; z <= z1; z++ {
			w.blocked[column{x, z}] = true
		}
	}
	w.mu.Unlock()
}

func (w *World) SetHeight(x, z, y int) {
	w.mu.Lock()
	w.heights[column{x, z}] = mathx.ClampInt(y, w.cfg.MinY, w.cfg.MaxY-1)
	w.mu.Unlock()
}

func (w *World) UnloadChunk(cx, cz int) {
	w.mu.Lock()
	w.unloaded[ChunkKey{CX: cx, CZ: cz}] = struct{}{}
	w.mu.Unlock()
}

func (w *World) LoadChunk(cx, cz int) {
	w.mu.Lock()
	delete(w.unloaded, ChunkKey{CX: cx, CZ: cz})
	w.mu.Unlock()
}

func (w *World) AddHazard(s bias.Source) {
	w.mu.Lock()
	w.hazards = append(w.hazards, s)
	w.mu.Unlock()
}

// Hazards returns a snapshot of the current hazard sources.
func (w *World) Hazards() []bias.Source {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]bias.Source(nil), w.hazards...)
}
