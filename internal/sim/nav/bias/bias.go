// Package bias holds sparse per-cell cost multipliers consulted by the search.
//
// One mechanism serves two purposes: avoidance (coefficient > 1 around hazards)
// and favoring (coefficient < 1 along a previous path so replanning reuses the
// old route). A Map is built once per search and read-only afterwards.
package bias

import (
	"voxelpath.ai/internal/sim/nav/cell"
)

// Source is a spherical hazard or attractor.
type Source struct {
	Center      cell.Cell
	Radius      int
	Coefficient float64
	Label       string
}

type Map struct {
	m map[int64]float64
}

func New() *Map { return &Map{} }

// Multiplier returns the cost multiplier for c, 1.0 if unlisted.
func (b *Map) Multiplier(c cell.Cell) float64 {
	if b == nil || len(b.m) == 0 {
		return 1
	}
	if v, ok := b.m[c.Key()]; ok {
		return v
	}
	return 1
}

// MultiplierKey is Multiplier for an already packed cell key.
func (b *Map) MultiplierKey(k int64) float64 {
	if b == nil || len(b.m) == 0 {
		return 1
	}
	if v, ok := b.m[k]; ok {
		return v
	}
	return 1
}

func (b *Map) Empty() bool { return b == nil || len(b.m) == 0 }

func (b *Map) Len() int {
	if b == nil {
		return 0
	}
	return len(b.m)
}

func (b *Map) scale(k int64, coefficient float64) {
	if b.m == nil {
		b.m = make(map[int64]float64)
	}
	if v, ok := b.m[k]; ok {
		b.m[k] = v * coefficient
		return
	}
	b.m[k] = coefficient
}

// Set scales a single cell.
func (b *Map) Set(c cell.Cell, coefficient float64) {
	if coefficient == 1 || coefficient <= 0 {
		return
	}
	b.scale(c.Key(), coefficient)
}

// AddAvoidance scales every cell within the source's sphere. Overlapping
// sources multiply.
func (b *Map) AddAvoidance(s Source) {
	if s.Coefficient == 1 || s.Coefficient <= 0 || s.Radius < 0 {
		return
	}
	r := s.Radius
	r2 := r * r
	for dx := -r; dx <= r; dx++ {
		for dy := -r; dy <= r; dy++ {
			for dz := -r; dz <= r; dz++ {
				if dx*dx+dy*dy+dz*dz > r2 {
					continue
				}
				b.scale(cell.Pack(s.Center.X+dx, s.Center.Y+dy, s.Center.Z+dz), s.Coefficient)
			}
		}
	}
}

// AddFavoring scales each listed position once, ignoring duplicates.
func (b *Map) AddFavoring(positions []cell.Cell, coefficient float64) {
	if coefficient == 1 || coefficient <= 0 {
		return
	}
	seen := make(map[int64]struct{}, len(positions))
	for _, p := range positions {
		k := p.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		b.scale(k, coefficient)
	}
}

// Build assembles a Map from avoidance sources and an optional previous route.
func Build(sources []Source, previous []cell.Cell, backtrackCoefficient float64) *Map {
	b := New()
	for _, s := range sources {
		b.AddAvoidance(s)
	}
	if len(previous) > 0 {
		b.AddFavoring(previous, backtrackCoefficient)
	}
	return b
}
