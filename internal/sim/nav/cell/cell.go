package cell

import (
	"fmt"

	"voxelpath.ai/internal/sim/mathx"
)

// RegionSize is the horizontal edge length of a world region (chunk) in cells.
const RegionSize = 16

// Packing layout: 26 bits X, 12 bits Y, 26 bits Z (two's complement per field).
const (
	xzBits = 26
	yBits  = 12

	xzMask = 1<<xzBits - 1
	yMask  = 1<<yBits - 1

	zShift = 0
	yShift = xzBits
	xShift = xzBits + yBits
)

// Limits of coordinates that survive Pack/Unpack unchanged.
const (
	MaxXZ = 1<<(xzBits-1) - 1
	MinXZ = -(1 << (xzBits - 1))
	MaxY  = 1<<(yBits-1) - 1
	MinY  = -(1 << (yBits - 1))
)

type Cell struct {
	X int
	Y int
	Z int
}

func New(x, y, z int) Cell { return Cell{X: x, Y: y, Z: z} }

func (c Cell) Add(dx, dy, dz int) Cell {
	return Cell{X: c.X + dx, Y: c.Y + dy, Z: c.Z + dz}
}

func (c Cell) Up() Cell   { return c.Add(0, 1, 0) }
func (c Cell) Down() Cell { return c.Add(0, -1, 0) }

// Key packs the cell into a 64-bit map key.
func (c Cell) Key() int64 { return Pack(c.X, c.Y, c.Z) }

func (c Cell) String() string { return fmt.Sprintf("(%d,%d,%d)", c.X, c.Y, c.Z) }

// Region returns the coordinates of the region (chunk column) containing c.
func (c Cell) Region() (rx, rz int) {
	return mathx.FloorDiv(c.X, RegionSize), mathx.FloorDiv(c.Z, RegionSize)
}

func Pack(x, y, z int) int64 {
	return int64(uint64(x&xzMask)<<xShift | uint64(y&yMask)<<yShift | uint64(z&xzMask)<<zShift)
}

func Unpack(k int64) Cell {
	u := uint64(k)
	return Cell{
		X: signExtend(int64(u>>xShift)&xzMask, xzBits),
		Y: signExtend(int64(u>>yShift)&yMask, yBits),
		Z: signExtend(int64(u>>zShift)&xzMask, xzBits),
	}
}

func signExtend(v int64, bits uint) int {
	shift := 64 - bits
	return int((v << shift) >> shift)
}

func DistSq(a, b Cell) int {
	dx := a.X - b.X
	dy := a.Y - b.Y
	dz := a.Z - b.Z
	return dx*dx + dy*dy + dz*dz
}

func Manhattan(a, b Cell) int {
	return mathx.AbsInt(a.X-b.X) + mathx.AbsInt(a.Y-b.Y) + mathx.AbsInt(a.Z-b.Z)
}

// Chebyshev is the largest per-axis distance between a and b.
func Chebyshev(a, b Cell) int {
	d := mathx.AbsInt(a.X - b.X)
	d = mathx.MaxInt(d, mathx.AbsInt(a.Y-b.Y))
	return mathx.MaxInt(d, mathx.AbsInt(a.Z-b.Z))
}
