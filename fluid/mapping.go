package fluid

import "math"

// Bounds is the world-space rectangle covered by the grid, centered on Origin.
type Bounds struct {
	Origin     Vec2
	HalfExtent Vec2
}

// GridMapping converts world-space locations and radii to grid space.
type GridMapping struct {
	Bounds   Bounds
	GridSize int
}

// NewGridMapping creates a mapping. A non-positive half extent on an axis
// defaults to the grid size, one world unit per half cell.
func NewGridMapping(b Bounds, gridSize int) GridMapping {
	if b.HalfExtent.X <= 0 {
		b.HalfExtent.X = float32(gridSize)
	}
	if b.HalfExtent.Y <= 0 {
		b.HalfExtent.Y = float32(gridSize)
	}
	return GridMapping{Bounds: b, GridSize: gridSize}
}

// Normalize maps a world location into [-1, 1] per axis for points inside the bounds.
func (m GridMapping) Normalize(world Vec2) Vec2 {
	d := world.Sub(m.Bounds.Origin)
	return Vec2{d.X / m.Bounds.HalfExtent.X, d.Y / m.Bounds.HalfExtent.Y}
}

// Contains reports whether world lies inside the bounds.
func (m GridMapping) Contains(world Vec2) bool {
	n := m.Normalize(world)
	return n.X >= -1 && n.X <= 1 && n.Y >= -1 && n.Y <= 1
}

// ToGrid maps a world location to continuous grid coordinates.
func (m GridMapping) ToGrid(world Vec2) Vec2 {
	n := m.Normalize(world)
	size := float32(m.GridSize)
	return Vec2{
		(n.X + 1) * 0.5 * size,
		(n.Y + 1) * 0.5 * size,
	}
}

// ScaleRadius converts a world radius to grid units on each axis.
func (m GridMapping) ScaleRadius(radius float32) Vec2 {
	half := 0.5 * float32(m.GridSize)
	return Vec2{
		radius * half / m.Bounds.HalfExtent.X,
		radius * half / m.Bounds.HalfExtent.Y,
	}
}

// ScaleVelocity converts a world-space velocity to grid domain units per
// second, where the full grid spans one unit on each axis.
func (m GridMapping) ScaleVelocity(v Vec2) Vec2 {
	return Vec2{
		v.X * 0.5 / m.Bounds.HalfExtent.X,
		v.Y * 0.5 / m.Bounds.HalfExtent.Y,
	}
}

// CellRange is an inclusive rectangle of grid cells.
type CellRange struct {
	X0, X1, Y0, Y1 int
}

// Empty reports whether the range holds no cells.
func (r CellRange) Empty() bool { return r.X0 > r.X1 || r.Y0 > r.Y1 }

// Count returns the number of cells in the range.
func (r CellRange) Count() int {
	if r.Empty() {
		return 0
	}
	return (r.X1 - r.X0 + 1) * (r.Y1 - r.Y0 + 1)
}

// Cells returns the bounding square of a world-space circle, clamped to the grid.
func (m GridMapping) Cells(world Vec2, radius float32) CellRange {
	g := m.ToGrid(world)
	r := m.ScaleRadius(radius)
	x0, x1 := clampSpan(g.X, r.X, m.GridSize)
	y0, y1 := clampSpan(g.Y, r.Y, m.GridSize)
	return CellRange{X0: x0, X1: x1, Y0: y0, Y1: y1}
}

// clampSpan returns [floor(c-r), floor(c+r)] clamped to [0, n). The result
// is empty (lo > hi) when the span lies outside the grid.
func clampSpan(c, r float32, n int) (lo, hi int) {
	lo = int(math.Floor(float64(c - r)))
	hi = int(math.Floor(float64(c + r)))
	if lo < 0 {
		lo = 0
	}
	if hi > n-1 {
		hi = n - 1
	}
	return lo, hi
}
