// Package fluid implements a device-resident 2D fluid simulation: a
// double-buffered cell grid advanced each frame by compute dispatches on a
// gpu.Device, driven by localized influences registered from world space and
// visualized into an externally owned surface.
package fluid

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// CellStride is the number of float32 values per cell in a device buffer:
// velocity x, velocity y, density.
const CellStride = 3

// DefaultGridSize is the grid edge length used when none is configured.
const DefaultGridSize = 256

var (
	// ErrInvalidGridSize is returned when initializing with a non-positive grid size.
	ErrInvalidGridSize = errors.New("fluid: grid size must be positive")

	// ErrNotInitialized is returned for operations that need allocated buffers.
	ErrNotInitialized = errors.New("fluid: simulation not initialized")
)

// Vec2 is a 2D vector.
type Vec2 struct {
	X, Y float32
}

// Add returns v + o.
func (v Vec2) Add(o Vec2) Vec2 { return Vec2{v.X + o.X, v.Y + o.Y} }

// Sub returns v - o.
func (v Vec2) Sub(o Vec2) Vec2 { return Vec2{v.X - o.X, v.Y - o.Y} }

// Scale returns v * s.
func (v Vec2) Scale(s float32) Vec2 { return Vec2{v.X * s, v.Y * s} }

// Len returns the length of v.
func (v Vec2) Len() float32 {
	return float32(math.Sqrt(float64(v.X*v.X + v.Y*v.Y)))
}

// Cell is the state of one grid position.
type Cell struct {
	Velocity Vec2
	Density  float32
}

// IsZero reports whether the cell is at rest.
func (c Cell) IsZero() bool {
	return c.Velocity.X == 0 && c.Velocity.Y == 0 && c.Density == 0
}

// cellBase returns the buffer offset of cell (x, y) in an n×n grid.
func cellBase(x, y, n int) int {
	return (y*n + x) * CellStride
}

// EncodeCells flattens cells into buffer layout.
func EncodeCells(cells []Cell) []float32 {
	data := make([]float32, len(cells)*CellStride)
	for i, c := range cells {
		data[i*CellStride] = c.Velocity.X
		data[i*CellStride+1] = c.Velocity.Y
		data[i*CellStride+2] = c.Density
	}
	return data
}

// DecodeCells unpacks a buffer into cells. Trailing partial cells are ignored.
func DecodeCells(data []float32) []Cell {
	cells := make([]Cell, len(data)/CellStride)
	for i := range cells {
		base := i * CellStride
		cells[i] = Cell{
			Velocity: Vec2{data[base], data[base+1]},
			Density:  data[base+2],
		}
	}
	return cells
}

// InputRecord is one pending influence on one cell.
type InputRecord struct {
	Velocity Vec2
	Density  float32
	Radius   float32 // grid units
	Cell     [2]int
}

// Params are fixed for the lifetime of a run. Changing GridSize requires a
// full re-initialization.
type Params struct {
	GridSize  int
	Diffusion float32
	Viscosity float32
}

// GridSizeRecip returns 1/GridSize, or 0 for an unset grid.
func (p Params) GridSizeRecip() float32 {
	if p.GridSize <= 0 {
		return 0
	}
	return 1 / float32(p.GridSize)
}

// InitialState selects how freshly allocated buffers are filled.
type InitialState uint8

const (
	// InitialZero fills every cell with zero velocity and density.
	InitialZero InitialState = iota
	// InitialRandom gives every cell a unit velocity in a random direction
	// and zero density, deterministic for a seed.
	InitialRandom
)

func (s InitialState) String() string {
	switch s {
	case InitialZero:
		return "zero"
	case InitialRandom:
		return "random"
	default:
		return fmt.Sprintf("InitialState(%d)", uint8(s))
	}
}

// ParseInitialState converts a config name to an InitialState.
func ParseInitialState(name string) (InitialState, error) {
	switch name {
	case "zero", "":
		return InitialZero, nil
	case "random":
		return InitialRandom, nil
	default:
		return InitialZero, fmt.Errorf("fluid: unknown initial state %q", name)
	}
}

// initialCells builds buffer data for an n×n grid.
func initialCells(n int, state InitialState, seed int64) []float32 {
	data := make([]float32, n*n*CellStride)
	if state != InitialRandom {
		return data
	}

	rng := rand.New(rand.NewSource(seed))
	for i := 0; i < n*n; i++ {
		angle := rng.Float64() * 2 * math.Pi
		data[i*CellStride] = float32(math.Cos(angle))
		data[i*CellStride+1] = float32(math.Sin(angle))
	}
	return data
}
