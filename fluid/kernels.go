package fluid

import (
	"fmt"
	"math"

	"github.com/pthm-cable/fluidsurface/gpu"
)

// Kernel labels. They match the WGSL entry files in fluid/shaders.
const (
	LabelUpdate   = "fluid_update"
	LabelAddInput = "fluid_add_input"
	LabelDraw     = "fluid_draw"
)

// WorkgroupSize is the edge length of the 2D workgroups used by the update
// and draw kernels.
const WorkgroupSize = 8

// MaxBacktraceCells bounds the semi-Lagrangian backtrace so a cell only ever
// reads a fixed neighbourhood of the previous state.
const MaxBacktraceCells = 2

// Workgroups2D returns the dispatch size covering an n×n grid.
func Workgroups2D(n int) [3]uint32 {
	g := uint32((n + WorkgroupSize - 1) / WorkgroupSize)
	return [3]uint32{g, g, 1}
}

// gridBuffer returns the buffer behind h, checked against an n×n grid.
func gridBuffer(ec *gpu.ExecContext, h gpu.BufferHandle, n int) ([]float32, error) {
	data, err := ec.Buffer(h)
	if err != nil {
		return nil, err
	}
	if len(data) < n*n*CellStride {
		return nil, fmt.Errorf("buffer of %d values for %dx%d grid: %w", len(data), n, n, gpu.ErrSizeMismatch)
	}
	return data, nil
}

// coveredRows returns how many grid rows the dispatch reaches.
func coveredRows(groups [3]uint32, n int) (cols, rows int) {
	cols = min(int(groups[0])*WorkgroupSize, n)
	rows = min(int(groups[1])*WorkgroupSize, n)
	return cols, rows
}

// UpdateKernel advances the grid one step, reading Previous and writing
// Current. Per cell it backtraces along the local velocity, samples the
// previous state there, and applies one implicit Jacobi relaxation of
// viscosity and diffusion against the 4-neighbourhood.
type UpdateKernel struct {
	GridSize  int
	Diffusion float32
	Viscosity float32
	DeltaTime float32
	Previous  gpu.BufferHandle
	Current   gpu.BufferHandle
}

func (k UpdateKernel) Label() string { return LabelUpdate }

func (k UpdateKernel) Execute(ec *gpu.ExecContext, groups [3]uint32) error {
	n := k.GridSize
	prev, err := gridBuffer(ec, k.Previous, n)
	if err != nil {
		return fmt.Errorf("previous: %w", err)
	}
	cur, err := gridBuffer(ec, k.Current, n)
	if err != nil {
		return fmt.Errorf("current: %w", err)
	}

	cols, rows := coveredRows(groups, n)
	ec.Parallel(rows, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := 0; x < cols; x++ {
				k.updateCell(prev, cur, x, y)
			}
		}
	})
	return nil
}

func (k UpdateKernel) updateCell(prev, cur []float32, x, y int) {
	n := k.GridSize
	size := float32(n)
	base := cellBase(x, y, n)

	// Advection: trace back along the local velocity
	dt0 := k.DeltaTime * size
	dx := clampf(prev[base]*dt0, -MaxBacktraceCells, MaxBacktraceCells)
	dy := clampf(prev[base+1]*dt0, -MaxBacktraceCells, MaxBacktraceCells)
	avx, avy, ad := sampleBilinear(prev, n, float32(x)-dx, float32(y)-dy)

	// Neighbour sums, clamp-to-edge
	var nvx, nvy, nd float32
	for _, o := range [4][2]int{{0, -1}, {0, 1}, {-1, 0}, {1, 0}} {
		nb := cellBase(clampi(x+o[0], 0, n-1), clampi(y+o[1], 0, n-1), n)
		nvx += prev[nb]
		nvy += prev[nb+1]
		nd += prev[nb+2]
	}

	scale := k.DeltaTime * size * size
	aVel := k.Viscosity * scale
	aDen := k.Diffusion * scale

	cur[base] = (avx + aVel*nvx) / (1 + 4*aVel)
	cur[base+1] = (avy + aVel*nvy) / (1 + 4*aVel)
	cur[base+2] = (ad + aDen*nd) / (1 + 4*aDen)
}

// sampleBilinear interpolates a cell buffer at continuous grid coordinates,
// clamping to the grid edge.
func sampleBilinear(data []float32, n int, px, py float32) (vx, vy, d float32) {
	maxc := float32(n - 1)
	px = clampf(px, 0, maxc)
	py = clampf(py, 0, maxc)

	fx0 := float32(math.Floor(float64(px)))
	fy0 := float32(math.Floor(float64(py)))
	tx := px - fx0
	ty := py - fy0

	x0, y0 := int(fx0), int(fy0)
	x1, y1 := min(x0+1, n-1), min(y0+1, n-1)

	a := cellBase(x0, y0, n)
	b := cellBase(x1, y0, n)
	c := cellBase(x0, y1, n)
	e := cellBase(x1, y1, n)

	lerp := func(i int) float32 {
		top := data[a+i] + (data[b+i]-data[a+i])*tx
		bottom := data[c+i] + (data[e+i]-data[c+i])*tx
		return top + (bottom-top)*ty
	}
	return lerp(0), lerp(1), lerp(2)
}

// AddInputKernel adds queued records to Current. Records are applied in
// order; records outside the grid are ignored.
type AddInputKernel struct {
	GridSize int
	Records  []InputRecord
	Current  gpu.BufferHandle
}

func (k AddInputKernel) Label() string { return LabelAddInput }

func (k AddInputKernel) Execute(ec *gpu.ExecContext, groups [3]uint32) error {
	n := k.GridSize
	cur, err := gridBuffer(ec, k.Current, n)
	if err != nil {
		return fmt.Errorf("current: %w", err)
	}

	count := min(int(groups[0]), len(k.Records))
	for _, r := range k.Records[:count] {
		x, y := r.Cell[0], r.Cell[1]
		if x < 0 || y < 0 || x >= n || y >= n {
			continue
		}
		base := cellBase(x, y, n)
		cur[base] += r.Velocity.X
		cur[base+1] += r.Velocity.Y
		cur[base+2] += r.Density
	}
	return nil
}

// DrawKernel writes one RGBA8 texel per cell into Out: red and green encode
// velocity remapped from [-1, 1], blue encodes density. It only reads Fluid.
type DrawKernel struct {
	GridSize int
	Fluid    gpu.BufferHandle
	Out      gpu.TextureHandle
}

func (k DrawKernel) Label() string { return LabelDraw }

func (k DrawKernel) Execute(ec *gpu.ExecContext, groups [3]uint32) error {
	n := k.GridSize
	data, err := gridBuffer(ec, k.Fluid, n)
	if err != nil {
		return fmt.Errorf("fluid: %w", err)
	}
	tex, err := ec.Texture(k.Out)
	if err != nil {
		return fmt.Errorf("out: %w", err)
	}
	if tex.Desc.Width() != n || tex.Desc.Height() != n {
		return fmt.Errorf("%dx%d target for %dx%d grid: %w", tex.Desc.Width(), tex.Desc.Height(), n, n, gpu.ErrSizeMismatch)
	}

	cols, rows := coveredRows(groups, n)
	ec.Parallel(rows, func(y0, y1 int) {
		for y := y0; y < y1; y++ {
			for x := 0; x < cols; x++ {
				base := cellBase(x, y, n)
				px := (y*n + x) * 4
				tex.Pix[px] = unorm8(0.5 + 0.5*data[base])
				tex.Pix[px+1] = unorm8(0.5 + 0.5*data[base+1])
				tex.Pix[px+2] = unorm8(data[base+2])
				tex.Pix[px+3] = 255
			}
		}
	})
	return nil
}

// unorm8 converts a [0, 1] value to a byte, clamping out-of-range values.
func unorm8(v float32) uint8 {
	return uint8(clampf(v, 0, 1)*255 + 0.5)
}

func clampf(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampi(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
