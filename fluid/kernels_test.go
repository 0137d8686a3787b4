package fluid

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/pthm-cable/fluidsurface/gpu"
)

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newTestDevice(t *testing.T, opts gpu.DeviceOptions) (*gpu.Device, *gpu.EventLog) {
	t.Helper()
	log := gpu.NewEventLog()
	if opts.Recorder == nil {
		opts.Recorder = log
	}
	d := gpu.NewDevice(opts)
	t.Cleanup(func() { d.Close() })
	return d, log
}

// runUpdate applies one update step to prev and returns the new state.
func runUpdate(t *testing.T, n int, prev []float32, k UpdateKernel) []float32 {
	t.Helper()
	d, _ := newTestDevice(t, gpu.DeviceOptions{Workers: 4})
	ctx := testContext(t)

	src, dst := d.NewBufferHandle(), d.NewBufferHandle()
	k.GridSize = n
	k.Previous = src
	k.Current = dst

	out := make([]float32, n*n*CellStride)
	err := d.SubmitAndWait(ctx, "update",
		gpu.CreateBuffer{Handle: src, Usage: gridBufferUsage, Data: prev},
		gpu.CreateBuffer{Handle: dst, Usage: gridBufferUsage, Size: n * n * CellStride},
		gpu.Dispatch{Kernel: k, Groups: Workgroups2D(n)},
		gpu.ReadBuffer{Src: dst, Dst: out},
	)
	if err != nil {
		t.Fatalf("update batch: %v", err)
	}
	return out
}

func impulse(n, x, y int, c Cell) []float32 {
	data := make([]float32, n*n*CellStride)
	base := cellBase(x, y, n)
	data[base] = c.Velocity.X
	data[base+1] = c.Velocity.Y
	data[base+2] = c.Density
	return data
}

func TestWorkgroups2D(t *testing.T) {
	tests := []struct {
		n    int
		want uint32
	}{
		{1, 1}, {4, 1}, {8, 1}, {9, 2}, {256, 32},
	}
	for _, tt := range tests {
		if got := Workgroups2D(tt.n); got != [3]uint32{tt.want, tt.want, 1} {
			t.Errorf("Workgroups2D(%d) = %v", tt.n, got)
		}
	}
}

func TestUpdateZeroIsFixedPoint(t *testing.T) {
	n := 16
	out := runUpdate(t, n, make([]float32, n*n*CellStride), UpdateKernel{
		Diffusion: 0.5, Viscosity: 0.5, DeltaTime: 0.1,
	})
	for i, v := range out {
		if v != 0 {
			t.Fatalf("value %d = %v, want 0", i, v)
		}
	}
}

func TestUpdateIsLocal(t *testing.T) {
	n := 32
	c := n / 2
	prev := impulse(n, c, c, Cell{Velocity: Vec2{5, -5}, Density: 1})
	out := runUpdate(t, n, prev, UpdateKernel{Diffusion: 0.01, Viscosity: 0.01, DeltaTime: 0.05})

	changed := false
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			base := cellBase(x, y, n)
			nonzero := out[base] != 0 || out[base+1] != 0 || out[base+2] != 0
			dist := max(abs(x-c), abs(y-c))
			if dist > MaxBacktraceCells+1 && nonzero {
				t.Errorf("cell (%d,%d) at distance %d changed", x, y, dist)
			}
			if nonzero {
				changed = true
			}
		}
	}
	if !changed {
		t.Error("impulse should influence its neighbourhood")
	}
}

func TestUpdateDeltaTimeMonotonic(t *testing.T) {
	n := 8
	prev := impulse(n, 4, 4, Cell{Density: 1})

	var last float32 = -1
	for _, dt := range []float32{0, 0.001, 0.002, 0.004} {
		out := runUpdate(t, n, prev, UpdateKernel{Diffusion: 0.1, DeltaTime: dt})
		neighbour := out[cellBase(5, 4, n)+2]
		if neighbour < last {
			t.Errorf("dt=%v: neighbour density %v decreased from %v", dt, neighbour, last)
		}
		if dt == 0 && neighbour != 0 {
			t.Errorf("dt=0 should not spread density, got %v", neighbour)
		}
		last = neighbour
	}
	if last <= 0 {
		t.Error("density should spread for dt > 0")
	}
}

func TestUpdateConservesUniformField(t *testing.T) {
	n := 8
	cells := make([]Cell, n*n)
	for i := range cells {
		cells[i] = Cell{Velocity: Vec2{0.25, 0}, Density: 0.5}
	}
	out := runUpdate(t, n, EncodeCells(cells), UpdateKernel{Diffusion: 0.2, Viscosity: 0.2, DeltaTime: 0.01})
	for i, c := range DecodeCells(out) {
		if math.Abs(float64(c.Velocity.X-0.25)) > 1e-5 || math.Abs(float64(c.Density-0.5)) > 1e-5 {
			t.Fatalf("cell %d = %+v, want uniform field unchanged", i, c)
		}
	}
}

func TestSampleBilinear(t *testing.T) {
	n := 2
	data := EncodeCells([]Cell{
		{Density: 0}, {Density: 1},
		{Density: 2}, {Density: 3},
	})

	tests := []struct {
		x, y float32
		want float32
	}{
		{0, 0, 0},
		{1, 0, 1},
		{0.5, 0, 0.5},
		{0.5, 0.5, 1.5},
		{-3, -3, 0}, // clamped to edge
		{5, 5, 3},
	}
	for _, tt := range tests {
		_, _, d := sampleBilinear(data, n, tt.x, tt.y)
		if math.Abs(float64(d-tt.want)) > 1e-6 {
			t.Errorf("sample(%v,%v) = %v, want %v", tt.x, tt.y, d, tt.want)
		}
	}
}

func TestAddInputKernel(t *testing.T) {
	n := 4
	d, _ := newTestDevice(t, gpu.DeviceOptions{})
	ctx := testContext(t)

	buf := d.NewBufferHandle()
	records := []InputRecord{
		{Velocity: Vec2{1, 0}, Density: 1, Cell: [2]int{1, 1}},
		{Velocity: Vec2{1, 0}, Density: 1, Cell: [2]int{1, 1}}, // accumulates
		{Velocity: Vec2{0, 2}, Density: 0.5, Cell: [2]int{3, 0}},
		{Velocity: Vec2{9, 9}, Density: 9, Cell: [2]int{4, 0}},  // ignored
		{Velocity: Vec2{9, 9}, Density: 9, Cell: [2]int{-1, 2}}, // ignored
	}
	out := make([]float32, n*n*CellStride)
	err := d.SubmitAndWait(ctx, "inject",
		gpu.CreateBuffer{Handle: buf, Usage: gridBufferUsage, Size: n * n * CellStride},
		gpu.Dispatch{
			Kernel: AddInputKernel{GridSize: n, Records: records, Current: buf},
			Groups: [3]uint32{uint32(len(records)), 1, 1},
		},
		gpu.ReadBuffer{Src: buf, Dst: out},
	)
	if err != nil {
		t.Fatalf("inject batch: %v", err)
	}

	cells := DecodeCells(out)
	if got := cells[1*n+1]; got != (Cell{Velocity: Vec2{2, 0}, Density: 2}) {
		t.Errorf("cell (1,1) = %+v", got)
	}
	if got := cells[0*n+3]; got != (Cell{Velocity: Vec2{0, 2}, Density: 0.5}) {
		t.Errorf("cell (3,0) = %+v", got)
	}
	active := 0
	for _, c := range cells {
		if !c.IsZero() {
			active++
		}
	}
	if active != 2 {
		t.Errorf("expected 2 touched cells, got %d", active)
	}
}

func TestUnorm8(t *testing.T) {
	tests := []struct {
		in   float32
		want uint8
	}{
		{-1, 0}, {0, 0}, {0.5, 128}, {1, 255}, {7, 255},
	}
	for _, tt := range tests {
		if got := unorm8(tt.in); got != tt.want {
			t.Errorf("unorm8(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
