package fluid

import (
	"context"
	"fmt"

	"github.com/gogpu/gputypes"

	"github.com/pthm-cable/fluidsurface/gpu"
)

// gridBufferUsage is the usage of both grid buffers: bound as storage by the
// kernels and copied between each other every frame.
const gridBufferUsage = gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst

// Buffer selects one of the two grid buffers.
type Buffer uint8

const (
	BufferCurrent Buffer = iota
	BufferSpare
)

func (b Buffer) String() string {
	if b == BufferSpare {
		return "spare"
	}
	return "current"
}

// GridStore owns the current and spare grid buffers. It is the only
// component that allocates or frees them; everything else passes handles.
type GridStore struct {
	device  *gpu.Device
	initial InitialState
	seed    int64

	gridSize int
	current  gpu.BufferHandle
	spare    gpu.BufferHandle
}

// NewGridStore creates an empty store on d.
func NewGridStore(d *gpu.Device, initial InitialState, seed int64) *GridStore {
	return &GridStore{device: d, initial: initial, seed: seed}
}

// MaxGridSize is the largest grid edge a store accepts. Larger grids are
// reported as out of memory before any host or device memory is touched.
const MaxGridSize = 1 << 15

// gridBytes returns the device bytes one n×n grid buffer occupies.
func gridBytes(n int) int64 {
	return int64(n) * int64(n) * CellStride * 4
}

// Initialize (re)allocates both buffers for an n×n grid and blocks until
// they exist on the device. In-flight work on the old buffers is waited
// for before they are released. On failure, including cancellation, the
// store is left empty and anything the create batch bound is released.
func (s *GridStore) Initialize(ctx context.Context, gridSize int) error {
	var fence gpu.CommandFence
	fence.Begin(s.device)
	if err := fence.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for in-flight work: %w", err)
	}
	s.Release()

	if gridSize <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidGridSize, gridSize)
	}
	if gridSize > MaxGridSize {
		return fmt.Errorf("%dx%d grid exceeds %d: %w", gridSize, gridSize, MaxGridSize, gpu.ErrOutOfMemory)
	}
	need := 2 * gridBytes(gridSize)
	if budget := s.device.MemoryBudget(); budget > 0 && need > budget {
		return fmt.Errorf("%dx%d grid needs %d bytes, budget %d: %w", gridSize, gridSize, need, budget, gpu.ErrOutOfMemory)
	}

	data := initialCells(gridSize, s.initial, s.seed)
	spareData := make([]float32, len(data))
	copy(spareData, data)

	current, spare := s.device.NewBufferHandle(), s.device.NewBufferHandle()
	err := s.device.SubmitAndWait(ctx, "fluid: create grid",
		gpu.CreateBuffer{Handle: current, Label: "fluid current", Usage: gridBufferUsage, Data: data},
		gpu.CreateBuffer{Handle: spare, Label: "fluid spare", Usage: gridBufferUsage, Data: spareData},
	)
	if err != nil {
		// Queued behind the create batch, so it runs even if ctx gave up first
		s.device.Submit("fluid: release partial grid",
			gpu.ReleaseBuffer{Handle: current, IfExists: true},
			gpu.ReleaseBuffer{Handle: spare, IfExists: true},
		)
		return fmt.Errorf("allocating %dx%d grid: %w", gridSize, gridSize, err)
	}

	s.gridSize = gridSize
	s.current = current
	s.spare = spare
	return nil
}

// Release enqueues release of both buffers. Redundant calls are no-ops.
// Work already submitted against the buffers runs first.
func (s *GridStore) Release() {
	if !s.Allocated() {
		return
	}
	s.device.Submit("fluid: release grid",
		gpu.ReleaseBuffer{Handle: s.current},
		gpu.ReleaseBuffer{Handle: s.spare},
	)
	s.current = gpu.BufferHandle{}
	s.spare = gpu.BufferHandle{}
	s.gridSize = 0
}

// Allocated reports whether the store holds buffers.
func (s *GridStore) Allocated() bool { return s.current.Valid() }

// GridSize returns the edge length of the allocated grid, or 0.
func (s *GridStore) GridSize() int { return s.gridSize }

// Current returns the handle of the authoritative buffer.
func (s *GridStore) Current() gpu.BufferHandle { return s.current }

// Spare returns the handle of the scratch buffer.
func (s *GridStore) Spare() gpu.BufferHandle { return s.spare }

// Handle returns the handle for b.
func (s *GridStore) Handle(b Buffer) gpu.BufferHandle {
	if b == BufferSpare {
		return s.spare
	}
	return s.current
}

// Bytes returns the device memory held by both buffers.
func (s *GridStore) Bytes() int64 {
	return 2 * gridBytes(s.gridSize)
}

// ReadRaw blocks until every earlier batch has run and returns a copy of b.
func (s *GridStore) ReadRaw(ctx context.Context, b Buffer) ([]float32, error) {
	if !s.Allocated() {
		return nil, ErrNotInitialized
	}
	out := make([]float32, s.gridSize*s.gridSize*CellStride)
	if err := s.device.SubmitAndWait(ctx, "fluid: readback "+b.String(), gpu.ReadBuffer{Src: s.Handle(b), Dst: out}); err != nil {
		return nil, fmt.Errorf("reading %s buffer: %w", b, err)
	}
	return out, nil
}

// Readback returns a copy of b as cells.
func (s *GridStore) Readback(ctx context.Context, b Buffer) ([]Cell, error) {
	data, err := s.ReadRaw(ctx, b)
	if err != nil {
		return nil, err
	}
	return DecodeCells(data), nil
}
