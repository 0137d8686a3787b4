package fluid

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/pthm-cable/fluidsurface/gpu"
	"github.com/pthm-cable/fluidsurface/telemetry"
)

// State is the lifecycle state of a Simulation.
type State uint32

const (
	StateUninitialized State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "running"
	}
	return "uninitialized"
}

// FrameReport describes one executed frame. It is built on the device's
// execution goroutine after the frame's last stage.
type FrameReport struct {
	Frame    uint64
	Fence    uint64
	Inputs   int
	Drawn    bool
	SimTime  float64
	Measured bool
	Field    telemetry.FieldStats // Set when Measured
}

// FrameObserver receives frame reports on the execution goroutine. It must
// not submit to the device and should return quickly.
type FrameObserver func(FrameReport)

// Options configures a Simulation.
type Options struct {
	// Device runs the simulation. If nil, the simulation creates one and
	// closes it in Close.
	Device *gpu.Device

	Diffusion    float32
	Viscosity    float32
	Bounds       Bounds
	InitialState InitialState
	Seed         int64

	Logger   *slog.Logger
	Observer FrameObserver

	// Perf times frame stages on the execution goroutine. It must not be
	// used from any other goroutine while the simulation runs, except from
	// inside Observer.
	Perf *telemetry.PerfCollector

	// StatsInterval is the number of frames between field measurements
	// passed to Observer. 0 or 1 measures every frame.
	StatsInterval int
}

// Simulation is the frame orchestrator. Init, Tick, Teardown, and the draw
// calls belong to a single control goroutine; RegisterInfluence may be
// called from any goroutine.
type Simulation struct {
	device     *gpu.Device
	ownsDevice bool
	logger     *slog.Logger
	observer   FrameObserver
	perf       *telemetry.PerfCollector
	interval   uint64

	store  *GridStore
	queue  *InputQueue
	fence  gpu.CommandFence
	bounds Bounds
	params Params

	state   atomic.Uint32
	target  atomic.Pointer[gpu.Surface]
	frame   uint64
	simTime float64
}

// New creates an uninitialized simulation.
func New(opts Options) *Simulation {
	s := &Simulation{
		device:   opts.Device,
		logger:   opts.Logger,
		observer: opts.Observer,
		perf:     opts.Perf,
		bounds:   opts.Bounds,
		params: Params{
			Diffusion: nonNegative(opts.Diffusion),
			Viscosity: nonNegative(opts.Viscosity),
		},
	}
	if s.device == nil {
		s.device = gpu.NewDevice(gpu.DeviceOptions{})
		s.ownsDevice = true
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.interval = 1
	if opts.StatsInterval > 1 {
		s.interval = uint64(opts.StatsInterval)
	}
	s.store = NewGridStore(s.device, opts.InitialState, opts.Seed)
	s.queue = NewInputQueue(GridMapping{})
	return s
}

// nonNegative clamps negative and NaN coefficients to 0. A negative
// coefficient can zero the relaxation denominator of the update kernel.
func nonNegative(v float32) float32 {
	if v >= 0 {
		return v
	}
	return 0
}

// Init tears down any previous run and allocates an n×n grid. It returns
// false, with nothing allocated, on failure.
func (s *Simulation) Init(gridSize int) bool {
	if err := s.InitContext(context.Background(), gridSize); err != nil {
		s.logger.Error("fluid init failed", "grid_size", gridSize, "error", err)
		return false
	}
	return true
}

// InitContext is Init with cancellation and the underlying error.
func (s *Simulation) InitContext(ctx context.Context, gridSize int) error {
	if err := s.Teardown(ctx); err != nil {
		return err
	}
	if err := s.store.Initialize(ctx, gridSize); err != nil {
		return err
	}

	s.params.GridSize = gridSize
	s.queue.SetMapping(NewGridMapping(s.bounds, gridSize))
	s.frame = 0
	s.simTime = 0
	s.state.Store(uint32(StateRunning))

	s.logger.Info("fluid initialized",
		"grid_size", gridSize,
		"bytes", s.store.Bytes(),
		"diffusion", s.params.Diffusion,
		"viscosity", s.params.Viscosity,
	)
	return nil
}

// State returns the lifecycle state.
func (s *Simulation) State() State { return State(s.state.Load()) }

// Params returns the simulation parameters of the current run.
func (s *Simulation) Params() Params { return s.params }

// GridSize returns the grid edge length, or 0 when uninitialized.
func (s *Simulation) GridSize() int { return s.store.GridSize() }

// Mapping returns the world-to-grid mapping of the current run.
func (s *Simulation) Mapping() GridMapping { return s.queue.Mapping() }

// Device returns the device the simulation runs on.
func (s *Simulation) Device() *gpu.Device { return s.device }

// Frame returns the number of frames ticked since Init.
func (s *Simulation) Frame() uint64 { return s.frame }

// PendingInputs returns the number of records waiting for the next frame.
func (s *Simulation) PendingInputs() int { return s.queue.Len() }

// RegisterInfluence queues a world-space influence for the next frame.
// Returns the number of cells affected; 0 when not running.
func (s *Simulation) RegisterInfluence(world, velocity Vec2, radius, strength float32) int {
	if s.State() != StateRunning {
		return 0
	}
	return s.queue.Register(world, velocity, radius, strength)
}

// SetRenderTarget binds a surface drawn at the end of every frame. Pass nil
// to unbind.
func (s *Simulation) SetRenderTarget(surface *gpu.Surface) {
	s.target.Store(surface)
}

// RenderTarget returns the bound surface.
func (s *Simulation) RenderTarget() *gpu.Surface { return s.target.Load() }

// DrawToRenderTarget enqueues a draw of the current state into surface.
// The draw is skipped when the simulation is not running or the surface is
// not gridSize×gridSize. Returns whether a draw was enqueued.
func (s *Simulation) DrawToRenderTarget(surface *gpu.Surface) bool {
	if s.State() != StateRunning {
		return false
	}
	cmds := s.drawCommands(surface)
	if cmds == nil {
		return false
	}
	s.device.Submit("fluid: draw", cmds...)
	return true
}

// drawCommands returns the draw stage for surface, or nil if it does not fit.
func (s *Simulation) drawCommands(surface *gpu.Surface) []gpu.Command {
	n := s.params.GridSize
	if surface == nil {
		return nil
	}
	if w, h := surface.Width(), surface.Height(); w != n || h != n {
		s.logger.Debug("fluid draw skipped", "surface_width", w, "surface_height", h, "grid_size", n)
		return nil
	}

	tex := s.device.NewTextureHandle()
	desc := gpu.TextureDescriptor{
		Label:  "fluid draw target",
		Size:   gputypes.Extent3D{Width: uint32(n), Height: uint32(n), DepthOrArrayLayers: 1},
		Format: surface.Format(),
		Usage:  gputypes.TextureUsageCopySrc | gputypes.TextureUsageTextureBinding,
	}
	return []gpu.Command{
		gpu.AcquireTexture{Handle: tex, Desc: desc},
		gpu.Dispatch{
			Kernel: DrawKernel{GridSize: n, Fluid: s.store.Current(), Out: tex},
			Groups: Workgroups2D(n),
		},
		gpu.CopyToSurface{Src: tex, Dst: surface, SkipMismatch: true},
		gpu.ReleaseTexture{Handle: tex},
	}
}

// Tick enqueues one frame: copy current into spare, update from spare into
// current, inject the flushed inputs, and draw into the bound surface. The
// whole frame is one batch. Tick never blocks on the device.
func (s *Simulation) Tick(dt float32) {
	s.fence.Begin(s.device)
	if s.State() != StateRunning {
		return
	}
	if dt < 0 {
		dt = 0
	}

	n := s.params.GridSize
	current, spare := s.store.Current(), s.store.Spare()
	s.frame++
	s.simTime += float64(dt)

	cmds := make([]gpu.Command, 0, 16)
	cmds = append(cmds, s.perfStage(telemetry.PhaseCopy, true)...)
	cmds = append(cmds, gpu.CopyBuffer{Src: current, Dst: spare})

	records := s.queue.Flush()

	cmds = append(cmds, s.perfStage(telemetry.PhaseUpdate, false)...)
	cmds = append(cmds, gpu.Dispatch{
		Kernel: UpdateKernel{
			GridSize:  n,
			Diffusion: s.params.Diffusion,
			Viscosity: s.params.Viscosity,
			DeltaTime: dt,
			Previous:  spare,
			Current:   current,
		},
		Groups: Workgroups2D(n),
	})

	if len(records) > 0 {
		cmds = append(cmds, s.perfStage(telemetry.PhaseInject, false)...)
		cmds = append(cmds, gpu.Dispatch{
			Kernel: AddInputKernel{GridSize: n, Records: records, Current: current},
			Groups: [3]uint32{uint32(len(records)), 1, 1},
		})
	}

	drawn := false
	if target := s.target.Load(); target != nil {
		if draw := s.drawCommands(target); draw != nil {
			cmds = append(cmds, s.perfStage(telemetry.PhaseDraw, false)...)
			cmds = append(cmds, draw...)
			drawn = true
		}
	}

	if s.observer != nil || s.perf != nil {
		cmds = append(cmds, s.reportCommand(FrameReport{
			Frame:   s.frame,
			Inputs:  len(records),
			Drawn:   drawn,
			SimTime: s.simTime,
		}, current))
	}

	s.device.Submit("fluid: frame", cmds...)
}

// perfStage returns a callback marking the start of a stage, or nothing
// when perf collection is off.
func (s *Simulation) perfStage(phase string, first bool) []gpu.Command {
	if s.perf == nil {
		return nil
	}
	perf := s.perf
	return []gpu.Command{gpu.Callback{Label: "perf", Fn: func(*gpu.ExecContext) error {
		if first {
			perf.StartTick()
		}
		perf.StartPhase(phase)
		return nil
	}}}
}

// reportCommand finishes the frame's timing and delivers its report.
func (s *Simulation) reportCommand(rep FrameReport, current gpu.BufferHandle) gpu.Command {
	n := s.params.GridSize
	perf, observer := s.perf, s.observer
	measure := observer != nil && rep.Frame%s.interval == 0

	return gpu.Callback{Label: "report", Fn: func(ec *gpu.ExecContext) error {
		if perf != nil {
			perf.StartPhase(telemetry.PhaseReport)
		}
		rep.Fence = ec.Fence()
		if measure {
			data, err := ec.Buffer(current)
			if err != nil {
				return err
			}
			rep.Field = telemetry.MeasureField(data, n)
			rep.Field.Frame = int64(rep.Frame)
			rep.Field.SimTimeSec = rep.SimTime
			rep.Field.Inputs = rep.Inputs
			rep.Measured = true
		}
		if perf != nil {
			perf.EndTick()
		}
		if observer != nil {
			observer(rep)
		}
		return nil
	}}
}

// Flush blocks until every submitted frame has executed.
func (s *Simulation) Flush(ctx context.Context) error {
	return s.device.Flush(ctx)
}

// Readback blocks until submitted frames have executed and returns a copy
// of the current grid.
func (s *Simulation) Readback(ctx context.Context) ([]Cell, error) {
	return s.store.Readback(ctx, BufferCurrent)
}

// Teardown waits for all submitted work, then releases the grid buffers and
// drops pending inputs. The simulation returns to StateUninitialized.
func (s *Simulation) Teardown(ctx context.Context) error {
	s.fence.Begin(s.device)
	if err := s.fence.Wait(ctx); err != nil {
		return err
	}
	if s.store.Allocated() {
		s.logger.Debug("fluid teardown", "frames", s.frame, "fence", s.fence.Target())
	}
	s.state.Store(uint32(StateUninitialized))
	s.store.Release()
	s.queue.Clear()
	return nil
}

// Close tears down and, if the simulation created its device, stops it.
func (s *Simulation) Close(ctx context.Context) error {
	if err := s.Teardown(ctx); err != nil {
		return err
	}
	if s.ownsDevice {
		return s.device.Close()
	}
	return nil
}
