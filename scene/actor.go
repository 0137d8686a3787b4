// Package scene places a fluid surface in a world of moving bodies: the actor
// owns the simulation and its output surface, and the scene drives bodies,
// forwards their movement to the actor, and ticks it.
package scene

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pthm-cable/fluidsurface/fluid"
	"github.com/pthm-cable/fluidsurface/gpu"
)

// ActorOptions configures an Actor.
type ActorOptions struct {
	GridSize      int
	Bounds        fluid.Bounds
	Material      *Material // Created if nil
	ParameterName string    // Defaults to DefaultParameterName
	Simulation    fluid.Options
	Logger        *slog.Logger
}

// Actor owns a fluid simulation covering a world-space rectangle and the
// surface it draws into. The surface is bound to a material parameter so
// renderers can sample it without knowing about the simulation.
type Actor struct {
	gridSize  int
	bounds    fluid.Bounds
	paramName string
	material  *Material
	simOpts   fluid.Options
	logger    *slog.Logger

	sim     *fluid.Simulation
	surface *gpu.Surface
}

// NewActor creates an actor. Nothing is allocated until InitResources.
func NewActor(opts ActorOptions) *Actor {
	a := &Actor{
		gridSize:  opts.GridSize,
		bounds:    opts.Bounds,
		paramName: opts.ParameterName,
		material:  opts.Material,
		simOpts:   opts.Simulation,
		logger:    opts.Logger,
	}
	if a.gridSize == 0 {
		a.gridSize = fluid.DefaultGridSize
	}
	if a.paramName == "" {
		a.paramName = DefaultParameterName
	}
	if a.material == nil {
		a.material = NewMaterial("fluid surface")
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	a.simOpts.Bounds = a.bounds
	if a.simOpts.Logger == nil {
		a.simOpts.Logger = a.logger
	}
	return a
}

// InitResources creates the simulation, allocates the grid, and binds a
// gridSize×gridSize surface to the material parameter. Calling it again
// re-initializes the grid in place.
func (a *Actor) InitResources(ctx context.Context) error {
	if a.sim == nil {
		a.sim = fluid.New(a.simOpts)
	}
	if err := a.sim.InitContext(ctx, a.gridSize); err != nil {
		return fmt.Errorf("initializing fluid: %w", err)
	}

	if a.surface == nil {
		a.surface = gpu.NewSurface(a.gridSize, a.gridSize)
	} else if a.surface.Width() != a.gridSize || a.surface.Height() != a.gridSize {
		a.surface.Resize(a.gridSize, a.gridSize)
	}
	a.sim.SetRenderTarget(a.surface)
	a.material.SetTextureParameter(a.paramName, a.surface)

	a.logger.Info("fluid actor ready",
		"grid_size", a.gridSize,
		"material", a.material.Name(),
		"parameter", a.paramName,
	)
	return nil
}

// Resize re-initializes the actor with a new grid size. The surface keeps
// its identity so material bindings stay valid.
func (a *Actor) Resize(ctx context.Context, gridSize int) error {
	if gridSize <= 0 {
		return fmt.Errorf("%w: %d", fluid.ErrInvalidGridSize, gridSize)
	}
	a.gridSize = gridSize
	return a.InitResources(ctx)
}

// RegisterBody forwards a body's movement to the simulation when it lies
// inside the surface bounds at its current or previous location. velocity
// is in world units per second. Returns the number of affected cells.
func (a *Actor) RegisterBody(current, previous, velocity fluid.Vec2, radius, strength float32) int {
	if a.sim == nil || a.sim.State() != fluid.StateRunning {
		return 0
	}
	m := a.sim.Mapping()
	if !m.Contains(current) && !m.Contains(previous) {
		return 0
	}
	return a.sim.RegisterInfluence(current, m.ScaleVelocity(velocity), radius, strength)
}

// Tick advances the simulation by dt seconds. The frame draws into the bound surface.
func (a *Actor) Tick(dt float32) {
	if a.sim != nil {
		a.sim.Tick(dt)
	}
}

// Draw enqueues an extra draw of the current state into the surface, for
// hosts that render while the simulation is paused.
func (a *Actor) Draw() bool {
	if a.sim == nil {
		return false
	}
	return a.sim.DrawToRenderTarget(a.surface)
}

// Simulation returns the owned simulation, or nil before InitResources.
func (a *Actor) Simulation() *fluid.Simulation { return a.sim }

// Surface returns the output surface, or nil before InitResources.
func (a *Actor) Surface() *gpu.Surface { return a.surface }

// Material returns the material the surface is bound to.
func (a *Actor) Material() *Material { return a.material }

// ParameterName returns the material parameter holding the surface.
func (a *Actor) ParameterName() string { return a.paramName }

// GridSize returns the configured grid size.
func (a *Actor) GridSize() int { return a.gridSize }

// Mapping returns the world-to-grid mapping of the actor's bounds.
func (a *Actor) Mapping() fluid.GridMapping {
	return fluid.NewGridMapping(a.bounds, a.gridSize)
}

// Close waits for in-flight frames and releases the simulation.
func (a *Actor) Close(ctx context.Context) error {
	if a.sim == nil {
		return nil
	}
	a.sim.SetRenderTarget(nil)
	a.material.SetTextureParameter(a.paramName, nil)
	return a.sim.Close(ctx)
}
