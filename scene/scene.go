package scene

import (
	"context"
	"log/slog"
	"math"
	"math/rand"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/fluidsurface/components"
	"github.com/pthm-cable/fluidsurface/config"
	"github.com/pthm-cable/fluidsurface/fluid"
	"github.com/pthm-cable/fluidsurface/systems"
)

// BodyOptions configures the moving bodies spawned by a scene.
type BodyOptions struct {
	Count             int
	Radius            float32
	Strength          float32
	Speed             float32 // World units per second
	MovementThreshold float32
	TickInterval      float32
}

// Options configures a Scene.
type Options struct {
	Actor  ActorOptions
	Bodies BodyOptions
	Seed   int64
	Logger *slog.Logger
}

// OptionsFromConfig builds scene options from a loaded config. The
// simulation's device, observer, and perf collector are left for the caller.
func OptionsFromConfig(cfg *config.Config) Options {
	initial, err := fluid.ParseInitialState(cfg.Simulation.InitialState)
	if err != nil {
		initial = fluid.InitialZero
	}
	return Options{
		Actor: ActorOptions{
			GridSize: cfg.Simulation.GridSize,
			Bounds: fluid.Bounds{
				Origin:     fluid.Vec2{X: float32(cfg.Bounds.OriginX), Y: float32(cfg.Bounds.OriginY)},
				HalfExtent: fluid.Vec2{X: cfg.Derived.HalfExtentX, Y: cfg.Derived.HalfExtentY},
			},
			ParameterName: cfg.Surface.MaterialParameter,
			Simulation: fluid.Options{
				Diffusion:     float32(cfg.Simulation.Diffusion),
				Viscosity:     float32(cfg.Simulation.Viscosity),
				InitialState:  initial,
				Seed:          cfg.Simulation.Seed,
				StatsInterval: cfg.Telemetry.StatsInterval,
			},
		},
		Bodies: BodyOptions{
			Count:             cfg.Bodies.Count,
			Radius:            float32(cfg.Bodies.Radius),
			Strength:          float32(cfg.Bodies.Strength),
			Speed:             float32(cfg.Bodies.Speed),
			MovementThreshold: float32(cfg.Bodies.MovementThreshold),
			TickInterval:      float32(cfg.Bodies.TickInterval),
		},
		Seed: cfg.Simulation.Seed,
	}
}

// Scene is an ECS world of moving bodies stirring a fluid actor.
type Scene struct {
	world    *ecs.World
	mapper   *ecs.Map4[components.Position, components.Velocity, components.Body, components.Tracker]
	filter   *ecs.Filter2[components.Position, components.Body]
	physics  *systems.PhysicsSystem
	tracking *systems.TrackingSystem

	actor  *Actor
	bodies BodyOptions
	rng    *rand.Rand
	logger *slog.Logger

	numBodies  int
	registered int64 // Cells affected by body influences since creation
}

// New creates a scene. Call Init before Update.
func New(opts Options) *Scene {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Actor.Logger == nil {
		opts.Actor.Logger = opts.Logger
	}
	actor := NewActor(opts.Actor)

	m := actor.Mapping().Bounds
	bounds := systems.Bounds{
		MinX: m.Origin.X - m.HalfExtent.X,
		MinY: m.Origin.Y - m.HalfExtent.Y,
		MaxX: m.Origin.X + m.HalfExtent.X,
		MaxY: m.Origin.Y + m.HalfExtent.Y,
	}

	world := ecs.NewWorld()
	return &Scene{
		world:    world,
		mapper:   ecs.NewMap4[components.Position, components.Velocity, components.Body, components.Tracker](world),
		filter:   ecs.NewFilter2[components.Position, components.Body](world),
		physics:  systems.NewPhysicsSystem(world, bounds),
		tracking: systems.NewTrackingSystem(world, opts.Bodies.MovementThreshold),
		actor:    actor,
		bodies:   opts.Bodies,
		rng:      rand.New(rand.NewSource(opts.Seed)),
		logger:   opts.Logger,
	}
}

// Init allocates the actor's resources and spawns the configured bodies.
func (s *Scene) Init(ctx context.Context) error {
	if err := s.actor.InitResources(ctx); err != nil {
		return err
	}
	s.spawnInitialBodies()
	return nil
}

// spawnInitialBodies scatters bodies inside the bounds with random headings.
func (s *Scene) spawnInitialBodies() {
	b := s.actor.Mapping().Bounds
	for i := 0; i < s.bodies.Count; i++ {
		x := b.Origin.X + (s.rng.Float32()*2-1)*b.HalfExtent.X*0.8
		y := b.Origin.Y + (s.rng.Float32()*2-1)*b.HalfExtent.Y*0.8
		heading := s.rng.Float64() * 2 * math.Pi
		vel := fluid.Vec2{
			X: float32(math.Cos(heading)) * s.bodies.Speed,
			Y: float32(math.Sin(heading)) * s.bodies.Speed,
		}
		s.SpawnBody(fluid.Vec2{X: x, Y: y}, vel, s.bodies.Radius, s.bodies.Strength)
	}
	s.logger.Info("bodies spawned", "count", s.bodies.Count, "speed", s.bodies.Speed)
}

// SpawnBody adds a moving body to the world.
func (s *Scene) SpawnBody(pos, vel fluid.Vec2, radius, strength float32) ecs.Entity {
	p := components.Position{X: pos.X, Y: pos.Y}
	v := components.Velocity{X: vel.X, Y: vel.Y}
	body := components.Body{Radius: radius, Strength: strength}
	tr := components.NewTracker(pos.X, pos.Y, s.bodies.TickInterval)
	s.numBodies++
	return s.mapper.NewEntity(&p, &v, &body, &tr)
}

// Update moves the bodies, forwards tracked movement to the actor, and
// ticks the fluid. Returns the number of bodies reported this update.
func (s *Scene) Update(dt float32) int {
	s.physics.Update(dt)
	reported := s.tracking.Update(dt, func(b systems.BodySample) {
		n := s.actor.RegisterBody(
			fluid.Vec2{X: b.CurrentX, Y: b.CurrentY},
			fluid.Vec2{X: b.PreviousX, Y: b.PreviousY},
			fluid.Vec2{X: b.VelocityX, Y: b.VelocityY},
			b.Radius, b.Strength,
		)
		s.registered += int64(n)
	})
	s.actor.Tick(dt)
	return reported
}

// EachBody calls fn with the position and radius of every body.
func (s *Scene) EachBody(fn func(x, y, radius float32)) {
	query := s.filter.Query()
	for query.Next() {
		pos, body := query.Get()
		fn(pos.X, pos.Y, body.Radius)
	}
}

// NumBodies returns the number of spawned bodies.
func (s *Scene) NumBodies() int { return s.numBodies }

// RegisteredCells returns the total cells affected by body influences.
func (s *Scene) RegisteredCells() int64 { return s.registered }

// Actor returns the fluid actor.
func (s *Scene) Actor() *Actor { return s.actor }

// Close releases the actor.
func (s *Scene) Close(ctx context.Context) error {
	return s.actor.Close(ctx)
}
