// Package systems contains ECS systems that move bodies and sample their paths.
package systems

import (
	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/fluidsurface/components"
)

// Bounds is the rectangle bodies move within.
type Bounds struct {
	MinX, MinY, MaxX, MaxY float32
}

// PhysicsSystem integrates body positions and bounces them off the bounds.
type PhysicsSystem struct {
	filter ecs.Filter3[components.Position, components.Velocity, components.Body]
	bounds Bounds
}

// NewPhysicsSystem creates a new physics system.
func NewPhysicsSystem(w *ecs.World, bounds Bounds) *PhysicsSystem {
	return &PhysicsSystem{
		filter: *ecs.NewFilter3[components.Position, components.Velocity, components.Body](w),
		bounds: bounds,
	}
}

// Update advances every body by dt seconds.
func (s *PhysicsSystem) Update(dt float32) {
	query := s.filter.Query()
	for query.Next() {
		pos, vel, body := query.Get()

		pos.X += vel.X * dt
		pos.Y += vel.Y * dt

		// Walls on all four sides, inset by the body radius
		r := min(body.Radius, (s.bounds.MaxX-s.bounds.MinX)/2, (s.bounds.MaxY-s.bounds.MinY)/2)
		pos.X, vel.X = bounce(pos.X, vel.X, s.bounds.MinX+r, s.bounds.MaxX-r)
		pos.Y, vel.Y = bounce(pos.Y, vel.Y, s.bounds.MinY+r, s.bounds.MaxY-r)
	}
}

// bounce reflects p into [lo, hi], flipping v when a wall is hit.
func bounce(p, v, lo, hi float32) (float32, float32) {
	if p < lo {
		p = lo + (lo - p)
		if v < 0 {
			v = -v
		}
	}
	if p > hi {
		p = hi - (p - hi)
		if v > 0 {
			v = -v
		}
	}
	if p < lo {
		p = lo
	}
	return p, v
}
