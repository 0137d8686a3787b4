package systems

import (
	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/fluidsurface/components"
)

// BodySample is a tracked movement handed to the fluid.
type BodySample struct {
	Entity               ecs.Entity
	CurrentX, CurrentY   float32
	PreviousX, PreviousY float32
	VelocityX, VelocityY float32
	Radius, Strength     float32
}

// TrackingSystem samples body locations at each tracker's interval and
// reports bodies that moved farther than the threshold since their last sample.
type TrackingSystem struct {
	filter      ecs.Filter4[components.Position, components.Velocity, components.Body, components.Tracker]
	thresholdSq float32
}

// NewTrackingSystem creates a tracking system. Movement at or below
// threshold world units per sample is not reported.
func NewTrackingSystem(w *ecs.World, threshold float32) *TrackingSystem {
	return &TrackingSystem{
		filter:      *ecs.NewFilter4[components.Position, components.Velocity, components.Body, components.Tracker](w),
		thresholdSq: threshold * threshold,
	}
}

// Update advances every tracker by dt and calls report for each body that
// took a sample and moved far enough. Returns the number of reports.
func (s *TrackingSystem) Update(dt float32, report func(BodySample)) int {
	reported := 0
	query := s.filter.Query()
	for query.Next() {
		pos, vel, body, tr := query.Get()
		if !tr.Advance(dt, pos.X, pos.Y) {
			continue
		}
		if tr.DisplacementSq() <= s.thresholdSq {
			continue
		}
		reported++
		if report != nil {
			report(BodySample{
				Entity:    query.Entity(),
				CurrentX:  tr.CurrentX,
				CurrentY:  tr.CurrentY,
				PreviousX: tr.PreviousX,
				PreviousY: tr.PreviousY,
				VelocityX: vel.X,
				VelocityY: vel.Y,
				Radius:    body.Radius,
				Strength:  body.Strength,
			})
		}
	}
	return reported
}
