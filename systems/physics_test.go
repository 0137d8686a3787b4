package systems

import (
	"testing"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/fluidsurface/components"
)

func newBodyWorld() (*ecs.World, *ecs.Map4[components.Position, components.Velocity, components.Body, components.Tracker]) {
	w := ecs.NewWorld()
	return w, ecs.NewMap4[components.Position, components.Velocity, components.Body, components.Tracker](w)
}

func TestBounce(t *testing.T) {
	tests := []struct {
		name         string
		p, v         float32
		wantP, wantV float32
	}{
		{"inside", 50, 10, 50, 10},
		{"past high wall", 110, 20, 90, -20},
		{"past low wall", -6, -3, 6, 3},
		{"already reflected", 105, -4, 95, -4},
		{"overshoots both walls", 300, 20, 0, -20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, v := bounce(tt.p, tt.v, 0, 100)
			if p != tt.wantP || v != tt.wantV {
				t.Errorf("bounce(%v, %v) = (%v, %v), want (%v, %v)", tt.p, tt.v, p, v, tt.wantP, tt.wantV)
			}
		})
	}
}

func TestPhysicsIntegratesAndBounces(t *testing.T) {
	w, mapper := newBodyWorld()
	posMap := ecs.NewMap[components.Position](w)
	velMap := ecs.NewMap[components.Velocity](w)

	pos := components.Position{X: 95, Y: 50}
	vel := components.Velocity{X: 20, Y: -4}
	body := components.Body{Radius: 2, Strength: 1}
	tr := components.NewTracker(pos.X, pos.Y, 0)
	e := mapper.NewEntity(&pos, &vel, &body, &tr)

	s := NewPhysicsSystem(w, Bounds{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100})
	s.Update(1)

	// 95 + 20 = 115 lands 17 past the wall inset at 98
	p := posMap.Get(e)
	v := velMap.Get(e)
	if p.X != 81 || p.Y != 46 {
		t.Errorf("position = (%v, %v), want (81, 46)", p.X, p.Y)
	}
	if v.X != -20 || v.Y != -4 {
		t.Errorf("velocity = (%v, %v), want (-20, -4)", v.X, v.Y)
	}
}

func TestPhysicsKeepsBodiesInBounds(t *testing.T) {
	w, mapper := newBodyWorld()
	posMap := ecs.NewMap[components.Position](w)
	bounds := Bounds{MinX: -10, MinY: -10, MaxX: 10, MaxY: 10}

	var entities []ecs.Entity
	for i := 0; i < 8; i++ {
		pos := components.Position{X: float32(i) - 4, Y: 4 - float32(i)}
		vel := components.Velocity{X: float32(37 * (i + 1)), Y: float32(-23 * (i + 1))}
		body := components.Body{Radius: 1.5}
		tr := components.NewTracker(pos.X, pos.Y, 0)
		entities = append(entities, mapper.NewEntity(&pos, &vel, &body, &tr))
	}

	s := NewPhysicsSystem(w, bounds)
	for step := 0; step < 200; step++ {
		s.Update(1.0 / 30)
		for _, e := range entities {
			p := posMap.Get(e)
			if p.X < bounds.MinX+1.5 || p.X > bounds.MaxX-1.5 || p.Y < bounds.MinY+1.5 || p.Y > bounds.MaxY-1.5 {
				t.Fatalf("step %d: body at (%v, %v) left the inset bounds", step, p.X, p.Y)
			}
		}
	}
}

func TestTrackingReportsMovement(t *testing.T) {
	w, mapper := newBodyWorld()
	posMap := ecs.NewMap[components.Position](w)

	pos := components.Position{}
	vel := components.Velocity{X: 80}
	body := components.Body{Radius: 3, Strength: 0.5}
	tr := components.NewTracker(0, 0, 0.25)
	e := mapper.NewEntity(&pos, &vel, &body, &tr)

	s := NewTrackingSystem(w, 5)
	var samples []BodySample
	report := func(b BodySample) { samples = append(samples, b) }

	if n := s.Update(0.125, report); n != 0 {
		t.Fatalf("reported %d bodies before the interval elapsed", n)
	}

	posMap.Get(e).X = 10
	if n := s.Update(0.125, report); n != 1 {
		t.Fatalf("expected 1 report after moving 10 units, got %d", n)
	}
	got := samples[0]
	if got.Entity != e {
		t.Error("sample should carry the moving entity")
	}
	if got.CurrentX != 10 || got.PreviousX != 0 {
		t.Errorf("sample path = %v -> %v, want 0 -> 10", got.PreviousX, got.CurrentX)
	}
	if got.VelocityX != 80 || got.Radius != 3 || got.Strength != 0.5 {
		t.Errorf("sample carried %+v", got)
	}

	// Standing still for a full interval stays below the threshold
	if n := s.Update(0.25, report); n != 0 {
		t.Errorf("expected no report for a still body, got %d", n)
	}
}

func TestTrackingThresholdIsExclusive(t *testing.T) {
	w, mapper := newBodyWorld()
	posMap := ecs.NewMap[components.Position](w)

	pos := components.Position{}
	vel := components.Velocity{}
	body := components.Body{Radius: 1}
	tr := components.NewTracker(0, 0, 0)
	e := mapper.NewEntity(&pos, &vel, &body, &tr)

	s := NewTrackingSystem(w, 5)
	posMap.Get(e).Y = 5
	if n := s.Update(0.01, nil); n != 0 {
		t.Errorf("movement equal to the threshold reported %d bodies", n)
	}
	posMap.Get(e).Y = 10.5
	if n := s.Update(0.01, nil); n != 1 {
		t.Errorf("movement past the threshold reported %d bodies, want 1", n)
	}
}
