// Package components defines ECS components for the bodies that stir the fluid.
package components

// Body holds the influence a moving entity exerts on the fluid.
type Body struct {
	Radius   float32 // World-space influence radius
	Strength float32 // Multiplier on injected velocity and density
}

// Tracker samples a body's location at a fixed interval, keeping the last
// three samples. The surface reads the previous sample to cover the whole
// path travelled since the last report.
type Tracker struct {
	CurrentX, CurrentY               float32
	PreviousX, PreviousY             float32
	SecondPreviousX, SecondPreviousY float32

	Interval float32 // Seconds between samples
	Elapsed  float32 // Seconds since the last sample
	Samples  uint32
}

// NewTracker returns a tracker whose history starts at (x, y).
func NewTracker(x, y, interval float32) Tracker {
	return Tracker{
		CurrentX: x, CurrentY: y,
		PreviousX: x, PreviousY: y,
		SecondPreviousX: x, SecondPreviousY: y,
		Interval: interval,
	}
}

// Advance accumulates dt and, once the interval has passed, shifts the
// history and records (x, y) as the current sample. Returns whether a sample
// was taken. A non-positive interval samples every call.
func (t *Tracker) Advance(dt, x, y float32) bool {
	t.Elapsed += dt
	if t.Interval > 0 && t.Elapsed < t.Interval {
		return false
	}
	if t.Interval > 0 {
		t.Elapsed -= t.Interval
		if t.Elapsed >= t.Interval {
			// Long frames drop the missed samples
			t.Elapsed = 0
		}
	} else {
		t.Elapsed = 0
	}

	t.SecondPreviousX, t.SecondPreviousY = t.PreviousX, t.PreviousY
	t.PreviousX, t.PreviousY = t.CurrentX, t.CurrentY
	t.CurrentX, t.CurrentY = x, y
	t.Samples++
	return true
}

// DisplacementSq returns the squared distance between the current and previous samples.
func (t *Tracker) DisplacementSq() float32 {
	dx := t.CurrentX - t.PreviousX
	dy := t.CurrentY - t.PreviousY
	return dx*dx + dy*dy
}
