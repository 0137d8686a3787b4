package fluid

import "sync"

// InputQueue accumulates pending influences between frames. Register may be
// called from any goroutine; Flush hands the whole batch off atomically.
type InputQueue struct {
	mu      sync.Mutex
	mapping GridMapping
	pending []InputRecord
}

// NewInputQueue creates a queue for the given mapping.
func NewInputQueue(m GridMapping) *InputQueue {
	return &InputQueue{mapping: m}
}

// SetMapping replaces the mapping used by later registrations.
func (q *InputQueue) SetMapping(m GridMapping) {
	q.mu.Lock()
	q.mapping = m
	q.mu.Unlock()
}

// Mapping returns the current mapping.
func (q *InputQueue) Mapping() GridMapping {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.mapping
}

// Register appends one record per grid cell in the bounding square of the
// world-space circle. Each record carries velocity*strength and density
// strength. Returns the number of records appended.
func (q *InputQueue) Register(world, velocity Vec2, radius, strength float32) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.mapping.GridSize <= 0 {
		return 0
	}
	cells := q.mapping.Cells(world, radius)
	if cells.Empty() {
		return 0
	}

	r := q.mapping.ScaleRadius(radius)
	rec := InputRecord{
		Velocity: velocity.Scale(strength),
		Density:  strength,
		Radius:   max(r.X, r.Y),
	}
	for y := cells.Y0; y <= cells.Y1; y++ {
		for x := cells.X0; x <= cells.X1; x++ {
			rec.Cell = [2]int{x, y}
			q.pending = append(q.pending, rec)
		}
	}
	return cells.Count()
}

// Flush returns every pending record and empties the queue.
func (q *InputQueue) Flush() []InputRecord {
	q.mu.Lock()
	batch := q.pending
	q.pending = nil
	q.mu.Unlock()
	return batch
}

// Len returns the number of pending records.
func (q *InputQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Clear drops all pending records.
func (q *InputQueue) Clear() {
	q.mu.Lock()
	q.pending = nil
	q.mu.Unlock()
}
