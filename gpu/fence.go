package gpu

import (
	"context"
	"sync"
)

// Fence is a monotonic counter of completed batches. The execution goroutine
// advances it; any goroutine may wait on a value.
type Fence struct {
	mu        sync.Mutex
	completed uint64
	changed   chan struct{} // closed and replaced on every advance
}

func newFence() *Fence {
	return &Fence{changed: make(chan struct{})}
}

// Value returns the highest completed value.
func (f *Fence) Value() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.completed
}

// signal advances the counter to v and wakes all waiters.
func (f *Fence) signal(v uint64) {
	f.mu.Lock()
	if v > f.completed {
		f.completed = v
	}
	close(f.changed)
	f.changed = make(chan struct{})
	f.mu.Unlock()
}

// Wait blocks until the counter reaches v or ctx is done.
func (f *Fence) Wait(ctx context.Context, v uint64) error {
	for {
		f.mu.Lock()
		if f.completed >= v {
			f.mu.Unlock()
			return nil
		}
		ch := f.changed
		f.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// CommandFence marks a point in a device's submission stream and reports when
// all work up to that point has executed. Begin never blocks.
type CommandFence struct {
	device *Device
	target uint64
}

// Begin records the latest submission on d as the fence target.
func (c *CommandFence) Begin(d *Device) {
	c.device = d
	c.target = d.Submitted()
}

// Target returns the fence value recorded by the last Begin.
func (c *CommandFence) Target() uint64 { return c.target }

// IsComplete reports whether all work up to the target has executed.
// A fence that was never begun is complete.
func (c *CommandFence) IsComplete() bool {
	if c.device == nil {
		return true
	}
	return c.device.CompletedValue() >= c.target
}

// Wait blocks until the target is reached.
func (c *CommandFence) Wait(ctx context.Context) error {
	if c.device == nil {
		return nil
	}
	return c.device.Wait(ctx, c.target)
}
