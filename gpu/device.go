// Package gpu implements a software compute device with the contract of a
// hardware command queue: resources are created, written, dispatched on, and
// freed only by one execution goroutine, in FIFO submission order, and a
// monotonic fence reports how far execution has progressed.
package gpu

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// DefaultQueueDepth is the number of batches that may be in flight before
// Submit applies backpressure.
const DefaultQueueDepth = 8

// DeviceOptions configures a Device.
type DeviceOptions struct {
	QueueDepth   int      // 0 = DefaultQueueDepth
	Workers      int      // 0 = GOMAXPROCS
	MemoryBudget int64    // Buffer bytes; 0 = unlimited
	Recorder     Recorder // Optional command stream observer
}

// batch is one submission: commands executed back to back, then the fence
// is advanced to its value.
type batch struct {
	fence  uint64
	label  string
	cmds   []Command
	result chan error // optional, buffered
}

// deviceCounters are written by the execution goroutine and read anywhere.
type deviceCounters struct {
	batches       atomic.Uint64
	commands      atomic.Uint64
	commandErrors atomic.Uint64
	dispatches    atomic.Uint64
	bufferBytes   atomic.Int64
	liveBuffers   atomic.Int64
}

// DeviceStats is a snapshot of device counters.
type DeviceStats struct {
	Submitted     uint64
	Completed     uint64
	Batches       uint64
	Commands      uint64
	CommandErrors uint64
	Dispatches    uint64
	BufferBytes   int64
	LiveBuffers   int64
}

// Device is a software GPU. All methods are safe for concurrent use.
type Device struct {
	// Control side
	submitMu   sync.Mutex
	submitted  atomic.Uint64
	closed     bool
	queue      chan batch
	nextHandle atomic.Uint64
	fence      *Fence
	done       chan struct{}

	// Execution side, owned by run
	buffers      map[uint64]*buffer
	textures     map[uint64]*Texture
	bufferBytes  int64
	memoryBudget int64
	pool         *TexturePool
	workers      *workerPool
	recorder     Recorder

	stats deviceCounters
}

// NewDevice creates a device and starts its execution goroutine.
func NewDevice(opts DeviceOptions) *Device {
	depth := opts.QueueDepth
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	d := &Device{
		queue:        make(chan batch, depth),
		fence:        newFence(),
		done:         make(chan struct{}),
		buffers:      make(map[uint64]*buffer),
		textures:     make(map[uint64]*Texture),
		memoryBudget: opts.MemoryBudget,
		pool:         newTexturePool(),
		workers:      newWorkerPool(opts.Workers),
		recorder:     opts.Recorder,
	}
	go d.run()

	slogger().Debug("gpu: device started",
		"queue_depth", depth,
		"workers", d.workers.numWorkers,
		"memory_budget", opts.MemoryBudget,
	)
	return d
}

// MemoryBudget returns the buffer byte budget, or 0 when unlimited.
func (d *Device) MemoryBudget() int64 { return d.memoryBudget }

// NewBufferHandle allocates a buffer handle. It is bound to memory by a
// CreateBuffer command.
func (d *Device) NewBufferHandle() BufferHandle {
	return BufferHandle{id: d.nextHandle.Add(1)}
}

// NewTextureHandle allocates a texture handle.
func (d *Device) NewTextureHandle() TextureHandle {
	return TextureHandle{id: d.nextHandle.Add(1)}
}

// Submit enqueues cmds as one batch and returns its fence value. It blocks
// only when the queue is full. After Close, the batch is dropped and the
// last fence value is returned.
func (d *Device) Submit(label string, cmds ...Command) uint64 {
	v, _ := d.submit(label, cmds, nil)
	return v
}

// SubmitAndWait enqueues cmds and blocks until they executed, returning the
// joined command errors of the batch.
func (d *Device) SubmitAndWait(ctx context.Context, label string, cmds ...Command) error {
	result := make(chan error, 1)
	if _, err := d.submit(label, cmds, result); err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Device) submit(label string, cmds []Command, result chan error) (uint64, error) {
	d.submitMu.Lock()
	defer d.submitMu.Unlock()

	if d.closed {
		slogger().Warn("gpu: submit after close", "batch", label)
		return d.submitted.Load(), ErrDeviceClosed
	}

	v := d.submitted.Load() + 1
	d.queue <- batch{fence: v, label: label, cmds: cmds, result: result}
	d.submitted.Store(v)
	return v, nil
}

// Submitted returns the fence value of the latest submitted batch.
func (d *Device) Submitted() uint64 { return d.submitted.Load() }

// CompletedValue returns the fence value of the latest executed batch.
func (d *Device) CompletedValue() uint64 { return d.fence.Value() }

// Wait blocks until the batch with fence value v has executed.
func (d *Device) Wait(ctx context.Context, v uint64) error {
	return d.fence.Wait(ctx, v)
}

// Flush blocks until every batch submitted so far has executed.
func (d *Device) Flush(ctx context.Context) error {
	return d.fence.Wait(ctx, d.Submitted())
}

// Close drains the queue, stops the execution goroutine, and waits for it.
// Resources still alive are dropped.
func (d *Device) Close() error {
	d.submitMu.Lock()
	if d.closed {
		d.submitMu.Unlock()
		<-d.done
		return nil
	}
	d.closed = true
	close(d.queue)
	d.submitMu.Unlock()

	<-d.done
	return nil
}

// Stats returns a snapshot of the device counters.
func (d *Device) Stats() DeviceStats {
	return DeviceStats{
		Submitted:     d.Submitted(),
		Completed:     d.CompletedValue(),
		Batches:       d.stats.batches.Load(),
		Commands:      d.stats.commands.Load(),
		CommandErrors: d.stats.commandErrors.Load(),
		Dispatches:    d.stats.dispatches.Load(),
		BufferBytes:   d.stats.bufferBytes.Load(),
		LiveBuffers:   d.stats.liveBuffers.Load(),
	}
}

// run is the execution goroutine.
func (d *Device) run() {
	defer close(d.done)
	defer d.workers.stop()

	for b := range d.queue {
		d.execute(b)
	}

	if len(d.buffers) > 0 {
		slogger().Debug("gpu: dropping live buffers at close", "count", len(d.buffers), "bytes", d.bufferBytes)
	}
}

func (d *Device) execute(b batch) {
	ec := &ExecContext{device: d, fence: b.fence}
	if d.recorder != nil {
		d.recorder.BatchStarted(b.fence, b.label)
	}

	var errs []error
	for _, cmd := range b.cmds {
		err := cmd.execute(ec)
		d.stats.commands.Add(1)
		if err != nil {
			d.stats.commandErrors.Add(1)
			errs = append(errs, err)
			slogger().Warn("gpu: command failed",
				"batch", b.label,
				"fence", b.fence,
				"command", cmd.Name(),
				"error", err,
			)
		}
		if d.recorder != nil {
			d.recorder.CommandExecuted(b.fence, cmd.Name(), err)
		}
	}

	err := errors.Join(errs...)
	if d.recorder != nil {
		d.recorder.BatchCompleted(b.fence, b.label, err)
	}
	d.stats.batches.Add(1)
	d.fence.signal(b.fence)

	if b.result != nil {
		b.result <- err
	}
}
