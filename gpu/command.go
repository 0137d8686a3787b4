package gpu

import (
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
	"gonum.org/v1/gonum/blas/blas32"
)

// Command is a value-type description of device work. Commands hold handles
// and parameters only; memory is touched when the execution goroutine runs them.
type Command interface {
	// Name identifies the command in logs and recordings.
	Name() string
	execute(ec *ExecContext) error
}

// Kernel is a compute program run by a Dispatch command.
type Kernel interface {
	Label() string
	Execute(ec *ExecContext, groups [3]uint32) error
}

// CreateBuffer binds storage to Handle. If Data is set, the device takes
// ownership of it; otherwise Size zeroed float32 values are allocated.
type CreateBuffer struct {
	Handle BufferHandle
	Label  string
	Usage  gputypes.BufferUsage
	Size   int
	Data   []float32
}

func (c CreateBuffer) Name() string { return "create_buffer" }

func (c CreateBuffer) execute(ec *ExecContext) error {
	d := ec.device
	if !c.Handle.Valid() {
		return fmt.Errorf("create %q: %w", c.Label, ErrUnknownHandle)
	}
	if _, ok := d.buffers[c.Handle.id]; ok {
		return fmt.Errorf("create %q: %w", c.Label, ErrHandleInUse)
	}

	data := c.Data
	if data == nil {
		data = make([]float32, 0)
	}
	n := max(c.Size, len(data))
	bytes := int64(n) * 4
	if d.memoryBudget > 0 && d.bufferBytes+bytes > d.memoryBudget {
		return fmt.Errorf("create %q (%d bytes, %d in use): %w", c.Label, bytes, d.bufferBytes, ErrOutOfMemory)
	}
	if len(data) < n {
		grown := make([]float32, n)
		copy(grown, data)
		data = grown
	}

	d.buffers[c.Handle.id] = &buffer{label: c.Label, usage: c.Usage, data: data}
	d.bufferBytes += bytes
	d.stats.bufferBytes.Store(d.bufferBytes)
	d.stats.liveBuffers.Add(1)
	return nil
}

// ReleaseBuffer frees the storage behind Handle. With IfExists set, a handle
// that was never bound is not an error, so a failed or abandoned create can
// be cleaned up without knowing whether it ran.
type ReleaseBuffer struct {
	Handle   BufferHandle
	IfExists bool
}

func (c ReleaseBuffer) Name() string { return "release_buffer" }

func (c ReleaseBuffer) execute(ec *ExecContext) error {
	d := ec.device
	b, ok := d.buffers[c.Handle.id]
	if !ok {
		if c.IfExists {
			return nil
		}
		return fmt.Errorf("release buffer %d: %w", c.Handle.id, ErrUnknownHandle)
	}
	delete(d.buffers, c.Handle.id)
	d.bufferBytes -= b.bytes()
	d.stats.bufferBytes.Store(d.bufferBytes)
	d.stats.liveBuffers.Add(-1)
	return nil
}

// CopyBuffer copies the whole of Src into Dst. Both must be the same size.
type CopyBuffer struct {
	Src, Dst BufferHandle
}

func (c CopyBuffer) Name() string { return "copy_buffer" }

func (c CopyBuffer) execute(ec *ExecContext) error {
	src, err := ec.buffer(c.Src)
	if err != nil {
		return fmt.Errorf("copy source: %w", err)
	}
	dst, err := ec.buffer(c.Dst)
	if err != nil {
		return fmt.Errorf("copy destination: %w", err)
	}
	if src.usage&gputypes.BufferUsageCopySrc == 0 || dst.usage&gputypes.BufferUsageCopyDst == 0 {
		return fmt.Errorf("copy %q -> %q: %w", src.label, dst.label, ErrInvalidUsage)
	}
	if len(src.data) != len(dst.data) {
		return fmt.Errorf("copy %q (%d) -> %q (%d): %w", src.label, len(src.data), dst.label, len(dst.data), ErrSizeMismatch)
	}
	if len(src.data) == 0 {
		return nil
	}
	n := len(src.data)
	blas32.Copy(
		blas32.Vector{N: n, Inc: 1, Data: src.data},
		blas32.Vector{N: n, Inc: 1, Data: dst.data},
	)
	return nil
}

// Dispatch runs Kernel over the given workgroup counts.
type Dispatch struct {
	Kernel Kernel
	Groups [3]uint32
}

func (c Dispatch) Name() string { return "dispatch:" + c.Kernel.Label() }

func (c Dispatch) execute(ec *ExecContext) error {
	if c.Groups[0] == 0 || c.Groups[1] == 0 || c.Groups[2] == 0 {
		return fmt.Errorf("dispatch %s %v: %w", c.Kernel.Label(), c.Groups, ErrWorkgroupCountZero)
	}
	ec.device.stats.dispatches.Add(1)
	if err := c.Kernel.Execute(ec, c.Groups); err != nil {
		return fmt.Errorf("dispatch %s: %w", c.Kernel.Label(), err)
	}
	return nil
}

// AcquireTexture binds a pooled intermediate texture to Handle.
type AcquireTexture struct {
	Handle TextureHandle
	Desc   TextureDescriptor
}

func (c AcquireTexture) Name() string { return "acquire_texture" }

func (c AcquireTexture) execute(ec *ExecContext) error {
	d := ec.device
	if !c.Handle.Valid() {
		return fmt.Errorf("acquire %q: %w", c.Desc.Label, ErrUnknownHandle)
	}
	if _, ok := d.textures[c.Handle.id]; ok {
		return fmt.Errorf("acquire %q: %w", c.Desc.Label, ErrHandleInUse)
	}
	d.textures[c.Handle.id] = d.pool.Acquire(c.Desc)
	return nil
}

// ReleaseTexture returns the texture behind Handle to the pool.
type ReleaseTexture struct {
	Handle TextureHandle
}

func (c ReleaseTexture) Name() string { return "release_texture" }

func (c ReleaseTexture) execute(ec *ExecContext) error {
	d := ec.device
	t, ok := d.textures[c.Handle.id]
	if !ok {
		return fmt.Errorf("release texture %d: %w", c.Handle.id, ErrUnknownHandle)
	}
	delete(d.textures, c.Handle.id)
	d.pool.Release(t)
	return nil
}

// CopyToSurface resolves a texture into an external surface of the same size.
// With SkipMismatch set, a surface resized after the copy was recorded is
// left untouched instead of failing the command.
type CopyToSurface struct {
	Src          TextureHandle
	Dst          *Surface
	SkipMismatch bool
}

func (c CopyToSurface) Name() string { return "copy_to_surface" }

func (c CopyToSurface) execute(ec *ExecContext) error {
	t, err := ec.Texture(c.Src)
	if err != nil {
		return fmt.Errorf("copy to surface: %w", err)
	}
	if t.Desc.Usage&gputypes.TextureUsageCopySrc == 0 {
		return fmt.Errorf("copy to surface from %q: %w", t.Desc.Label, ErrInvalidUsage)
	}
	if c.Dst == nil {
		return nil
	}
	if err := c.Dst.write(t); err != nil {
		if c.SkipMismatch && errors.Is(err, ErrSizeMismatch) {
			slogger().Debug("gpu: surface copy skipped",
				"texture_width", t.Desc.Width(), "surface_width", c.Dst.Width())
			return nil
		}
		return fmt.Errorf("copy %dx%d texture to %dx%d surface: %w",
			t.Desc.Width(), t.Desc.Height(), c.Dst.Width(), c.Dst.Height(), err)
	}
	return nil
}

// ReadBuffer copies the contents of Src into Dst, which must be large enough.
type ReadBuffer struct {
	Src BufferHandle
	Dst []float32
}

func (c ReadBuffer) Name() string { return "read_buffer" }

func (c ReadBuffer) execute(ec *ExecContext) error {
	src, err := ec.buffer(c.Src)
	if err != nil {
		return fmt.Errorf("read buffer: %w", err)
	}
	if len(c.Dst) < len(src.data) {
		return fmt.Errorf("read %q (%d) into %d: %w", src.label, len(src.data), len(c.Dst), ErrSizeMismatch)
	}
	copy(c.Dst, src.data)
	return nil
}

// Callback runs Fn on the execution goroutine in stream order.
type Callback struct {
	Label string
	Fn    func(ec *ExecContext) error
}

func (c Callback) Name() string { return "callback:" + c.Label }

func (c Callback) execute(ec *ExecContext) error {
	if c.Fn == nil {
		return nil
	}
	return c.Fn(ec)
}
