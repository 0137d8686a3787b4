package gpu

import "fmt"

// ExecContext gives kernels access to device resources while a batch runs.
// It is only valid on the execution goroutine for the duration of a command.
type ExecContext struct {
	device *Device
	fence  uint64
}

// Fence returns the fence value of the batch being executed.
func (ec *ExecContext) Fence() uint64 { return ec.fence }

func (ec *ExecContext) buffer(h BufferHandle) (*buffer, error) {
	b, ok := ec.device.buffers[h.id]
	if !ok {
		return nil, fmt.Errorf("buffer %d: %w", h.id, ErrUnknownHandle)
	}
	return b, nil
}

// Buffer returns the storage behind h for reading and writing.
func (ec *ExecContext) Buffer(h BufferHandle) ([]float32, error) {
	b, err := ec.buffer(h)
	if err != nil {
		return nil, err
	}
	return b.data, nil
}

// Texture returns the texture bound to h.
func (ec *ExecContext) Texture(h TextureHandle) (*Texture, error) {
	t, ok := ec.device.textures[h.id]
	if !ok {
		return nil, fmt.Errorf("texture %d: %w", h.id, ErrUnknownHandle)
	}
	return t, nil
}

// Parallel splits [0, n) across the device workers and returns when every
// chunk is done. Chunks must write disjoint memory.
func (ec *ExecContext) Parallel(n int, fn func(start, end int)) {
	ec.device.workers.run(n, fn)
}
