package gpu

import (
	"github.com/gogpu/gputypes"
)

// BufferHandle identifies a device buffer. Handles are allocated on the
// control side and bound to memory by a CreateBuffer command.
type BufferHandle struct{ id uint64 }

// Valid reports whether h was allocated by a device.
func (h BufferHandle) Valid() bool { return h.id != 0 }

// ID returns the numeric handle value.
func (h BufferHandle) ID() uint64 { return h.id }

// TextureHandle identifies a device texture.
type TextureHandle struct{ id uint64 }

// Valid reports whether h was allocated by a device.
func (h TextureHandle) Valid() bool { return h.id != 0 }

// ID returns the numeric handle value.
func (h TextureHandle) ID() uint64 { return h.id }

// buffer is the execution-side storage behind a BufferHandle.
type buffer struct {
	label string
	usage gputypes.BufferUsage
	data  []float32
}

func (b *buffer) bytes() int64 { return int64(len(b.data)) * 4 }

// TextureDescriptor describes a 2D texture.
type TextureDescriptor struct {
	Label  string
	Size   gputypes.Extent3D
	Format gputypes.TextureFormat
	Usage  gputypes.TextureUsage
}

// Width returns the texture width in texels.
func (d TextureDescriptor) Width() int { return int(d.Size.Width) }

// Height returns the texture height in texels.
func (d TextureDescriptor) Height() int { return int(d.Size.Height) }

// Texture is execution-side RGBA8 texel storage.
type Texture struct {
	Desc TextureDescriptor
	Pix  []uint8 // 4 bytes per texel, row-major
}

func newTexture(desc TextureDescriptor) *Texture {
	return &Texture{
		Desc: desc,
		Pix:  make([]uint8, desc.Width()*desc.Height()*4),
	}
}

// poolKey groups interchangeable textures.
type poolKey struct {
	width, height uint32
	format        gputypes.TextureFormat
}

// TexturePool recycles intermediate render targets between frames.
// Only the execution goroutine touches it.
type TexturePool struct {
	free      map[poolKey][]*Texture
	allocated int
	reused    int
}

func newTexturePool() *TexturePool {
	return &TexturePool{free: make(map[poolKey][]*Texture)}
}

// Acquire returns a free texture matching desc, allocating one when none is free.
func (p *TexturePool) Acquire(desc TextureDescriptor) *Texture {
	key := poolKey{desc.Size.Width, desc.Size.Height, desc.Format}
	if list := p.free[key]; len(list) > 0 {
		t := list[len(list)-1]
		p.free[key] = list[:len(list)-1]
		t.Desc = desc
		p.reused++
		return t
	}
	p.allocated++
	return newTexture(desc)
}

// Release returns t to the pool.
func (p *TexturePool) Release(t *Texture) {
	if t == nil {
		return
	}
	key := poolKey{t.Desc.Size.Width, t.Desc.Size.Height, t.Desc.Format}
	p.free[key] = append(p.free[key], t)
}

// Allocated returns how many textures the pool has created.
func (p *TexturePool) Allocated() int { return p.allocated }

// Reused returns how many acquisitions were served from free textures.
func (p *TexturePool) Reused() int { return p.reused }
