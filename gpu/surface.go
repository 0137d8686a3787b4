package gpu

import (
	"image"
	"sync"

	"github.com/gogpu/gputypes"
)

// Surface is an externally owned RGBA8 render target. The device writes it
// on the execution goroutine; hosts read it from anywhere.
type Surface struct {
	mu      sync.RWMutex
	width   int
	height  int
	pix     []uint8
	version uint64
}

// NewSurface creates a cleared surface of the given size.
func NewSurface(width, height int) *Surface {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Surface{
		width:  width,
		height: height,
		pix:    make([]uint8, width*height*4),
	}
}

// Width returns the surface width in pixels.
func (s *Surface) Width() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.width
}

// Height returns the surface height in pixels.
func (s *Surface) Height() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.height
}

// Format returns the texel format of the surface.
func (s *Surface) Format() gputypes.TextureFormat {
	return gputypes.TextureFormatRGBA8Unorm
}

// Version increments every time the device writes the surface.
func (s *Surface) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Resize reallocates the surface, clearing its contents.
func (s *Surface) Resize(width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.width = width
	s.height = height
	s.pix = make([]uint8, width*height*4)
	s.version++
}

// ReadPixels copies the surface contents into dst, growing it if needed.
func (s *Surface) ReadPixels(dst []uint8) []uint8 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if cap(dst) < len(s.pix) {
		dst = make([]uint8, len(s.pix))
	}
	dst = dst[:len(s.pix)]
	copy(dst, s.pix)
	return dst
}

// Snapshot returns a copy of the surface as an image.
func (s *Surface) Snapshot() *image.RGBA {
	s.mu.RLock()
	defer s.mu.RUnlock()
	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	copy(img.Pix, s.pix)
	return img
}

// write copies a texture into the surface. Sizes must match exactly.
func (s *Surface) write(t *Texture) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.Desc.Width() != s.width || t.Desc.Height() != s.height {
		return ErrSizeMismatch
	}
	copy(s.pix, t.Pix)
	s.version++
	return nil
}
