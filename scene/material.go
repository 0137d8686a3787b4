package scene

import (
	"sort"
	"sync"

	"github.com/pthm-cable/fluidsurface/gpu"
)

// DefaultParameterName is the material parameter the fluid surface is bound to.
const DefaultParameterName = "SimulationRT"

// Material is a named set of texture parameters read by whatever renders the
// scene. Parameters may be read from any goroutine.
type Material struct {
	name string

	mu       sync.RWMutex
	textures map[string]*gpu.Surface
}

// NewMaterial creates an empty material.
func NewMaterial(name string) *Material {
	return &Material{name: name, textures: make(map[string]*gpu.Surface)}
}

// Name returns the material name.
func (m *Material) Name() string { return m.name }

// SetTextureParameter binds s to the named parameter. A nil surface removes it.
func (m *Material) SetTextureParameter(name string, s *gpu.Surface) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s == nil {
		delete(m.textures, name)
		return
	}
	m.textures[name] = s
}

// TextureParameter returns the surface bound to name.
func (m *Material) TextureParameter(name string) (*gpu.Surface, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.textures[name]
	return s, ok
}

// Parameters returns the bound parameter names in sorted order.
func (m *Material) Parameters() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.textures))
	for name := range m.textures {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
