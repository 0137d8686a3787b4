// Package shaders holds the WGSL compute sources of the fluid kernels and
// their bind group layouts, so the same parameter contracts can be bound on
// a hardware backend.
package shaders

import (
	_ "embed"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
)

// Kernel names. They match the fluid kernel labels.
const (
	Update   = "fluid_update"
	AddInput = "fluid_add_input"
	Draw     = "fluid_draw"
)

//go:embed update.wgsl
var updateWGSL string

//go:embed add_input.wgsl
var addInputWGSL string

//go:embed draw.wgsl
var drawWGSL string

// spirvMagic is the first word of every SPIR-V module.
const spirvMagic = 0x07230203

var sources = map[string]string{
	Update:   updateWGSL,
	AddInput: addInputWGSL,
	Draw:     drawWGSL,
}

// Names returns the kernel names in sorted order.
func Names() []string {
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Source returns the WGSL source of a kernel.
func Source(name string) (string, bool) {
	src, ok := sources[name]
	return src, ok
}

// BindingLayout returns the bind group layout of a kernel. Every kernel binds
// a uniform parameter block at 0, its input at 1, and its output at 2.
func BindingLayout(name string) ([]gputypes.BindGroupLayoutEntry, error) {
	uniform := gputypes.BindGroupLayoutEntry{
		Binding:    0,
		Visibility: gputypes.ShaderStageCompute,
		Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
	}
	storageRO := func(binding uint32) gputypes.BindGroupLayoutEntry {
		return gputypes.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage},
		}
	}
	storageRW := func(binding uint32) gputypes.BindGroupLayoutEntry {
		return gputypes.BindGroupLayoutEntry{
			Binding:    binding,
			Visibility: gputypes.ShaderStageCompute,
			Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeStorage},
		}
	}

	switch name {
	case Update:
		// previous (read), current (read_write)
		return []gputypes.BindGroupLayoutEntry{uniform, storageRO(1), storageRW(2)}, nil
	case AddInput:
		// records (read), current (read_write)
		return []gputypes.BindGroupLayoutEntry{uniform, storageRO(1), storageRW(2)}, nil
	case Draw:
		// fluid (read), packed texels (read_write)
		return []gputypes.BindGroupLayoutEntry{uniform, storageRO(1), storageRW(2)}, nil
	default:
		return nil, fmt.Errorf("shaders: unknown kernel %q", name)
	}
}

// Compile translates a kernel to SPIR-V.
func Compile(name string) ([]byte, error) {
	src, ok := sources[name]
	if !ok {
		return nil, fmt.Errorf("shaders: unknown kernel %q", name)
	}
	spirv, err := naga.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("compiling %s: %w", name, err)
	}
	if len(spirv) < 4 || binary.LittleEndian.Uint32(spirv) != spirvMagic {
		return nil, fmt.Errorf("compiling %s: output is not SPIR-V", name)
	}
	return spirv, nil
}

// CompileAll compiles every kernel, keyed by name. It stops at the first error.
func CompileAll() (map[string][]byte, error) {
	out := make(map[string][]byte, len(sources))
	for _, name := range Names() {
		spirv, err := Compile(name)
		if err != nil {
			return nil, err
		}
		out[name] = spirv
	}
	return out, nil
}
