package fluid

import (
	"fmt"
	"log/slog"

	"github.com/pthm-cable/fluidsurface/fluid/shaders"
)

// kernelShaders pairs each kernel label with its WGSL source name.
var kernelShaders = map[string]string{
	LabelUpdate:   shaders.Update,
	LabelAddInput: shaders.AddInput,
	LabelDraw:     shaders.Draw,
}

// CompileKernels translates the WGSL contracts of all kernels to SPIR-V,
// keyed by kernel label.
func CompileKernels(logger *slog.Logger) (map[string][]byte, error) {
	if logger == nil {
		logger = slog.Default()
	}
	out := make(map[string][]byte, len(kernelShaders))
	for label, name := range kernelShaders {
		spirv, err := shaders.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("kernel %s: %w", label, err)
		}
		logger.Debug("kernel compiled", "kernel", label, "spirv_bytes", len(spirv))
		out[label] = spirv
	}
	return out, nil
}
