// Shader debug tool - compiles the fluid kernels to SPIR-V for inspection and
// optionally renders a few frames of the software kernels to a PNG.
//
// Usage: go run ./cmd/shaderdebug -out spirv/ -png debug.png
package main

import (
	"context"
	"flag"
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pthm-cable/fluidsurface/fluid"
	"github.com/pthm-cable/fluidsurface/fluid/shaders"
	"github.com/pthm-cable/fluidsurface/gpu"
)

func main() {
	outDir := flag.String("out", "", "Directory for .spv files (empty = don't write)")
	pngPath := flag.String("png", "", "Render the draw kernel to this PNG path")
	grid := flag.Int("grid", 128, "Grid size for the PNG render")
	frames := flag.Int("frames", 30, "Frames to simulate before the PNG render")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	compiled, err := fluid.CompileKernels(logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to compile kernels: %v\n", err)
		os.Exit(1)
	}

	for _, name := range shaders.Names() {
		spirv := compiled[name]
		layout, _ := shaders.BindingLayout(name)
		fmt.Printf("%s: %d bytes SPIR-V, %d bindings\n", name, len(spirv), len(layout))
		for _, e := range layout {
			fmt.Printf("  @binding(%d) %v\n", e.Binding, e.Buffer.Type)
		}

		if *outDir != "" {
			if err := os.MkdirAll(*outDir, 0755); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to create output dir: %v\n", err)
				os.Exit(1)
			}
			path := filepath.Join(*outDir, name+".spv")
			if err := os.WriteFile(path, spirv, 0644); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to write %s: %v\n", path, err)
				os.Exit(1)
			}
		}
	}

	if *pngPath != "" {
		if err := renderPNG(*pngPath, *grid, *frames, logger); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Kernels rendered to: %s (%dx%d)\n", *pngPath, *grid, *grid)
	}
}

// renderPNG runs a random-state simulation with a steady central influence and
// writes the drawn surface.
func renderPNG(path string, n, frames int, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	sim := fluid.New(fluid.Options{
		Diffusion:    0.0001,
		Viscosity:    0.0001,
		InitialState: fluid.InitialRandom,
		Seed:         1,
		Logger:       logger,
	})
	defer sim.Close(ctx)

	if err := sim.InitContext(ctx, n); err != nil {
		return err
	}
	surface := gpu.NewSurface(n, n)
	sim.SetRenderTarget(surface)

	for i := 0; i < frames; i++ {
		sim.RegisterInfluence(fluid.Vec2{}, fluid.Vec2{X: 1, Y: 0.5}, float32(n)/8, 1)
		sim.Tick(1.0 / 60)
	}
	if err := sim.Flush(ctx); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, surface.Snapshot())
}
