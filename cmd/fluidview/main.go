// Fluid viewer - interactive window over the fluid surface. Drag with the
// left mouse button to stir the fluid; bodies stir it on their own.
//
// Usage: go run ./cmd/fluidview -config config.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"image/color"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	gui "github.com/gen2brain/raylib-go/raygui"
	rl "github.com/gen2brain/raylib-go/raylib"

	"github.com/pthm-cable/fluidsurface/camera"
	"github.com/pthm-cable/fluidsurface/config"
	"github.com/pthm-cable/fluidsurface/fluid"
	"github.com/pthm-cable/fluidsurface/gpu"
	"github.com/pthm-cable/fluidsurface/scene"
	"github.com/pthm-cable/fluidsurface/telemetry"
)

const panelWidth = 280

// viewer holds the window state around a running scene.
type viewer struct {
	cfg    *config.Config
	scene  *scene.Scene
	cam    *camera.Camera
	perf   *telemetry.PerfCollector // owned by the device goroutine once running
	device *gpu.Device

	texture  rl.Texture2D
	pixels   []uint8
	colors   []color.RGBA
	texSize  int
	latest   atomic.Pointer[telemetry.FieldStats]
	perfText atomic.Pointer[string]

	paused       bool
	showBodies   bool
	brushRadius  float32
	brushForce   float32
	gridChoice   float32
	lastMouse    fluid.Vec2
	dragging     bool
	screenWidth  float32
	screenHeight float32
}

func main() {
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	grid := flag.Int("grid", 0, "Grid size (0 = use config)")
	seed := flag.Int64("seed", 0, "RNG seed (0 = use config)")
	flag.Parse()

	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.Cfg()
	if *grid != 0 {
		cfg.Simulation.GridSize = *grid
		cfg.Bounds.HalfExtentX, cfg.Bounds.HalfExtentY = 0, 0
	}
	if *seed != 0 {
		cfg.Simulation.Seed = *seed
	}
	cfg.Recompute()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	gpu.SetLogger(logger.With("component", "gpu"))

	rl.SetConfigFlags(rl.FlagWindowResizable)
	rl.InitWindow(int32(cfg.Screen.Width), int32(cfg.Screen.Height), "Fluid Surface")
	defer rl.CloseWindow()
	rl.SetTargetFPS(int32(cfg.Screen.TargetFPS))

	v, err := newViewer(cfg)
	if err != nil {
		slog.Error("failed to start viewer", "error", err)
		os.Exit(1)
	}
	defer v.unload()

	for !rl.WindowShouldClose() {
		v.update()
		v.draw()
	}
}

func newViewer(cfg *config.Config) (*viewer, error) {
	v := &viewer{
		cfg:          cfg,
		perf:         telemetry.NewPerfCollector(cfg.Telemetry.PerfWindow),
		showBodies:   true,
		brushRadius:  float32(cfg.Bodies.Radius) * 2,
		brushForce:   float32(cfg.Bodies.Strength),
		gridChoice:   float32(cfg.Simulation.GridSize),
		screenWidth:  float32(rl.GetScreenWidth()),
		screenHeight: float32(rl.GetScreenHeight()),
	}
	v.device = gpu.NewDevice(gpu.DeviceOptions{
		QueueDepth:   cfg.Device.QueueDepth,
		Workers:      cfg.Device.Workers,
		MemoryBudget: cfg.Derived.MemoryBudget,
	})

	perfWindow := uint64(max(cfg.Telemetry.PerfWindow, 1))
	opts := scene.OptionsFromConfig(cfg)
	opts.Actor.Simulation.Device = v.device
	opts.Actor.Simulation.Perf = v.perf
	opts.Actor.Simulation.Observer = func(rep fluid.FrameReport) {
		if rep.Measured {
			field := rep.Field
			v.latest.Store(&field)
		}
		if rep.Frame%perfWindow == 0 {
			st := v.perf.Stats()
			text := fmt.Sprintf("frame %.2fms (%.0f/s)", float64(st.AvgTickDuration.Microseconds())/1000, st.TicksPerSecond)
			v.perfText.Store(&text)
		}
	}
	v.scene = scene.New(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := v.scene.Init(ctx); err != nil {
		v.device.Close()
		return nil, err
	}

	v.resetCamera()
	v.loadTexture(v.scene.Actor().GridSize())
	return v, nil
}

// resetCamera fits the fluid bounds into the area left of the panel.
func (v *viewer) resetCamera() {
	b := v.scene.Actor().Mapping().Bounds
	v.cam = camera.New(
		v.screenWidth-panelWidth, v.screenHeight,
		b.Origin.X-b.HalfExtent.X, b.Origin.Y-b.HalfExtent.Y,
		b.Origin.X+b.HalfExtent.X, b.Origin.Y+b.HalfExtent.Y,
	)
}

func (v *viewer) loadTexture(n int) {
	if v.texSize != 0 {
		rl.UnloadTexture(v.texture)
	}
	img := rl.GenImageColor(n, n, rl.Black)
	v.texture = rl.LoadTextureFromImage(img)
	rl.UnloadImage(img)
	v.texSize = n
	v.colors = make([]color.RGBA, n*n)
}

func (v *viewer) update() {
	v.handleResize()
	v.handleCameraInput()
	v.handleBrush()

	if rl.IsKeyPressed(rl.KeySpace) {
		v.paused = !v.paused
	}

	if v.paused {
		v.scene.Actor().Draw()
	} else {
		dt := min(rl.GetFrameTime(), 0.1)
		v.scene.Update(dt)
	}
}

func (v *viewer) handleResize() {
	if !rl.IsWindowResized() {
		return
	}
	v.screenWidth = float32(rl.GetScreenWidth())
	v.screenHeight = float32(rl.GetScreenHeight())
	v.cam.Resize(v.screenWidth-panelWidth, v.screenHeight)
}

func (v *viewer) handleCameraInput() {
	const panSpeed = 8

	if rl.IsKeyDown(rl.KeyRight) {
		v.cam.Pan(panSpeed, 0)
	}
	if rl.IsKeyDown(rl.KeyLeft) {
		v.cam.Pan(-panSpeed, 0)
	}
	if rl.IsKeyDown(rl.KeyDown) {
		v.cam.Pan(0, panSpeed)
	}
	if rl.IsKeyDown(rl.KeyUp) {
		v.cam.Pan(0, -panSpeed)
	}

	mouse := rl.GetMousePosition()
	if mouse.X < v.screenWidth-panelWidth {
		if wheel := rl.GetMouseWheelMove(); wheel != 0 {
			v.cam.ZoomAt(mouse.X, mouse.Y, 1+wheel*0.1)
		}
		if rl.IsMouseButtonDown(rl.MouseButtonRight) {
			d := rl.GetMouseDelta()
			v.cam.Pan(-d.X, -d.Y)
		}
	}
	if rl.IsKeyPressed(rl.KeyHome) {
		v.cam.Reset()
	}
}

// handleBrush turns a left-button drag into fluid influences.
func (v *viewer) handleBrush() {
	mouse := rl.GetMousePosition()
	wx, wy := v.cam.ScreenToWorld(mouse.X, mouse.Y)
	pos := fluid.Vec2{X: wx, Y: wy}

	if mouse.X >= v.screenWidth-panelWidth || !rl.IsMouseButtonDown(rl.MouseButtonLeft) {
		v.dragging = false
		return
	}
	if !v.dragging {
		v.dragging = true
		v.lastMouse = pos
		return
	}

	dt := max(rl.GetFrameTime(), 1e-3)
	vel := pos.Sub(v.lastMouse).Scale(1 / dt)
	v.scene.Actor().RegisterBody(pos, v.lastMouse, vel, v.brushRadius, v.brushForce)
	v.lastMouse = pos
}

func (v *viewer) draw() {
	v.uploadSurface()

	rl.BeginDrawing()
	rl.ClearBackground(rl.Color{R: 16, G: 16, B: 20, A: 255})

	x, y, w, h := v.cam.WorldRectToScreen()
	rl.DrawTexturePro(
		v.texture,
		rl.Rectangle{X: 0, Y: 0, Width: float32(v.texSize), Height: float32(v.texSize)},
		rl.Rectangle{X: x, Y: y, Width: w, Height: h},
		rl.Vector2{X: 0, Y: 0},
		0,
		rl.White,
	)
	rl.DrawRectangleLines(int32(x), int32(y), int32(w), int32(h), rl.DarkGray)

	if v.showBodies {
		v.scene.EachBody(func(bx, by, r float32) {
			if !v.cam.IsVisible(bx, by, r) {
				return
			}
			sx, sy := v.cam.WorldToScreen(bx, by)
			rl.DrawCircleLines(int32(sx), int32(sy), r*v.cam.Zoom, rl.Color{R: 255, G: 255, B: 255, A: 160})
		})
	}

	v.drawPanel()
	rl.EndDrawing()
}

// uploadSurface copies the latest drawn surface into the window texture.
func (v *viewer) uploadSurface() {
	surface := v.scene.Actor().Surface()
	if surface == nil || surface.Width() != v.texSize {
		return
	}
	v.pixels = surface.ReadPixels(v.pixels)
	for i := range v.colors {
		p := v.pixels[i*4 : i*4+4]
		v.colors[i] = color.RGBA{R: p[0], G: p[1], B: p[2], A: p[3]}
	}
	rl.UpdateTexture(v.texture, v.colors)
}

func (v *viewer) drawPanel() {
	panelX := v.screenWidth - panelWidth + 10
	panelY := float32(10)
	rl.DrawRectangle(int32(v.screenWidth-panelWidth), 0, panelWidth, int32(v.screenHeight), rl.Color{R: 235, G: 235, B: 235, A: 255})

	rl.DrawText("Fluid Surface", int32(panelX), int32(panelY), 20, rl.DarkGray)
	panelY += 35

	sim := v.scene.Actor().Simulation()
	rl.DrawText(fmt.Sprintf("Grid %dx%d  Frame %d", sim.GridSize(), sim.GridSize(), sim.Frame()), int32(panelX), int32(panelY), 14, rl.Gray)
	panelY += 18
	rl.DrawText(fmt.Sprintf("Bodies %d  Pending %d", v.scene.NumBodies(), sim.PendingInputs()), int32(panelX), int32(panelY), 14, rl.Gray)
	panelY += 18
	if field := v.latest.Load(); field != nil {
		rl.DrawText(fmt.Sprintf("Mass %.1f  Max speed %.2f", field.DensityMass, field.MaxSpeed), int32(panelX), int32(panelY), 14, rl.Gray)
	}
	panelY += 18
	if text := v.perfText.Load(); text != nil {
		rl.DrawText(*text, int32(panelX), int32(panelY), 14, rl.Gray)
	}
	panelY += 18
	rl.DrawText(fmt.Sprintf("FPS %d", rl.GetFPS()), int32(panelX), int32(panelY), 14, rl.Gray)
	panelY += 30

	sliderWidth := float32(panelWidth - 90)

	rl.DrawText("Brush radius", int32(panelX), int32(panelY), 14, rl.Gray)
	panelY += 18
	v.brushRadius = gui.SliderBar(
		rl.Rectangle{X: panelX, Y: panelY, Width: sliderWidth, Height: 20},
		"", "",
		v.brushRadius, 1, 64,
	)
	rl.DrawText(fmt.Sprintf("%.1f", v.brushRadius), int32(panelX+sliderWidth+10), int32(panelY+2), 16, rl.DarkGray)
	panelY += 30

	rl.DrawText("Brush strength", int32(panelX), int32(panelY), 14, rl.Gray)
	panelY += 18
	v.brushForce = gui.SliderBar(
		rl.Rectangle{X: panelX, Y: panelY, Width: sliderWidth, Height: 20},
		"", "",
		v.brushForce, 0.05, 4,
	)
	rl.DrawText(fmt.Sprintf("%.2f", v.brushForce), int32(panelX+sliderWidth+10), int32(panelY+2), 16, rl.DarkGray)
	panelY += 30

	rl.DrawText("Grid size", int32(panelX), int32(panelY), 14, rl.Gray)
	panelY += 18
	v.gridChoice = gui.SliderBar(
		rl.Rectangle{X: panelX, Y: panelY, Width: sliderWidth, Height: 20},
		"", "",
		v.gridChoice, 32, 512,
	)
	choice := roundGrid(v.gridChoice)
	rl.DrawText(fmt.Sprintf("%d", choice), int32(panelX+sliderWidth+10), int32(panelY+2), 16, rl.DarkGray)
	panelY += 35

	if gui.Button(rl.Rectangle{X: panelX, Y: panelY, Width: 120, Height: 30}, toggleText(v.paused, "Resume", "Pause")) {
		v.paused = !v.paused
	}
	if gui.Button(rl.Rectangle{X: panelX + 130, Y: panelY, Width: 120, Height: 30}, "Reinitialize") {
		v.reinit(choice)
	}
	panelY += 40

	if gui.Button(rl.Rectangle{X: panelX, Y: panelY, Width: 250, Height: 30}, toggleText(v.showBodies, "Hide bodies", "Show bodies")) {
		v.showBodies = !v.showBodies
	}

	rl.DrawText("LMB drag: stir  RMB drag: pan", int32(panelX), int32(v.screenHeight-50), 12, rl.Gray)
	rl.DrawText("Wheel: zoom  Space: pause  Home: reset", int32(panelX), int32(v.screenHeight-30), 12, rl.Gray)
}

// reinit tears the grid down and allocates it again at size n.
func (v *viewer) reinit(n int) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := v.scene.Actor().Resize(ctx, n); err != nil {
		slog.Error("reinitialize failed", "grid_size", n, "error", err)
		return
	}
	v.latest.Store(nil)
	v.loadTexture(n)
	v.resetCamera()
}

// roundGrid snaps a slider value to a multiple of the workgroup size.
func roundGrid(v float32) int {
	n := int(v+fluid.WorkgroupSize/2) / fluid.WorkgroupSize * fluid.WorkgroupSize
	return max(n, fluid.WorkgroupSize)
}

func toggleText(on bool, onText, offText string) string {
	if on {
		return onText
	}
	return offText
}

func (v *viewer) unload() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := v.scene.Close(ctx); err != nil {
		slog.Warn("closing scene", "error", err)
	}
	v.device.Close()
	rl.UnloadTexture(v.texture)
}
