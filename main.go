package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/pthm-cable/fluidsurface/config"
	"github.com/pthm-cable/fluidsurface/fluid"
	"github.com/pthm-cable/fluidsurface/gpu"
	"github.com/pthm-cable/fluidsurface/preview"
	"github.com/pthm-cable/fluidsurface/scene"
	"github.com/pthm-cable/fluidsurface/telemetry"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	logStats := flag.Bool("log-stats", false, "Output field and perf stats via slog")
	outputDir := flag.String("output-dir", "", "Output directory for CSV logs and config snapshot")
	seed := flag.Int64("seed", 0, "RNG seed (0 = use config)")
	grid := flag.Int("grid", 0, "Grid size (0 = use config)")
	maxTicks := flag.Int("max-ticks", 0, "Stop after N ticks (0 = unlimited)")
	serve := flag.String("serve", "", "Serve a live preview on this address (empty = use config)")
	flag.Parse()

	// Initialize config before anything else
	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.Cfg()
	if *seed != 0 {
		cfg.Simulation.Seed = *seed
	}
	if *grid != 0 {
		cfg.Simulation.GridSize = *grid
		cfg.Bounds.HalfExtentX, cfg.Bounds.HalfExtentY = 0, 0
	}
	if *serve != "" {
		cfg.Preview.Addr = *serve
	}
	cfg.Recompute()

	// Set up slog (JSON to stdout for structured logging)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	gpu.SetLogger(logger.With("component", "gpu"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, *outputDir, *maxTicks, *logStats); err != nil {
		slog.Error("run failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, outputDir string, maxTicks int, logStats bool) error {
	device := gpu.NewDevice(gpu.DeviceOptions{
		QueueDepth:   cfg.Device.QueueDepth,
		Workers:      cfg.Device.Workers,
		MemoryBudget: cfg.Derived.MemoryBudget,
	})
	defer device.Close()

	out, err := telemetry.NewOutputManager(outputDir)
	if err != nil {
		return err
	}
	defer out.Close()
	if err := out.WriteConfig(cfg); err != nil {
		return err
	}

	var hub *preview.Hub
	if cfg.Preview.Addr != "" {
		hub = preview.NewHub(slog.Default())
		go func() {
			if err := preview.Serve(ctx, cfg.Preview.Addr, hub); err != nil {
				slog.Error("preview server failed", "error", err)
			}
		}()
	}

	perf := telemetry.NewPerfCollector(cfg.Telemetry.PerfWindow)
	perfWindow := uint64(max(cfg.Telemetry.PerfWindow, 1))

	// The observer runs on the device's execution goroutine, the only place
	// perf is touched while frames are in flight.
	observer := func(rep fluid.FrameReport) {
		if rep.Measured {
			if err := out.WriteField(rep.Field); err != nil {
				slog.Warn("writing field stats", "error", err)
			}
			if logStats {
				rep.Field.LogStats()
			}
			if hub != nil {
				hub.BroadcastStats(preview.Stats{
					Frame:    rep.Frame,
					SimTime:  rep.SimTime,
					Density:  rep.Field.DensityMass,
					MaxSpeed: rep.Field.MaxSpeed,
				})
			}
		}
		if rep.Frame%perfWindow == 0 {
			stats := perf.Stats()
			if err := out.WritePerf(stats, int64(rep.Frame)); err != nil {
				slog.Warn("writing perf stats", "error", err)
			}
			if logStats {
				stats.LogStats()
			}
		}
	}

	opts := scene.OptionsFromConfig(cfg)
	opts.Actor.Simulation.Device = device
	opts.Actor.Simulation.Observer = observer
	opts.Actor.Simulation.Perf = perf
	opts.Logger = slog.Default()

	sc := scene.New(opts)
	if err := sc.Init(ctx); err != nil {
		return err
	}

	dt := cfg.Derived.DT32
	slog.Info("starting headless simulation",
		"seed", cfg.Simulation.Seed,
		"grid_size", cfg.Simulation.GridSize,
		"bodies", sc.NumBodies(),
		"max_ticks", maxTicks,
		"preview", cfg.Preview.Addr,
	)

	// Pace to real time only when someone may be watching
	var pace <-chan time.Time
	if hub != nil {
		ticker := time.NewTicker(time.Duration(float64(time.Second) * cfg.Simulation.FixedDT))
		defer ticker.Stop()
		pace = ticker.C
	}
	frameInterval := max(cfg.Preview.FrameInterval, 1)

	var tick int
loop:
	for maxTicks <= 0 || tick < maxTicks {
		select {
		case <-ctx.Done():
			break loop
		default:
		}
		if pace != nil {
			select {
			case <-pace:
			case <-ctx.Done():
				break loop
			}
		}

		sc.Update(dt)
		tick++

		if hub != nil && tick%frameInterval == 0 && hub.Clients() > 0 {
			if err := hub.BroadcastSurface(sc.Actor().Surface()); err != nil {
				slog.Warn("broadcasting frame", "error", err)
			}
		}
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sc.Close(closeCtx); err != nil {
		return err
	}

	st := device.Stats()
	slog.Info("simulation finished",
		"ticks", tick,
		"registered_cells", sc.RegisteredCells(),
		"batches", st.Batches,
		"commands", st.Commands,
		"command_errors", st.CommandErrors,
		"dispatches", st.Dispatches,
	)
	return nil
}
