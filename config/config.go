// Package config provides configuration loading and access for the fluid surface.
package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Initial state modes for the grid buffers.
const (
	InitialStateZero   = "zero"
	InitialStateRandom = "random"
)

// Config holds all configuration parameters.
type Config struct {
	Simulation SimulationConfig `yaml:"simulation"`
	Bounds     BoundsConfig     `yaml:"bounds"`
	Surface    SurfaceConfig    `yaml:"surface"`
	Bodies     BodiesConfig     `yaml:"bodies"`
	Device     DeviceConfig     `yaml:"device"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Preview    PreviewConfig    `yaml:"preview"`
	Screen     ScreenConfig     `yaml:"screen"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// SimulationConfig holds the fluid grid parameters. Fixed for the lifetime of a run;
// changing GridSize requires a full re-initialization.
type SimulationConfig struct {
	GridSize     int     `yaml:"grid_size"`
	Diffusion    float64 `yaml:"diffusion"`     // Density diffusion rate
	Viscosity    float64 `yaml:"viscosity"`     // Velocity diffusion rate
	InitialState string  `yaml:"initial_state"` // "zero" or "random"
	Seed         int64   `yaml:"seed"`          // Seed for the random initial state
	FixedDT      float64 `yaml:"fixed_dt"`      // Seconds per tick in headless runs
}

// BoundsConfig holds the world-space rectangle covered by the grid.
type BoundsConfig struct {
	OriginX     float64 `yaml:"origin_x"`
	OriginY     float64 `yaml:"origin_y"`
	HalfExtentX float64 `yaml:"half_extent_x"` // 0 = grid size
	HalfExtentY float64 `yaml:"half_extent_y"` // 0 = grid size
}

// SurfaceConfig holds output surface binding settings.
type SurfaceConfig struct {
	MaterialParameter string `yaml:"material_parameter"`
}

// BodiesConfig holds parameters for the moving bodies that stir the fluid.
type BodiesConfig struct {
	Count             int     `yaml:"count"`
	Radius            float64 `yaml:"radius"`
	Strength          float64 `yaml:"strength"`
	Speed             float64 `yaml:"speed"`
	MovementThreshold float64 `yaml:"movement_threshold"` // Minimum displacement before a body reports
	TickInterval      float64 `yaml:"tick_interval"`      // Seconds between location samples
}

// DeviceConfig holds execution context settings.
type DeviceConfig struct {
	QueueDepth     int `yaml:"queue_depth"`
	Workers        int `yaml:"workers"`          // 0 = GOMAXPROCS
	MemoryBudgetMB int `yaml:"memory_budget_mb"` // 0 = unlimited
}

// TelemetryConfig holds telemetry parameters.
type TelemetryConfig struct {
	StatsInterval int `yaml:"stats_interval"` // Frames between field measurements
	PerfWindow    int `yaml:"perf_window"`
}

// PreviewConfig holds the live preview server settings.
type PreviewConfig struct {
	Addr          string `yaml:"addr"`           // Empty = disabled
	FrameInterval int    `yaml:"frame_interval"` // Ticks between broadcast frames
}

// ScreenConfig holds display settings for the viewer.
type ScreenConfig struct {
	Width     int `yaml:"width"`
	Height    int `yaml:"height"`
	TargetFPS int `yaml:"target_fps"`
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	DT32          float32 // Simulation.FixedDT as float32
	GridSizeRecip float32 // 1 / GridSize, 0 when GridSize <= 0
	HalfExtentX   float32 // Effective bounds half extent
	HalfExtentY   float32
	MemoryBudget  int64 // Device.MemoryBudgetMB in bytes
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into same struct - only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.computeDerived()

	return cfg, nil
}

// validate rejects values that can never produce a working run.
// A non-positive grid size is not rejected here: Init reports it at runtime.
func (c *Config) validate() error {
	switch c.Simulation.InitialState {
	case InitialStateZero, InitialStateRandom:
	default:
		return fmt.Errorf("config: unknown initial_state %q", c.Simulation.InitialState)
	}
	if c.Simulation.Diffusion < 0 || c.Simulation.Viscosity < 0 {
		return fmt.Errorf("config: diffusion and viscosity must be non-negative")
	}
	if c.Bounds.HalfExtentX < 0 || c.Bounds.HalfExtentY < 0 {
		return fmt.Errorf("config: bounds half extents must be non-negative")
	}
	return nil
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	c.Derived.DT32 = float32(c.Simulation.FixedDT)
	c.Derived.GridSizeRecip = 0
	if c.Simulation.GridSize > 0 {
		c.Derived.GridSizeRecip = 1 / float32(c.Simulation.GridSize)
	}

	// Bounds default to one world unit per grid cell on each side of the origin
	hx := c.Bounds.HalfExtentX
	if hx == 0 {
		hx = float64(c.Simulation.GridSize)
	}
	hy := c.Bounds.HalfExtentY
	if hy == 0 {
		hy = float64(c.Simulation.GridSize)
	}
	c.Derived.HalfExtentX = float32(hx)
	c.Derived.HalfExtentY = float32(hy)

	c.Derived.MemoryBudget = int64(c.Device.MemoryBudgetMB) << 20
}

// Recompute refreshes derived values after fields were changed in code,
// such as CLI overrides.
func (c *Config) Recompute() {
	c.computeDerived()
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
