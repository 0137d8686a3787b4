package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("loading defaults: %v", err)
	}

	if cfg.Simulation.GridSize != 256 {
		t.Errorf("expected default grid size 256, got %d", cfg.Simulation.GridSize)
	}
	if cfg.Surface.MaterialParameter != "SimulationRT" {
		t.Errorf("expected material parameter SimulationRT, got %q", cfg.Surface.MaterialParameter)
	}
	if cfg.Bodies.MovementThreshold != 5 {
		t.Errorf("expected movement threshold 5, got %f", cfg.Bodies.MovementThreshold)
	}
	if cfg.Derived.HalfExtentX != 256 || cfg.Derived.HalfExtentY != 256 {
		t.Errorf("expected half extents to default to grid size, got %f,%f",
			cfg.Derived.HalfExtentX, cfg.Derived.HalfExtentY)
	}
	if cfg.Derived.GridSizeRecip != 1.0/256 {
		t.Errorf("expected grid size recip 1/256, got %f", cfg.Derived.GridSizeRecip)
	}
}

func TestLoadMergesUserFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte("simulation:\n  grid_size: 64\n  initial_state: zero\nbounds:\n  half_extent_x: 10\n")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("loading config: %v", err)
	}

	if cfg.Simulation.GridSize != 64 {
		t.Errorf("expected grid size 64, got %d", cfg.Simulation.GridSize)
	}
	if cfg.Simulation.InitialState != InitialStateZero {
		t.Errorf("expected zero initial state, got %q", cfg.Simulation.InitialState)
	}
	// Untouched fields keep defaults
	if cfg.Bodies.Count != 4 {
		t.Errorf("expected default body count 4, got %d", cfg.Bodies.Count)
	}
	if cfg.Derived.HalfExtentX != 10 || cfg.Derived.HalfExtentY != 64 {
		t.Errorf("unexpected half extents %f,%f", cfg.Derived.HalfExtentX, cfg.Derived.HalfExtentY)
	}
}

func TestLoadRejectsBadInitialState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("simulation:\n  initial_state: swirl\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected error for unknown initial_state")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestWriteYAMLRoundtrip(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Simulation.GridSize = 32

	path := filepath.Join(t.TempDir(), "snapshot.yaml")
	if err := cfg.WriteYAML(path); err != nil {
		t.Fatalf("writing snapshot: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("reloading snapshot: %v", err)
	}
	if loaded.Simulation.GridSize != 32 {
		t.Errorf("expected grid size 32 after reload, got %d", loaded.Simulation.GridSize)
	}
}

func TestNonPositiveGridSizeLoads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("simulation:\n  grid_size: 0\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("grid size 0 should load and fail later at Init: %v", err)
	}
	if cfg.Derived.GridSizeRecip != 0 {
		t.Errorf("expected recip 0 for grid size 0, got %f", cfg.Derived.GridSizeRecip)
	}
}

func TestRecomputeAfterOverride(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Simulation.GridSize = 64
	cfg.Device.MemoryBudgetMB = 2
	cfg.Recompute()
	if cfg.Derived.HalfExtentX != 64 || cfg.Derived.GridSizeRecip != 1.0/64 {
		t.Errorf("derived not refreshed: %+v", cfg.Derived)
	}
	if cfg.Derived.MemoryBudget != 2<<20 {
		t.Errorf("memory budget = %d, want %d", cfg.Derived.MemoryBudget, 2<<20)
	}
}
