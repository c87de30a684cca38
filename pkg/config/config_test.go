package config

import (
	"os"
	"path/filepath"
	"testing"
)

// TestDefaultConfig verifies the documented default values.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Evaluation.DistanceThreshold != 10.0 {
		t.Errorf("expected default distance threshold 10, got %g", cfg.Evaluation.DistanceThreshold)
	}
	if cfg.Evaluation.Skeleton {
		t.Errorf("skeleton mode should be off by default")
	}
	if cfg.Evaluation.AllowBackgroundAppearance {
		t.Errorf("background appearance should be off by default")
	}
	if cfg.Evaluation.ReportFPFN {
		t.Errorf("fp/fn reporting should be off by default")
	}
	if cfg.Evaluation.GTBackgroundLabel != 0 || cfg.Evaluation.RecBackgroundLabel != 0 {
		t.Errorf("background labels should default to 0")
	}
	if cfg.Solver.TimeoutSeconds != 0 {
		t.Errorf("solver timeout should default to unbounded")
	}
	if cfg.Solver.NumThreads <= 0 {
		t.Errorf("default thread count should be positive, got %d", cfg.Solver.NumThreads)
	}
}

// TestLoadMissingFile verifies that a missing configuration file yields the
// defaults.
func TestLoadMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Evaluation.DistanceThreshold != 10.0 {
		t.Errorf("expected default configuration, got threshold %g", cfg.Evaluation.DistanceThreshold)
	}
}

// TestLoadConfigFile verifies loading values from a YAML file over the
// defaults.
func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `evaluation:
  skeleton: true
  distanceThreshold: 25.5
  reportFpFn: true
measures:
  voi: true
solver:
  numThreads: 3
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if !cfg.Evaluation.Skeleton {
		t.Errorf("skeleton mode should be enabled")
	}
	if cfg.Evaluation.DistanceThreshold != 25.5 {
		t.Errorf("expected threshold 25.5, got %g", cfg.Evaluation.DistanceThreshold)
	}
	if !cfg.Evaluation.ReportFPFN {
		t.Errorf("fp/fn reporting should be enabled")
	}
	if !cfg.Measures.VOI {
		t.Errorf("VOI measure should be enabled")
	}
	if cfg.Solver.NumThreads != 3 {
		t.Errorf("expected 3 threads, got %d", cfg.Solver.NumThreads)
	}

	// untouched values keep their defaults
	if cfg.Output.CorrectedDir != "corrected" {
		t.Errorf("expected default corrected dir, got %q", cfg.Output.CorrectedDir)
	}
}

// TestSaveAndReload verifies the save/load round trip.
func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Evaluation.DistanceThreshold = 50
	cfg.Measures.Rand = true

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Evaluation.DistanceThreshold != 50 {
		t.Errorf("expected threshold 50, got %g", loaded.Evaluation.DistanceThreshold)
	}
	if !loaded.Measures.Rand {
		t.Errorf("Rand measure flag was not preserved")
	}
}
