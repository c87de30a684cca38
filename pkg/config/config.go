// Package config provides configuration loading and management for tedeval.
// It handles loading configuration from YAML files and provides default
// values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML.
type Config struct {
	// Evaluation parameters of the tolerant edit distance
	Evaluation struct {
		// Skeleton switches to the skeleton tolerance criterion for
		// curvilinear ground truth
		Skeleton bool `yaml:"skeleton"`

		// DistanceThreshold is the maximum allowed boundary shift in
		// physical units
		DistanceThreshold float64 `yaml:"distanceThreshold"`

		// ReportFPFN reclassifies background splits and merges as false
		// positives and false negatives
		ReportFPFN bool `yaml:"reportFpFn"`

		// AllowBackgroundAppearance permits background to appear between
		// two shifted boundaries
		AllowBackgroundAppearance bool `yaml:"allowBackgroundAppearance"`

		// GTBackgroundLabel and RecBackgroundLabel are the background
		// label values of the two volumes
		GTBackgroundLabel  uint64 `yaml:"gtBackgroundLabel"`
		RecBackgroundLabel uint64 `yaml:"recBackgroundLabel"`

		// ReportLocations additionally produces per-error location
		// records
		ReportLocations bool `yaml:"reportLocations"`
	} `yaml:"evaluation"`

	// Auxiliary measures reported next to the edit distance
	Measures struct {
		// VOI enables the variation of information measure
		VOI bool `yaml:"voi"`

		// Rand enables the adapted Rand error measure
		Rand bool `yaml:"rand"`

		// DetectionOverlap enables the 2D detection overlap measure
		DetectionOverlap bool `yaml:"detectionOverlap"`

		// IgnoreBackground drops ground-truth background voxels from VOI
		// and Rand
		IgnoreBackground bool `yaml:"ignoreBackground"`
	} `yaml:"measures"`

	// Solver parameters
	Solver struct {
		// TimeoutSeconds bounds the MILP solve; zero means unbounded
		TimeoutSeconds float64 `yaml:"timeoutSeconds"`

		// NumThreads caps worker threads of the parallel phases
		NumThreads int `yaml:"numThreads"`
	} `yaml:"solver"`

	// Output parameters
	Output struct {
		// CorrectedDir is where the corrected reconstruction is written;
		// empty disables the output
		CorrectedDir string `yaml:"correctedDir"`

		// PlotFile is the tab-separated report file to append to; empty
		// disables the output
		PlotFile string `yaml:"plotFile"`

		// Verbose enables debug logging
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default evaluation parameters
	cfg.Evaluation.DistanceThreshold = 10.0
	cfg.Evaluation.GTBackgroundLabel = 0
	cfg.Evaluation.RecBackgroundLabel = 0

	// Set default solver parameters
	cfg.Solver.NumThreads = runtime.NumCPU()

	// Set default output parameters
	cfg.Output.CorrectedDir = "corrected"

	return cfg
}

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the
// specified path.
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}
