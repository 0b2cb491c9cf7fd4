// Package config provides configuration loading and management for stem4d.
// It handles loading configuration from YAML files and provides default values.
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
	// Processing parameters for shift extraction
	Processing struct {
		// Workers is the number of goroutines used for per-frame work
		Workers int `yaml:"workers"`

		// Threshold binarises masked frames at threshold*mean before the
		// centroid is taken; negative disables thresholding
		Threshold float64 `yaml:"threshold"`

		// NaNOnEmpty records NaN shifts for zero-intensity frames instead of
		// aborting the run
		NaNOnEmpty bool `yaml:"nanOnEmpty"`

		// AutoCenter calibrates the mask centre, mask radius and reference
		// origin from the mean diffraction pattern
		AutoCenter bool `yaml:"autoCenter"`

		// MaskCenterX, MaskCenterY and MaskRadius define the collection
		// mask when AutoCenter is off; MaskRadius <= 0 disables masking
		MaskCenterX float64 `yaml:"maskCenterX"`
		MaskCenterY float64 `yaml:"maskCenterY"`
		MaskRadius  float64 `yaml:"maskRadius"`

		// OriginX and OriginY are the reference origin when AutoCenter is off
		OriginX float64 `yaml:"originX"`
		OriginY float64 `yaml:"originY"`
	} `yaml:"processing"`

	// Ramp correction parameters
	Ramp struct {
		// Enabled turns d-scan plane subtraction on
		Enabled bool `yaml:"enabled"`

		// CornerFraction is the fraction of each scan edge treated as
		// reference corners for the plane fit, in (0, 0.5)
		CornerFraction float64 `yaml:"cornerFraction"`
	} `yaml:"ramp"`

	// Output parameters
	Output struct {
		// Dir is where rendered images and the run manifest land
		Dir string `yaml:"dir"`

		// ImageFormat is png or jpg
		ImageFormat string `yaml:"imageFormat"`

		// HistogramBins sets the bivariate histogram resolution
		HistogramBins int `yaml:"histogramBins"`

		// Report renders the interactive HTML exploration page
		Report bool `yaml:"report"`

		// SaveIntermediary also saves the uncorrected shift field images
		SaveIntermediary bool `yaml:"saveIntermediary"`
	} `yaml:"output"`

	// Fetch parameters for the one-time dataset download
	Fetch struct {
		// URL is downloaded to the input path when the input file is
		// missing; empty disables fetching
		URL string `yaml:"url"`
	} `yaml:"fetch"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.Workers = runtime.NumCPU()
	cfg.Processing.Threshold = 0.3
	cfg.Processing.NaNOnEmpty = false
	cfg.Processing.AutoCenter = true
	cfg.Processing.MaskRadius = 0

	cfg.Ramp.Enabled = true
	cfg.Ramp.CornerFraction = 0.05

	cfg.Output.Dir = "stem4d_output"
	cfg.Output.ImageFormat = "png"
	cfg.Output.HistogramBins = 64
	cfg.Output.Report = false
	cfg.Output.SaveIntermediary = false

	return cfg
}

// Validate checks the ranges a loaded configuration must satisfy.
func (c *Config) Validate() error {
	if c.Processing.Workers < 1 {
		return fmt.Errorf("processing.workers must be at least 1, got %d", c.Processing.Workers)
	}
	if c.Ramp.Enabled && (c.Ramp.CornerFraction <= 0 || c.Ramp.CornerFraction >= 0.5) {
		return fmt.Errorf("ramp.cornerFraction must be in (0, 0.5), got %g", c.Ramp.CornerFraction)
	}
	if c.Output.HistogramBins < 1 {
		return fmt.Errorf("output.histogramBins must be at least 1, got %d", c.Output.HistogramBins)
	}
	switch c.Output.ImageFormat {
	case "png", "jpg", "jpeg":
	default:
		return fmt.Errorf("output.imageFormat must be png, jpg or jpeg, got %q", c.Output.ImageFormat)
	}
	return nil
}

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path.
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
