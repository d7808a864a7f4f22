// Package config provides configuration loading and management for uedcenter.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"uedcenter/internal/models"
	"uedcenter/pkg/centering"
	"uedcenter/pkg/mask"
	"uedcenter/pkg/poi"
	"uedcenter/pkg/polar"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Quantile mask parameters
	Mask struct {
		// LowerQuantile is the intensity quantile below which pixels are masked out
		LowerQuantile float64 `yaml:"lowerQuantile"`

		// UpperQuantile is the intensity quantile above which pixels are masked out
		UpperQuantile float64 `yaml:"upperQuantile"`

		// Saturation marks pixels at or above this value invalid; 0 disables it
		Saturation float64 `yaml:"saturation"`

		// CloseRadius is the morphological closing radius applied to the mask; 0 disables it
		CloseRadius float64 `yaml:"closeRadius"`
	} `yaml:"mask"`

	// Radial profile parameters
	Profile struct {
		// Directions is the number of evenly spaced rays per profile set
		Directions int `yaml:"directions"`

		// MinValid is the number of valid samples a ray needs to enter the cost
		MinValid int `yaml:"minValid"`
	} `yaml:"profile"`

	// Center search parameters
	Centering struct {
		// Method selects the cost function: "dispersion" or "powerlaw"
		Method string `yaml:"method"`

		// SearchRadius bounds the search around the seed, in pixels
		SearchRadius float64 `yaml:"searchRadius"`

		Tolerance        float64 `yaml:"tolerance"`
		StallIterations  int     `yaml:"stallIterations"`
		MaxIterations    int     `yaml:"maxIterations"`
		MinValidFraction float64 `yaml:"minValidFraction"`
		SimplexSize      float64 `yaml:"simplexSize"`

		// MaxFitSize is the shorter image side the search works at; larger
		// images are downsampled by an integer step
		MaxFitSize int `yaml:"maxFitSize"`

		// ErodeRadius erodes the mask before the search; 0 disables it
		ErodeRadius float64 `yaml:"erodeRadius"`

		// InitialGuess seeds the search in pixels; unset selects the centroid
		InitialGuess *models.Center `yaml:"initialGuess,omitempty"`
	} `yaml:"centering"`

	// Polar transform parameters
	Polar struct {
		// RadiusBins is the number of radius rows; 0 selects unit-pixel bins
		RadiusBins int `yaml:"radiusBins"`

		// AngleBins is the number of angle columns over the full circle
		AngleBins int `yaml:"angleBins"`
	} `yaml:"polar"`

	// Display parameters
	Display struct {
		// Brightness scales the display maximum; must lie in (0, 1]
		Brightness float64 `yaml:"brightness"`

		// PointsOfInterest is a comma-separated list of radii in physical units
		PointsOfInterest string `yaml:"pointsOfInterest"`

		// PixelSize is the physical size of one pixel
		PixelSize float64 `yaml:"pixelSize"`
	} `yaml:"display"`

	// Output parameters
	Output struct {
		// Verbose enables debug logging
		Verbose bool `yaml:"verbose"`

		// LogMode selects the logger: "release" for JSON, anything else for console
		LogMode string `yaml:"logMode"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Mask.LowerQuantile = 0.10
	cfg.Mask.UpperQuantile = 0.95
	cfg.Mask.CloseRadius = 1

	cfg.Profile.Directions = 16
	cfg.Profile.MinValid = 5

	search := centering.DefaultOptions()
	cfg.Centering.Method = "dispersion"
	cfg.Centering.SearchRadius = search.SearchRadius
	cfg.Centering.Tolerance = search.Tolerance
	cfg.Centering.StallIterations = search.StallIterations
	cfg.Centering.MaxIterations = search.MaxIterations
	cfg.Centering.MinValidFraction = search.MinValidFraction
	cfg.Centering.SimplexSize = search.SimplexSize
	cfg.Centering.MaxFitSize = 512
	cfg.Centering.ErodeRadius = 5

	cfg.Polar.RadiusBins = 0
	cfg.Polar.AngleBins = polar.DefaultAngleBins

	cfg.Display.Brightness = 0.1
	cfg.Display.PointsOfInterest = poi.DefaultText
	cfg.Display.PixelSize = 1.0

	cfg.Output.Verbose = false
	cfg.Output.LogMode = "development"

	return cfg
}

// Validate checks every parameter before any computation runs.
// All failures wrap models.ErrInvalidParameter.
func (c *Config) Validate() error {
	if err := mask.ValidateQuantiles(c.Mask.LowerQuantile, c.Mask.UpperQuantile); err != nil {
		return err
	}
	if c.Mask.Saturation < 0 || c.Mask.CloseRadius < 0 {
		return invalid("mask saturation %v / close radius %v", c.Mask.Saturation, c.Mask.CloseRadius)
	}
	if c.Profile.Directions < 2 {
		return invalid("profile directions %d, need at least 2", c.Profile.Directions)
	}
	if c.Profile.MinValid < 1 {
		return invalid("profile minValid %d", c.Profile.MinValid)
	}
	if _, ok := centering.CostByName(c.Centering.Method, c.Profile.Directions, c.Profile.MinValid); !ok {
		return invalid("unknown centering method %q", c.Centering.Method)
	}
	if !(c.Centering.SearchRadius > 0) || math.IsInf(c.Centering.SearchRadius, 0) {
		return invalid("search radius %v", c.Centering.SearchRadius)
	}
	if c.Centering.MaxFitSize < 1 {
		return invalid("maxFitSize %d", c.Centering.MaxFitSize)
	}
	if c.Centering.ErodeRadius < 0 {
		return invalid("erode radius %v", c.Centering.ErodeRadius)
	}
	if g := c.Centering.InitialGuess; g != nil && !(isFinite(g.X) && isFinite(g.Y)) {
		return invalid("initial guess %v", *g)
	}
	if c.Polar.RadiusBins < 0 || c.Polar.AngleBins < 1 {
		return invalid("polar bins %d x %d", c.Polar.RadiusBins, c.Polar.AngleBins)
	}
	if !(c.Display.Brightness > 0) || c.Display.Brightness > 1 {
		return invalid("brightness %v, must lie in (0, 1]", c.Display.Brightness)
	}
	if !(c.Display.PixelSize > 0) || math.IsInf(c.Display.PixelSize, 0) {
		return invalid("pixel size %v", c.Display.PixelSize)
	}
	return nil
}

// SearchOptions maps the centering section onto optimizer settings.
// The downsampling step and logger are left for the caller.
func (c *Config) SearchOptions() centering.Options {
	opts := centering.DefaultOptions()
	opts.SearchRadius = c.Centering.SearchRadius
	opts.Tolerance = c.Centering.Tolerance
	opts.StallIterations = c.Centering.StallIterations
	opts.MaxIterations = c.Centering.MaxIterations
	opts.MinValidFraction = c.Centering.MinValidFraction
	opts.SimplexSize = c.Centering.SimplexSize
	if g := c.Centering.InitialGuess; g != nil {
		guess := *g
		opts.InitialGuess = &guess
	}
	if cost, ok := centering.CostByName(c.Centering.Method, c.Profile.Directions, c.Profile.MinValid); ok {
		opts.Cost = cost
	}
	return opts
}

func isFinite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{models.ErrInvalidParameter}, args...)...)
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
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

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
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

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
