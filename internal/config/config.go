// Package config handles configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/woozymasta/tabgrid/internal/crs"
	"github.com/woozymasta/tabgrid/internal/geo"
	"github.com/woozymasta/tabgrid/internal/processor"
	"github.com/woozymasta/tabgrid/internal/vectorio"

	"gopkg.in/yaml.v3"
)

// AutoCRS as metric_crs selects the UTM zone of each file's data.
const AutoCRS = "auto"

// Config represents the configuration file structure.
type Config struct {
	MetricCRS  string `yaml:"metric_crs" json:"metric_crs"`
	OutputCRS  string `yaml:"output_crs" json:"output_crs"`
	DefaultCRS string `yaml:"default_crs" json:"default_crs"`
	CapStyle   string `yaml:"cap_style" json:"cap_style"`
	SourceExt  string `yaml:"source_ext" json:"source_ext"`
	OutputDir  string `yaml:"output_dir" json:"output_dir"`
	Suffix     string `yaml:"suffix" json:"suffix"`
	Format     string `yaml:"format" json:"format"`
	OGR2OGR    string `yaml:"ogr2ogr" json:"ogr2ogr"`

	SideLength    float64 `yaml:"side_length" json:"side_length"` // meters
	MaxDistortion float64 `yaml:"max_distortion" json:"max_distortion"`
	Workers       int     `yaml:"workers" json:"workers"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		SideLength:    processor.DefaultSideLength,
		MetricCRS:     processor.DefaultMetricCRS.String(),
		OutputCRS:     crs.WGS84.String(),
		DefaultCRS:    crs.WGS84.String(),
		CapStyle:      geo.CapSquare.String(),
		SourceExt:     processor.DefaultSourceExt,
		OutputDir:     processor.DefaultOutputDir,
		Suffix:        processor.DefaultSuffix,
		Format:        processor.DefaultFormat,
		Workers:       1,
		MaxDistortion: 0.01,
		OGR2OGR:       vectorio.DefaultOGR2OGR,
	}
}

// Load reads the YAML configuration file at path over the defaults.
// An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks every setting and returns all problems found.
func (c *Config) Validate() error {
	var errs []error

	if c.SideLength <= 0 {
		errs = append(errs, fmt.Errorf("side_length must be > 0, got %v", c.SideLength))
	}

	if !c.AutoMetric() {
		if metric, err := crs.Parse(c.MetricCRS); err != nil {
			errs = append(errs, fmt.Errorf("metric_crs: %w", err))
		} else if metric.IsGeographic() {
			errs = append(errs, fmt.Errorf("metric_crs: %s is geographic, a projected CRS in meters is required", metric))
		}
	}
	if _, err := crs.Parse(c.OutputCRS); err != nil {
		errs = append(errs, fmt.Errorf("output_crs: %w", err))
	}
	if _, err := crs.Parse(c.DefaultCRS); err != nil {
		errs = append(errs, fmt.Errorf("default_crs: %w", err))
	}

	if _, err := geo.ParseCapStyle(c.CapStyle); err != nil {
		errs = append(errs, fmt.Errorf("cap_style: %w", err))
	}

	if _, err := vectorio.Default(c.OGR2OGR).Extension(c.Format); err != nil {
		errs = append(errs, fmt.Errorf("format: %w", err))
	}

	if strings.ContainsAny(strings.TrimPrefix(c.SourceExt, "."), `./\`) {
		errs = append(errs, fmt.Errorf("source_ext: invalid extension %q", c.SourceExt))
	}
	if strings.ContainsAny(c.Suffix, `/\`) {
		errs = append(errs, fmt.Errorf("suffix: must not contain path separators, got %q", c.Suffix))
	}

	if c.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be >= 1, got %d", c.Workers))
	}
	if c.MaxDistortion < 0 {
		errs = append(errs, fmt.Errorf("max_distortion must be >= 0, got %v", c.MaxDistortion))
	}

	return errors.Join(errs...)
}

// AutoMetric reports whether the metric CRS is picked per file.
func (c *Config) AutoMetric() bool {
	return strings.EqualFold(strings.TrimSpace(c.MetricCRS), AutoCRS)
}

// Options converts the configuration into converter options. Call Validate first.
func (c *Config) Options() (processor.Options, error) {
	opts := processor.Options{
		SideLength:    c.SideLength,
		AutoMetric:    c.AutoMetric(),
		SourceExt:     c.SourceExt,
		OutputDir:     c.OutputDir,
		Suffix:        c.Suffix,
		Format:        c.Format,
		Workers:       c.Workers,
		MaxDistortion: c.MaxDistortion,
	}

	var err error
	if !opts.AutoMetric {
		if opts.MetricCRS, err = crs.Parse(c.MetricCRS); err != nil {
			return opts, fmt.Errorf("metric_crs: %w", err)
		}
	}
	if opts.OutputCRS, err = crs.Parse(c.OutputCRS); err != nil {
		return opts, fmt.Errorf("output_crs: %w", err)
	}
	if opts.DefaultCRS, err = crs.Parse(c.DefaultCRS); err != nil {
		return opts, fmt.Errorf("default_crs: %w", err)
	}

	return opts, nil
}

// GeometryOps returns the geometry operations for the configured cap style.
func (c *Config) GeometryOps() (geo.Ops, error) {
	style, err := geo.ParseCapStyle(c.CapStyle)
	if err != nil {
		return geo.Ops{}, err
	}
	return geo.Ops{Cap: style}, nil
}
