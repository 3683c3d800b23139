// Package processor turns every vector file of a directory into a grid of
// fixed-size squares, one square per feature.
package processor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/woozymasta/tabgrid/internal/crs"
	"github.com/woozymasta/tabgrid/internal/geo"
	"github.com/woozymasta/tabgrid/internal/vectorio"

	"github.com/paulmach/orb"
)

// Defaults used for zero Options fields.
const (
	DefaultSideLength = 50.0
	DefaultSourceExt  = ".tab"
	DefaultOutputDir  = "converted_shp"
	DefaultSuffix     = "_grid"
	DefaultFormat     = vectorio.FormatShapefile
)

// DefaultMetricCRS is WGS 84 / UTM zone 29N.
var DefaultMetricCRS = crs.UTM(29, false)

// Batch level errors. Nothing is converted when one of them is returned.
var (
	ErrInputDirNotFound = errors.New("input directory not found")
	ErrNotADirectory    = errors.New("input path is not a directory")
	ErrNoInputFiles     = errors.New("no input files found")
)

// VectorIO reads and writes vector files.
type VectorIO interface {
	Read(ctx context.Context, path string) (*geo.FeatureCollection, error)
	Write(ctx context.Context, fc *geo.FeatureCollection, path, format string) ([]string, error)
	Extension(format string) (string, error)
}

// GeometryOps reprojects collections and builds squares.
type GeometryOps interface {
	Reproject(fc *geo.FeatureCollection, dst crs.CRS) error
	Square(g orb.Geometry, radius float64) (orb.Geometry, error)
}

// Options controls a conversion run.
type Options struct {
	// SideLength is the square side in metres.
	SideLength float64
	// MetricCRS is the projected CRS the squares are built in.
	MetricCRS crs.CRS
	// AutoMetric picks the UTM zone of each file's data instead of MetricCRS.
	// MetricCRS is still used for files without geometries.
	AutoMetric bool
	OutputCRS  crs.CRS
	// DefaultCRS is assigned to inputs that declare none.
	DefaultCRS crs.CRS
	SourceExt  string
	// OutputDir is relative to the input directory unless absolute.
	OutputDir string
	Suffix    string
	Format    string
	Workers   int
	// MaxDistortion is the relative side error above which a warning is logged; 0 disables it.
	MaxDistortion float64
}

func (o Options) withDefaults() Options {
	if o.SideLength == 0 {
		o.SideLength = DefaultSideLength
	}
	if o.MetricCRS.IsZero() {
		o.MetricCRS = DefaultMetricCRS
	}
	if o.OutputCRS.IsZero() {
		o.OutputCRS = crs.WGS84
	}
	if o.DefaultCRS.IsZero() {
		o.DefaultCRS = crs.WGS84
	}
	if o.SourceExt == "" {
		o.SourceExt = DefaultSourceExt
	}
	if !strings.HasPrefix(o.SourceExt, ".") {
		o.SourceExt = "." + o.SourceExt
	}
	if o.OutputDir == "" {
		o.OutputDir = DefaultOutputDir
	}
	if o.Suffix == "" {
		o.Suffix = DefaultSuffix
	}
	if o.Format == "" {
		o.Format = DefaultFormat
	}
	if o.Workers < 1 {
		o.Workers = 1
	}
	return o
}

// Stage names the pipeline step a file failed in.
type Stage string

// Pipeline stages.
const (
	StageRead      Stage = "read"
	StageCRS       Stage = "crs"
	StageReproject Stage = "reproject"
	StageGrid      Stage = "grid"
	StageWrite     Stage = "write"
)

// ConversionError is the failure of a single file.
type ConversionError struct {
	File  string
	Stage Stage
	Err   error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("%s: %s: %v", filepath.Base(e.File), e.Stage, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// FileResult is the outcome of one input file.
type FileResult struct {
	File    string
	Outputs []string
	// Features is the number of features written; Empty of those have no geometry.
	Features  int
	Empty     int
	SourceCRS crs.CRS
	MetricCRS crs.CRS
	// AssumedCRS is set when the input had no CRS and DefaultCRS was assigned.
	AssumedCRS bool
	Quality    Quality
	// Skipped is set when the run was cancelled before the file started.
	Skipped  bool
	Err      error
	Duration time.Duration
}

// OK reports whether the file was converted.
func (r FileResult) OK() bool { return r.Err == nil }

// Summary describes a batch run.
type Summary struct {
	RunID     string
	Converted int
	Total     int
	// OutputDir is absolute.
	OutputDir string
	Results   []FileResult
	Duration  time.Duration
}

// Failed returns the results of files that were not converted.
func (s *Summary) Failed() []FileResult {
	var out []FileResult
	for _, r := range s.Results {
		if !r.OK() {
			out = append(out, r)
		}
	}
	return out
}

// Converter runs the grid pipeline.
type Converter struct {
	io   VectorIO
	ops  GeometryOps
	opts Options
}

// New returns a Converter. Zero option fields take their defaults.
func New(io VectorIO, ops GeometryOps, opts Options) *Converter {
	return &Converter{io: io, ops: ops, opts: opts.withDefaults()}
}

// Options returns the effective options.
func (c *Converter) Options() Options { return c.opts }
