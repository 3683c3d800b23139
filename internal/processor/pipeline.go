package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/woozymasta/tabgrid/internal/crs"
	"github.com/woozymasta/tabgrid/internal/geo"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ConvertFile runs the grid pipeline for one file and publishes the result in outDir.
// It logs through the logger attached to ctx, or the global logger.
func (c *Converter) ConvertFile(ctx context.Context, path, outDir string) FileResult {
	start := time.Now()
	logger := contextLogger(ctx).With().Str("file", filepath.Base(path)).Logger()

	res := FileResult{File: path}
	fail := func(stage Stage, err error) FileResult {
		res.Err = &ConversionError{File: path, Stage: stage, Err: err}
		res.Duration = time.Since(start)
		logger.Error().Err(err).Str("stage", string(stage)).Msg("Conversion failed")
		return res
	}

	fc, err := c.io.Read(ctx, path)
	if errors.Is(err, crs.ErrUnsupported) {
		// the source declares a CRS that cannot be used
		return fail(StageCRS, err)
	}
	if err != nil {
		return fail(StageRead, err)
	}

	if fc.CRS.IsZero() {
		logger.Warn().
			Str("assumed", c.opts.DefaultCRS.String()).
			Msg("No CRS found, assuming default")
		fc.CRS = c.opts.DefaultCRS
		res.AssumedCRS = true
	}
	res.SourceCRS = fc.CRS

	if err := fc.CRS.Validate(); err != nil {
		return fail(StageCRS, err)
	}
	metric := c.metricCRS(fc)
	res.MetricCRS = metric

	logger.Debug().
		Str("crs", fc.CRS.String()).
		Str("metric_crs", metric.String()).
		Int("features", fc.Len()).
		Msg("File loaded")

	if err := c.ops.Reproject(fc, metric); err != nil {
		return fail(StageReproject, err)
	}

	radius := c.opts.SideLength / 2
	for i, f := range fc.Features {
		if f.Geometry == nil {
			res.Empty++
			continue
		}
		g, err := c.ops.Square(f.Geometry, radius)
		if errors.Is(err, geo.ErrEmptyGeometry) || errors.Is(err, geo.ErrEmptyBuffer) {
			f.Geometry = nil
			res.Empty++
			continue
		}
		if err != nil {
			return fail(StageGrid, fmt.Errorf("feature %d: %w", i, err))
		}
		f.Geometry = g
	}
	if res.Empty > 0 {
		logger.Warn().Int("features", res.Empty).Msg("Features without geometry are written without a square")
	}

	quality, err := Measure(fc)
	if err != nil {
		return fail(StageGrid, err)
	}
	res.Quality = quality
	c.reportQuality(logger, fc, quality)

	if err := c.ops.Reproject(fc, c.opts.OutputCRS); err != nil {
		return fail(StageReproject, err)
	}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	fc.Name = stem + c.opts.Suffix

	outputs, err := c.publish(ctx, fc, outDir)
	if err != nil {
		return fail(StageWrite, err)
	}

	res.Outputs = outputs
	res.Features = fc.Len()
	res.Duration = time.Since(start)

	logger.Info().
		Int("features", res.Features).
		Str("output", outputs[0]).
		Dur("duration", res.Duration).
		Msg("File converted")

	return res
}

func contextLogger(ctx context.Context) zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return *l
	}
	return log.Logger
}

// metricCRS returns the CRS squares are built in for fc.
func (c *Converter) metricCRS(fc *geo.FeatureCollection) crs.CRS {
	if c.opts.AutoMetric {
		if zone, ok := SuggestCRS(fc); ok {
			return zone
		}
	}
	return c.opts.MetricCRS
}

// publish writes fc to a staging directory inside outDir and renames every
// produced file into outDir, so a failed write leaves no partial output.
func (c *Converter) publish(ctx context.Context, fc *geo.FeatureCollection, outDir string) ([]string, error) {
	ext, err := c.io.Extension(c.opts.Format)
	if err != nil {
		return nil, err
	}

	staging, err := os.MkdirTemp(outDir, ".staging-")
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := os.RemoveAll(staging); err != nil {
			log.Warn().Err(err).Str("path", staging).Msg("Failed to remove staging directory")
		}
	}()

	written, err := c.io.Write(ctx, fc, filepath.Join(staging, fc.Name+ext), c.opts.Format)
	if err != nil {
		return nil, err
	}
	if len(written) == 0 {
		return nil, errors.New("writer produced no files")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, src := range written {
		if _, err := os.Stat(src); err != nil {
			return nil, fmt.Errorf("writer output: %w", err)
		}
	}

	outputs := make([]string, 0, len(written))
	for _, src := range written {
		dst := filepath.Join(outDir, filepath.Base(src))
		if err := os.Rename(src, dst); err != nil {
			unpublish(outputs)
			return nil, err
		}
		outputs = append(outputs, dst)
	}
	return outputs, nil
}

// unpublish removes files already moved into the output directory.
func unpublish(paths []string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", p).Msg("Failed to remove partial output")
		}
	}
}

func (c *Converter) reportQuality(logger zerolog.Logger, fc *geo.FeatureCollection, q Quality) {
	if q.Overlaps > 0 {
		logger.Info().Int("squares", q.Overlaps).Msg("Squares overlap each other")
	}
	if c.opts.MaxDistortion <= 0 || q.Distortion <= c.opts.MaxDistortion {
		return
	}

	ev := logger.Warn().
		Float64("distortion", q.Distortion).
		Float64("max_distortion", c.opts.MaxDistortion).
		Str("metric_crs", fc.CRS.String())
	if suggested, ok := SuggestCRS(fc); ok {
		ev = ev.Str("suggested_crs", suggested.String())
	}
	ev.Msg("Square sides differ from ground distance, data may lie outside the metric CRS zone")
}
