package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type job struct {
	Index int
	Path  string
}

type result struct {
	Index  int
	Result FileResult
}

// Convert converts every matching file directly inside dir.
// Per-file failures are reported in the summary and never stop the batch;
// an error is returned only when the batch cannot start.
func (c *Converter) Convert(ctx context.Context, dir string) (*Summary, error) {
	start := time.Now()

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(abs)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrInputDirNotFound, dir)
	}
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotADirectory, dir)
	}

	files, err := c.discover(abs)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no *%s files in %s", ErrNoInputFiles, c.opts.SourceExt, dir)
	}

	outDir := c.opts.OutputDir
	if !filepath.IsAbs(outDir) {
		outDir = filepath.Join(abs, outDir)
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	logger := log.With().Str("run", runID).Logger()

	logger.Info().
		Str("input", abs).
		Str("output", outDir).
		Int("files", len(files)).
		Int("workers", c.opts.Workers).
		Float64("side", c.opts.SideLength).
		Msg("Starting grid conversion")

	summary := &Summary{
		RunID:     runID,
		Total:     len(files),
		OutputDir: outDir,
		Results:   c.processBatch(ctx, files, outDir, logger),
	}
	for _, r := range summary.Results {
		if r.OK() {
			summary.Converted++
		}
	}
	summary.Duration = time.Since(start)

	logger.Info().
		Int("converted", summary.Converted).
		Int("total", summary.Total).
		Dur("duration", summary.Duration).
		Msg("Grid conversion finished")

	return summary, nil
}

// discover lists regular files in dir whose extension matches, sorted by name.
func (c *Converter) discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, e := range entries {
		if !strings.EqualFold(filepath.Ext(e.Name()), c.opts.SourceExt) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		// follows symlinks
		if info, err := os.Stat(path); err != nil || !info.Mode().IsRegular() {
			continue
		}
		files = append(files, path)
	}
	return files, nil
}

// processBatch converts files on a pool of workers and returns results in input order.
func (c *Converter) processBatch(ctx context.Context, files []string, outDir string, logger zerolog.Logger) []FileResult {
	jobs := make(chan job, len(files))
	results := make(chan result, len(files))

	go func() {
		for i, f := range files {
			jobs <- job{Index: i, Path: f}
		}
		close(jobs)
	}()

	ctx = logger.WithContext(ctx)

	var wg sync.WaitGroup
	for i := 0; i < c.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				if err := ctx.Err(); err != nil {
					logger.Warn().Str("file", filepath.Base(j.Path)).Msg("Skipped, run cancelled")
					results <- result{Index: j.Index, Result: FileResult{File: j.Path, Skipped: true, Err: err}}
					continue
				}
				results <- result{Index: j.Index, Result: c.ConvertFile(ctx, j.Path, outDir)}
			}
		}()
	}
	wg.Wait()
	close(results)

	out := make([]FileResult, len(files))
	for res := range results {
		out[res.Index] = res.Result
	}
	return out
}
