package vectorio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/woozymasta/tabgrid/internal/crs"
	"github.com/woozymasta/tabgrid/internal/geo"

	"github.com/rs/zerolog/log"
)

// DefaultOGR2OGR is the program name looked up in PATH when none is configured.
const DefaultOGR2OGR = "ogr2ogr"

// CommandRunner runs a program and returns its standard output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// TAB reads MapInfo TAB datasets by converting them to GeoJSON with GDAL's ogr2ogr.
//
// ogr2ogr only names the CRS when the layer SRS has an EPSG code. Otherwise the
// SRS is read with ogrinfo: a layer without SRS yields an unset CRS, an SRS that
// cannot be mapped fails with crs.ErrUnsupported.
type TAB struct {
	// Program is the ogr2ogr executable; DefaultOGR2OGR when empty.
	Program string
	// Info is the ogrinfo executable; ogrinfo next to Program when empty.
	Info string
	// Run executes Program and Info; ExecRunner when nil.
	Run CommandRunner
}

// Read implements Reader.
func (t *TAB) Read(ctx context.Context, path string) (*geo.FeatureCollection, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	program := t.Program
	if program == "" {
		program = DefaultOGR2OGR
	}
	run := t.Run
	if run == nil {
		run = ExecRunner
	}

	args := []string{"-f", "GeoJSON", "-lco", "RFC7946=NO", "/vsistdout/", path}
	log.Debug().Str("file", path).Str("program", program).Strs("args", args).Msg("Converting TAB with ogr2ogr")

	out, err := run(ctx, program, args...)
	if err != nil {
		return nil, err
	}

	fc, err := decodeFeatureCollection(out, layerName(path))
	if err != nil || !fc.CRS.IsZero() {
		return fc, err
	}

	info := t.Info
	if info == "" {
		info = infoProgram(program)
	}
	out, err = run(ctx, info, "-ro", "-so", "-al", "-wkt_format", "WKT1", path)
	if err != nil {
		return nil, err
	}

	wkt := layerSRS(out)
	if wkt == "" {
		return fc, nil
	}
	if fc.CRS, err = crs.ParseWKT(wkt); err != nil {
		return nil, fmt.Errorf("layer SRS: %w", err)
	}
	log.Debug().Str("file", path).Str("crs", fc.CRS.String()).Msg("CRS taken from layer SRS")
	return fc, nil
}

// infoProgram returns the ogrinfo installed next to an ogr2ogr executable.
func infoProgram(ogr2ogr string) string {
	dir, base := filepath.Split(ogr2ogr)
	if strings.Contains(base, "ogr2ogr") {
		return dir + strings.Replace(base, "ogr2ogr", "ogrinfo", 1)
	}
	return dir + "ogrinfo"
}

// layerSRS extracts the WKT that follows "Layer SRS WKT:" in ogrinfo's summary.
// It is empty when the layer has no SRS.
func layerSRS(out []byte) string {
	lines := strings.Split(strings.ReplaceAll(string(out), "\r\n", "\n"), "\n")
	for i, line := range lines {
		if !strings.HasSuffix(strings.TrimSpace(line), "SRS WKT:") {
			continue
		}

		var wkt []string
		depth := 0
		for _, l := range lines[i+1:] {
			trimmed := strings.TrimSpace(l)
			if len(wkt) == 0 && (trimmed == "" || strings.EqualFold(trimmed, "(unknown)")) {
				return ""
			}
			wkt = append(wkt, l)
			depth += strings.Count(l, "[") - strings.Count(l, "]")
			if depth <= 0 {
				break
			}
		}
		return strings.TrimSpace(strings.Join(wkt, "\n"))
	}
	return ""
}

// ExecRunner runs the program with os/exec. A failing program's standard error
// is part of the returned error.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}
