package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/woozymasta/tabgrid/internal/geo"
	"github.com/woozymasta/tabgrid/internal/vectorio"

	"github.com/jessevdk/go-flags"
	"gopkg.in/yaml.v3"
)

type Options struct {
	Input   string `short:"i" long:"in" description:"Input vector file (.tab, .mif, .shp, .geojson, .pbf)" required:"true"`
	Output  string `short:"o" long:"out" description:"Output file path. Writes to stdout if empty"`
	Format  string `short:"f" long:"format" description:"Output format, yaml prints a summary" choice:"json" choice:"yaml" default:"json"`
	OGR2OGR string `long:"ogr2ogr" env:"OGR2OGR" description:"Path to GDAL ogr2ogr used for MapInfo TAB files" default:"ogr2ogr"`
}

// Summary is the yaml description of a vector file.
type Summary struct {
	Name     string      `yaml:"name"`
	CRS      string      `yaml:"crs"`
	Fields   []geo.Field `yaml:"fields"`
	Features int         `yaml:"features"`
	Empty    int         `yaml:"empty,omitempty"`
	Bounds   []float64   `yaml:"bounds,flow,omitempty"` // min x, min y, max x, max y
}

func summarize(fc *geo.FeatureCollection) Summary {
	s := Summary{
		Name:     fc.Name,
		CRS:      fc.CRS.String(),
		Fields:   fc.Fields,
		Features: fc.Len(),
	}
	for _, f := range fc.Features {
		if f.Geometry == nil {
			s.Empty++
		}
	}
	if b, ok := fc.Bound(); ok {
		s.Bounds = []float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]}
	}
	return s
}

func main() {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	registry := vectorio.Default(opts.OGR2OGR)
	if ext := filepath.Ext(opts.Input); !registry.CanRead(ext) {
		fmt.Fprintf(os.Stderr, "Error: cannot read %q files, supported: %s\n", ext, strings.Join(registry.Extensions(), ", "))
		os.Exit(1)
	}

	fc, err := registry.Read(context.Background(), opts.Input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading input file: %v\n", err)
		os.Exit(1)
	}

	// marshal
	var outputData []byte
	if opts.Format == "yaml" {
		outputData, err = yaml.Marshal(summarize(fc))
	} else {
		var buf bytes.Buffer
		err = vectorio.EncodeGeoJSON(&buf, fc)
		outputData = buf.Bytes()
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling data: %v\n", err)
		os.Exit(1)
	}

	if opts.Output != "" {
		err = os.WriteFile(opts.Output, outputData, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error writing output file: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Successfully wrote %d features to %s (format: %s)\n", fc.Len(), opts.Output, opts.Format)
	} else {
		fmt.Print(string(outputData))
	}
}
