package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/woozymasta/tabgrid/internal/config"
	"github.com/woozymasta/tabgrid/internal/logger"
	"github.com/woozymasta/tabgrid/internal/processor"
	"github.com/woozymasta/tabgrid/internal/vectorio"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog/log"
)

// Options override values of the configuration file when set.
type Options struct {
	Logger logger.Logger `group:"Logger options"`

	ConfigFile    string   `short:"c" long:"config"         env:"CONFIG_FILE"      description:"Path to optional YAML configuration file"`
	SideLength    *float64 `short:"s" long:"side"           env:"SIDE_LENGTH"      description:"Square side length in meters (default: 50)"`
	MetricCRS     *string  `short:"m" long:"metric-crs"     env:"METRIC_CRS"       description:"Projected CRS the squares are built in, or 'auto' (default: EPSG:32629)"`
	OutputCRS     *string  `short:"O" long:"output-crs"     env:"OUTPUT_CRS"       description:"CRS of the written files (default: EPSG:4326)"`
	DefaultCRS    *string  `short:"d" long:"default-crs"    env:"DEFAULT_CRS"      description:"CRS assumed for files without one (default: EPSG:4326)"`
	CapStyle      *string  `long:"cap-style"                env:"CAP_STYLE"        description:"Buffer cap style" choice:"square" choice:"flat" choice:"round"`
	SourceExt     *string  `short:"e" long:"ext"            env:"SOURCE_EXT"       description:"Extension of the input files (default: .tab)"`
	OutputDir     *string  `short:"o" long:"out-dir"        env:"OUTPUT_DIR"       description:"Output directory, relative to DIR unless absolute (default: converted_shp)"`
	Suffix        *string  `long:"suffix"                   env:"OUTPUT_SUFFIX"    description:"Suffix appended to output file names (default: _grid)"`
	Format        *string  `short:"f" long:"format"         env:"OUTPUT_FORMAT"    description:"Output format" choice:"ESRI Shapefile" choice:"GeoJSON"`
	Workers       *int     `short:"p" long:"workers"        env:"WORKERS"          description:"Files converted in parallel (default: 1)"`
	MaxDistortion *float64 `long:"max-distortion"           env:"MAX_DISTORTION"   description:"Relative side error that triggers a warning, 0 disables (default: 0.01)"`
	OGR2OGR       *string  `long:"ogr2ogr"                  env:"OGR2OGR"          description:"Path to GDAL ogr2ogr used for MapInfo TAB files (default: ogr2ogr)"`

	Args struct {
		Dir string `positional-arg-name:"DIR" description:"Directory with the files to convert"`
	} `positional-args:"yes"`
}

// apply copies every option given on the command line or environment into cfg.
func (o *Options) apply(cfg *config.Config) {
	setIf(&cfg.SideLength, o.SideLength)
	setIf(&cfg.MetricCRS, o.MetricCRS)
	setIf(&cfg.OutputCRS, o.OutputCRS)
	setIf(&cfg.DefaultCRS, o.DefaultCRS)
	setIf(&cfg.CapStyle, o.CapStyle)
	setIf(&cfg.SourceExt, o.SourceExt)
	setIf(&cfg.OutputDir, o.OutputDir)
	setIf(&cfg.Suffix, o.Suffix)
	setIf(&cfg.Format, o.Format)
	setIf(&cfg.Workers, o.Workers)
	setIf(&cfg.MaxDistortion, o.MaxDistortion)
	setIf(&cfg.OGR2OGR, o.OGR2OGR)
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func main() {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	parser.Usage = "[OPTIONS] DIR"
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if opts.Args.Dir == "" {
		parser.WriteHelp(os.Stderr)
		os.Exit(1)
	}

	opts.Logger.Setup()

	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	opts.apply(cfg)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	convOpts, err := cfg.Options()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	ops, err := cfg.GeometryOps()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conv := processor.New(vectorio.Default(cfg.OGR2OGR), ops, convOpts)
	summary, err := conv.Convert(ctx, opts.Args.Dir)
	switch {
	case errors.Is(err, processor.ErrNoInputFiles):
		log.Warn().Err(err).Msg("Nothing to convert")
		return
	case err != nil:
		stop()
		log.Fatal().Err(err).Msg("Failed to start conversion")
	}

	for _, r := range summary.Failed() {
		log.Debug().Err(r.Err).Bool("skipped", r.Skipped).Msg("File not converted")
	}

	fmt.Printf("%d/%d files converted\n", summary.Converted, summary.Total)
	fmt.Printf("Output folder: %s\n", summary.OutputDir)

	if summary.Converted == 0 {
		stop()
		os.Exit(2)
	}
}
