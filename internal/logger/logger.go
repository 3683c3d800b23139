// Package logger configures the global zerolog logger from command line options.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger is a go-flags option group.
type Logger struct {
	Level   string `long:"log-level"    env:"LOG_LEVEL"  description:"Log level" choice:"trace" choice:"debug" choice:"info" choice:"warn" choice:"error" choice:"fatal" choice:"panic" choice:"disabled" default:"info"`
	Format  string `long:"log-format"   env:"LOG_FORMAT" description:"Log output format" choice:"text" choice:"json" default:"text"`
	NoColor bool   `long:"log-no-color" env:"NO_COLOR"   description:"Disable colored text output"`
}

// Setup points the global logger at stderr.
func (l Logger) Setup() {
	l.SetupWriter(os.Stderr)
}

// SetupWriter configures the global logger to write to w.
func (l Logger) SetupWriter(w io.Writer) {
	level, err := zerolog.ParseLevel(l.Level)
	if err != nil || l.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	out := w
	if l.Format != "json" {
		out = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.DateTime,
			NoColor:    l.NoColor || !isTerminal(w),
		}
	}

	log.Logger = zerolog.New(out).With().Timestamp().Logger()

	if err != nil {
		log.Warn().Str("level", l.Level).Msg("Unknown log level, using info")
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
