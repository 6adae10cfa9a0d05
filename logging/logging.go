// Package logging builds the process logger and hands it to gnark, which logs through zerolog too.
package logging

import (
	"io"
	"os"
	"time"

	gnarklogger "github.com/consensys/gnark/logger"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/zkattest/nitro-prover/config"
)

// New returns a logger writing to w in the configured format and level.
func New(cfg config.LogConfig, w io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), errors.Wrap(err, "parsing log level")
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	switch cfg.Format {
	case "json":
	case "console", "":
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	default:
		return zerolog.Nop(), errors.Errorf("unknown log format %q", cfg.Format)
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger(), nil
}

// Setup builds the logger on stderr, installs it for gnark and returns it.
func Setup(cfg config.LogConfig) (zerolog.Logger, error) {
	logger, err := New(cfg, os.Stderr)
	if err != nil {
		return logger, err
	}
	// gnark logs constraint counts and solver timings at debug level.
	gnarklogger.Set(logger.With().Str("component", "gnark").Logger())
	zerolog.DefaultContextLogger = &logger
	return logger, nil
}
