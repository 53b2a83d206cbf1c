package config

import (
	"os"

	"github.com/rs/zerolog"
)

// NewLogger builds the root logger from LogConfig. Unknown levels fall
// back to info; the console format writes human-readable output to
// stderr, json writes one object per line.
func NewLogger(cfg LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if cfg.Format == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Logger()
}
