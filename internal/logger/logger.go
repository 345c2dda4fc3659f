// Package logger provides JSON structured logging using zerolog.
package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config controls how loggers are constructed.
type Config struct {
	// Level is the minimum level to emit ("trace", "debug", "info", ...).
	Level string `yaml:"level"`

	// Debug forces the debug level regardless of Level.
	Debug bool `yaml:"debug"`

	// Output selects the destination: "stdout" (default) or "stderr".
	Output string `yaml:"output"`
}

// New builds a zerolog.Logger from the given config.
func New(config Config) (zerolog.Logger, error) {
	var output io.Writer = os.Stdout
	if config.Output == "stderr" {
		output = os.Stderr
	}

	level := zerolog.InfoLevel

	if config.Debug {
		level = zerolog.DebugLevel
	} else if config.Level != "" {
		var err error

		level, err = zerolog.ParseLevel(config.Level)
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("parse log level %q: %w", config.Level, err)
		}
	}

	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Logger()

	return logger, nil
}
