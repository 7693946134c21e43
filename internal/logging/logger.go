// Package logging builds the process logger on zerolog.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config selects level, terminal format and an optional log file.
type Config struct {
	// Level is one of trace, debug, info, warn, error.
	Level string
	// Format is console or json. Applies to the terminal output only.
	Format string
	// File, when set, receives JSON lines in addition to the terminal.
	File string
	// Output replaces os.Stderr as the terminal writer.
	Output io.Writer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// New builds a logger from cfg. The returned closer releases the log file.
func New(cfg Config) (zerolog.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), nopCloser{}, err
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	terminal := cfg.Output
	if terminal == nil {
		terminal = os.Stderr
	}
	switch strings.ToLower(cfg.Format) {
	case "", "console":
		terminal = zerolog.ConsoleWriter{Out: terminal, TimeFormat: "15:04:05"}
	case "json":
	default:
		return zerolog.Nop(), nopCloser{}, fmt.Errorf("logging: unknown format %q", cfg.Format)
	}

	var closer io.Closer = nopCloser{}
	writer := terminal
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), nopCloser{}, fmt.Errorf("logging: open %s: %w", cfg.File, err)
		}
		writer = zerolog.MultiLevelWriter(terminal, f)
		closer = f
	}

	logger := zerolog.New(writer).Level(level).With().Timestamp().Logger()
	return logger, closer, nil
}

// ParseLevel maps a level name to zerolog. Empty means info.
func ParseLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("logging: unknown level %q", level)
	}
}
