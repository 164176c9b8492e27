// Package logging builds the zerolog logger shared by every component.
//
// There is no package-level logger: New returns a value that main passes
// down explicitly, and components derive their own with For.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options selects level, format and destination.
type Options struct {
	// Level is one of trace, debug, info, warn, error. Default: info.
	Level string
	// Format is "json" or "console". Default: console.
	Format string
	// Output defaults to os.Stderr.
	Output io.Writer
	// File, when set, also receives every event at debug level or finer
	// as JSON lines. Missing directories are created. The file stays open
	// for the life of the process.
	File string
}

// New creates a logger from opts.
func New(opts Options) (zerolog.Logger, error) {
	levelName := strings.ToLower(strings.TrimSpace(opts.Level))
	if levelName == "" {
		levelName = "info"
	}
	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level '%s': %w", opts.Level, err)
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	switch strings.ToLower(opts.Format) {
	case "", "console":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	case "json":
	default:
		return zerolog.Nop(), fmt.Errorf("invalid log format '%s'", opts.Format)
	}

	if opts.File == "" {
		return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
	}

	f, err := openLogFile(opts.File)
	if err != nil {
		return zerolog.Nop(), err
	}
	fileLevel := min(level, zerolog.DebugLevel)
	w := zerolog.MultiLevelWriter(
		&zerolog.FilteredLevelWriter{Writer: zerolog.LevelWriterAdapter{Writer: out}, Level: level},
		&zerolog.FilteredLevelWriter{Writer: zerolog.LevelWriterAdapter{Writer: f}, Level: fileLevel},
	)
	return zerolog.New(w).Level(fileLevel).With().Timestamp().Logger(), nil
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// For returns a child logger tagged with the component name.
func For(l zerolog.Logger, component string) zerolog.Logger {
	return l.With().Str("component", component).Logger()
}
