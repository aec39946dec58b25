package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"jobtrail/internal/config"
)

// LogFileName is the file written inside the configured log directory.
const LogFileName = "jobtrail.log"

// Options describes a single-destination logger.
type Options struct {
	Level  string
	Format string
	// Writer defaults to os.Stderr.
	Writer io.Writer
	// CorrelationID is stamped on every record that does not carry its own.
	CorrelationID string
}

// New builds a logger writing opts.Format records at opts.Level or above.
func New(opts Options) (*slog.Logger, error) {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	handler, err := newHandler(w, opts.Format, parseLevel(opts.Level))
	if err != nil {
		return nil, err
	}
	return slog.New(newCorrelationHandler(handler, opts.CorrelationID)), nil
}

// NewFromConfig creates the CLI logger. Records at the configured level go to
// stderr in the configured format; when a log directory is configured, a JSON
// copy including debug records is appended to jobtrail.log.
func NewFromConfig(cfg *config.Config, stderr io.Writer, correlationID string) (*slog.Logger, error) {
	if stderr == nil {
		stderr = os.Stderr
	}
	if cfg == nil {
		return New(Options{Writer: stderr, CorrelationID: correlationID})
	}

	console, err := newHandler(stderr, cfg.Logging.Format, parseLevel(cfg.Logging.Level))
	if err != nil {
		return nil, err
	}
	var file slog.Handler
	if dir := strings.TrimSpace(cfg.Paths.LogDir); dir != "" {
		f, err := openLogFile(dir)
		if err != nil {
			return nil, err
		}
		file = newJSONHandler(f, slog.LevelDebug, true)
	}
	return slog.New(newCorrelationHandler(newFanoutHandler(console, file), correlationID)), nil
}

// newHandler picks the record layout. Debug output carries the call site.
func newHandler(w io.Writer, format string, level slog.Level) (slog.Handler, error) {
	debug := level <= slog.LevelDebug
	switch f := strings.ToLower(strings.TrimSpace(format)); f {
	case "", "console":
		return newConsoleHandler(w, level, debug), nil
	case "json":
		return newJSONHandler(w, level, debug), nil
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", format)
	}
}

func parseLevel(level string) slog.Level {
	var parsed slog.Level
	switch l := strings.ToLower(strings.TrimSpace(level)); l {
	case "warning":
		return slog.LevelWarn
	case "":
		return slog.LevelInfo
	default:
		if err := parsed.UnmarshalText([]byte(l)); err != nil {
			return slog.LevelInfo
		}
		return parsed
	}
}

func openLogFile(dir string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, LogFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return f, nil
}
