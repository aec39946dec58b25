package logging

import (
	"context"
	"log/slog"
)

// minLevelHandler drops records below min. It can raise the threshold of the
// handler it wraps but never lower it.
type minLevelHandler struct {
	slog.Handler
	min slog.Leveler
}

func (h minLevelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.min.Level() && h.Handler.Enabled(ctx, level)
}

func (h minLevelHandler) Handle(ctx context.Context, record slog.Record) error {
	if record.Level < h.min.Level() {
		return nil
	}
	return h.Handler.Handle(ctx, record)
}

func (h minLevelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return minLevelHandler{Handler: h.Handler.WithAttrs(attrs), min: h.min}
}

func (h minLevelHandler) WithGroup(name string) slog.Handler {
	return minLevelHandler{Handler: h.Handler.WithGroup(name), min: h.min}
}

// WithLevelOverride returns a logger that suppresses records below level.
// Applying it twice replaces the first threshold. --quiet sets it to warn.
func WithLevelOverride(logger *slog.Logger, level slog.Level) *slog.Logger {
	if logger == nil {
		return NewNop()
	}
	inner := logger.Handler()
	if prev, ok := inner.(minLevelHandler); ok {
		inner = prev.Handler
	}
	return slog.New(minLevelHandler{Handler: inner, min: level})
}
