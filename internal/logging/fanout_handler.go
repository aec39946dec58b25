package logging

import (
	"context"
	"errors"
	"log/slog"
)

// fanoutHandler copies each record to every child whose level accepts it.
// NewFromConfig uses it to feed stderr and jobtrail.log from one logger.
type fanoutHandler []slog.Handler

func newFanoutHandler(handlers ...slog.Handler) slog.Handler {
	var children fanoutHandler
	for _, h := range handlers {
		if h != nil {
			children = append(children, h)
		}
	}
	if len(children) == 0 {
		return NoopHandler{}
	}
	if len(children) == 1 {
		return children[0]
	}
	return children
}

func (f fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle clones the record per child so one handler's attr changes stay
// invisible to the others.
func (f fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, record.Level) {
			errs = append(errs, h.Handle(ctx, record.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f fanoutHandler) WithGroup(name string) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f fanoutHandler) each(derive func(slog.Handler) slog.Handler) fanoutHandler {
	next := make(fanoutHandler, len(f))
	for i, h := range f {
		next[i] = derive(h)
	}
	return next
}
