package logging

import (
	"context"
	"log/slog"
)

// correlationHandler stamps every record with the invocation's correlation id
// unless the record or a bound attribute already carries one.
type correlationHandler struct {
	base          slog.Handler
	correlationID string
}

func newCorrelationHandler(base slog.Handler, correlationID string) slog.Handler {
	if base == nil {
		return NoopHandler{}
	}
	if correlationID == "" {
		return base
	}
	return &correlationHandler{
		base:          base,
		correlationID: correlationID,
	}
}

func (h *correlationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

func (h *correlationHandler) Handle(ctx context.Context, record slog.Record) error {
	present := false
	record.Attrs(func(attr slog.Attr) bool {
		if attr.Key == FieldCorrelationID {
			present = true
			return false
		}
		return true
	})
	if !present {
		record.AddAttrs(slog.String(FieldCorrelationID, h.correlationID))
	}
	return h.base.Handle(ctx, record)
}

func (h *correlationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if hasKey(attrs, FieldCorrelationID) {
		return h.base.WithAttrs(attrs)
	}
	return &correlationHandler{
		base:          h.base.WithAttrs(attrs),
		correlationID: h.correlationID,
	}
}

func (h *correlationHandler) WithGroup(name string) slog.Handler {
	return &correlationHandler{
		base:          h.base.WithGroup(name),
		correlationID: h.correlationID,
	}
}
