package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, nil)
	handler := newCorrelationHandler(base, "run-123")

	logger := slog.New(handler)
	logger.Info("test message")

	output := buf.String()
	if !strings.Contains(output, `"correlation_id":"run-123"`) {
		t.Errorf("expected correlation_id in output, got: %s", output)
	}
}

func TestCorrelationHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, nil)
	handler := newCorrelationHandler(base, "run-abc")

	logger := slog.New(handler).With("extra", "value")
	logger.Info("test message")

	output := buf.String()
	if !strings.Contains(output, `"correlation_id":"run-abc"`) {
		t.Errorf("expected correlation_id in output, got: %s", output)
	}
	if !strings.Contains(output, `"extra":"value"`) {
		t.Errorf("expected extra attr in output, got: %s", output)
	}
}

func TestCorrelationHandler_ExplicitIDWins(t *testing.T) {
	var buf bytes.Buffer
	handler := newCorrelationHandler(slog.NewJSONHandler(&buf, nil), "run-abc")

	slog.New(handler).With(FieldCorrelationID, "req-1").Info("bound")
	slog.New(handler).Info("inline", FieldCorrelationID, "req-2")

	output := buf.String()
	if strings.Contains(output, "run-abc") {
		t.Errorf("default id must not be added when one is present: %s", output)
	}
	if strings.Count(output, FieldCorrelationID) != 2 {
		t.Errorf("expected exactly one correlation id per line: %s", output)
	}
}

func TestCorrelationHandler_NilBase(t *testing.T) {
	handler := newCorrelationHandler(nil, "run-123")
	if _, ok := handler.(NoopHandler); !ok {
		t.Errorf("expected NoopHandler when base is nil, got: %T", handler)
	}
}
