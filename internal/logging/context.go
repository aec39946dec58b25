package logging

import (
	"context"
	"log/slog"

	"jobtrail/internal/services"
)

// Keys shared by every component so log lines can be filtered per job,
// commit or invocation.
const (
	FieldComponent     = "component"
	FieldJobID         = "job_id"
	FieldStage         = "stage"
	FieldCommit        = "commit"
	FieldCorrelationID = "correlation_id"

	FieldEventType       = "event_type"
	FieldErrorHint       = "error_hint"
	FieldImpact          = "impact"
	FieldDecisionType    = "decision_type"
	FieldDecisionOutcome = "decision_result"
	FieldDecisionReason  = "decision_reason"
)

// ContextFields turns the scope carried by ctx into attributes. The request
// id is logged as the correlation id.
func ContextFields(ctx context.Context) []slog.Attr {
	scope := services.ScopeFromContext(ctx)
	var fields []slog.Attr
	for _, f := range [...]struct{ key, value string }{
		{FieldJobID, scope.JobID},
		{FieldStage, scope.Stage},
		{FieldCommit, scope.Commit},
		{FieldCorrelationID, scope.RequestID},
	} {
		if f.value != "" {
			fields = append(fields, slog.String(f.key, f.value))
		}
	}
	return fields
}

// WithContext binds the fields of ctx to logger.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
