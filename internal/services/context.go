package services

import "context"

type scopeKey struct{}

// Scope is the job, stage, commit and invocation an operation runs under.
// Empty fields are unset.
type Scope struct {
	JobID     string
	Stage     string
	Commit    string
	RequestID string
}

// ScopeFromContext returns the scope attached to ctx, or the zero Scope.
func ScopeFromContext(ctx context.Context) Scope {
	if ctx == nil {
		return Scope{}
	}
	scope, _ := ctx.Value(scopeKey{}).(Scope)
	return scope
}

func withScope(ctx context.Context, edit func(*Scope)) context.Context {
	scope := ScopeFromContext(ctx)
	edit(&scope)
	return context.WithValue(ctx, scopeKey{}, scope)
}

// WithJobID scopes ctx to a scheduler job. An empty id leaves ctx unchanged.
func WithJobID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return withScope(ctx, func(s *Scope) { s.JobID = id })
}

func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return withScope(ctx, func(s *Scope) { s.Stage = stage })
}

// WithCommit scopes ctx to the record commit being replayed or finished.
func WithCommit(ctx context.Context, hexsha string) context.Context {
	if hexsha == "" {
		return ctx
	}
	return withScope(ctx, func(s *Scope) { s.Commit = hexsha })
}

// WithRequestID attaches the per-invocation correlation id.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return withScope(ctx, func(s *Scope) { s.RequestID = id })
}

func JobIDFromContext(ctx context.Context) (string, bool) {
	id := ScopeFromContext(ctx).JobID
	return id, id != ""
}

func StageFromContext(ctx context.Context) (string, bool) {
	stage := ScopeFromContext(ctx).Stage
	return stage, stage != ""
}

func RequestIDFromContext(ctx context.Context) (string, bool) {
	id := ScopeFromContext(ctx).RequestID
	return id, id != ""
}
