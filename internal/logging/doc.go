// Package logging assembles structured slog loggers and formatting helpers used
// across jobtrail components.
//
// It owns the console and JSON handlers, centralizes level and output plumbing,
// and exposes context-aware helpers so workflow code tags log lines with job
// ids, stages, and correlation ids. Loggers are always passed explicitly; the
// package keeps no process-wide logger. NewNop serves tests and wiring code
// that cannot fail.
package logging
