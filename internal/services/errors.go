package services

import (
	"errors"
	"strings"

	"jobtrail/internal/result"
)

// Markers classify failures. Every *Error carries exactly one.
var (
	ErrExternalTool      = errors.New("external tool error")
	ErrValidation        = errors.New("validation error")
	ErrConfiguration     = errors.New("configuration error")
	ErrNotFound          = errors.New("not found")
	ErrLedgerUnavailable = errors.New("ledger unavailable")
	ErrTransient         = errors.New("transient failure")
)

// Error is a classified failure of one step of a command.
type Error struct {
	Marker    error
	Stage     string
	Operation string
	Message   string
	Cause     error
}

// Wrap returns an *Error tagged with marker. A nil marker means ErrTransient.
func Wrap(marker error, stage, operation, message string, cause error) error {
	if marker == nil {
		marker = ErrTransient
	}
	return &Error{
		Marker:    marker,
		Stage:     strings.TrimSpace(stage),
		Operation: strings.TrimSpace(operation),
		Message:   strings.TrimSpace(message),
		Cause:     cause,
	}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Marker.Error())
	b.WriteString(": ")
	detail := false
	for _, part := range []string{e.Stage, e.Operation, e.Message} {
		if part == "" {
			continue
		}
		if detail {
			b.WriteString(": ")
		}
		b.WriteString(part)
		detail = true
	}
	if !detail {
		b.WriteString("service failure")
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Marker}
	}
	return []error{e.Marker, e.Cause}
}

// StatusFor maps an error onto the result taxonomy. Unmet preconditions are
// impossible; anything attempted that failed is an error.
func StatusFor(err error) result.Status {
	switch {
	case err == nil:
		return result.StatusOK
	case errors.Is(err, ErrValidation), errors.Is(err, ErrConfiguration), errors.Is(err, ErrNotFound):
		return result.StatusImpossible
	default:
		return result.StatusError
	}
}

// ResultFor converts err into the result reported for action.
func ResultFor(action string, err error) result.Result {
	if err == nil {
		return result.OK(action, "")
	}
	return result.Result{Action: action, Status: StatusFor(err), Message: err.Error()}
}
