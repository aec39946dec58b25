// Package result defines the status taxonomy shared by every jobtrail
// workflow: ok, impossible (a precondition was not met and nothing was
// mutated), and error (an operation was attempted and failed).
package result

import "fmt"

// Status classifies the outcome of one workflow step.
type Status string

const (
	StatusOK         Status = "ok"
	StatusImpossible Status = "impossible"
	StatusError      Status = "error"
)

// Result is a single user-visible outcome. Every non-ok result carries a
// short human-readable reason in Message.
type Result struct {
	Action  string `json:"action"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Commit  string `json:"commit,omitempty"`
	JobID   string `json:"job_id,omitempty"`
	Path    string `json:"path,omitempty"`
}

// OK builds a successful result.
func OK(action, message string) Result {
	return Result{Action: action, Status: StatusOK, Message: message}
}

// Impossible builds a result for an unmet precondition.
func Impossible(action, format string, args ...any) Result {
	return Result{Action: action, Status: StatusImpossible, Message: fmt.Sprintf(format, args...)}
}

// Error builds a result for a failed operation.
func Error(action, format string, args ...any) Result {
	return Result{Action: action, Status: StatusError, Message: fmt.Sprintf(format, args...)}
}

// Failed reports whether the result is anything other than ok.
func (r Result) Failed() bool {
	return r.Status != StatusOK
}

// WithCommit returns a copy of r annotated with a commit id.
func (r Result) WithCommit(commit string) Result {
	r.Commit = commit
	return r
}

// WithJobID returns a copy of r annotated with a scheduler job id.
func (r Result) WithJobID(id string) Result {
	r.JobID = id
	return r
}
