package replay

import (
	"fmt"
	"time"

	"jobtrail/internal/gitrepo"
	"jobtrail/internal/record"
	"jobtrail/internal/result"
)

const action = "reschedule"

// Action is the replay decision attached to one commit.
type Action string

const (
	ActionCheckout   Action = "checkout"
	ActionRun        Action = "run"
	ActionSkipOrPick Action = "skip-or-pick"
	ActionMerge      Action = "merge"
	// ActionSkip and ActionPick are the execution-time resolutions of
	// ActionSkipOrPick.
	ActionSkip Action = "skip"
	ActionPick Action = "pick"
)

// Entry is one commit of the replayed range together with its classification
// and, once executed, its outcome.
type Entry struct {
	Commit  string        `json:"commit"`
	Parents []string      `json:"parents,omitempty"`
	Action  Action        `json:"action"`
	Status  result.Status `json:"status"`
	Message string        `json:"message,omitempty"`
	// Branch is the branch a checkout entry creates.
	Branch string `json:"branch,omitempty"`

	Record       *record.Record       `json:"record,omitempty"`
	Subject      string               `json:"subject,omitempty"`
	RerunMessage string               `json:"rerun_message,omitempty"`
	Diff         []gitrepo.FileChange `json:"diff,omitempty"`

	Author string    `json:"author,omitempty"`
	Date   time.Time `json:"date,omitzero"`

	// NewCommit and JobID are filled in for executed run entries.
	NewCommit string `json:"new_commit,omitempty"`
	JobID     string `json:"job_id,omitempty"`

	short  string
	reason string
}

// Result converts the entry to the shared result value.
func (e Entry) Result() result.Result {
	res := result.Result{Action: action, Status: e.Status, Message: e.Message, Commit: e.Commit, JobID: e.JobID}
	if res.Message == "" {
		res.Message = string(e.Action)
	}
	if e.NewCommit != "" {
		res.Commit = e.NewCommit
	}
	return res
}

func (e *Entry) markSkipOrPick(short, reason string) {
	e.Action = ActionSkipOrPick
	e.short = short
	e.reason = reason
	e.Message = fmt.Sprintf("%s %s; skipping or cherry picking", short, reason)
}

// resolve turns a skip-or-pick entry into a skip or a pick.
func (e *Entry) resolve(which Action) {
	verb := "skipping"
	if which == ActionPick {
		verb = "cherry picking"
	}
	e.Action = which
	if e.reason != "" {
		e.Message = fmt.Sprintf("%s %s; %s", e.short, e.reason, verb)
		return
	}
	e.Message = verb
}
