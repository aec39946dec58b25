package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Kind names the record marker that opens a commit message.
type Kind string

const (
	KindSchedule   Kind = "SCHEDULE"
	KindReschedule Kind = "RESCHEDULE"
	KindFinish     Kind = "FINISH"
)

const (
	beginMarker = "=== Do not change lines below ==="
	endMarker   = "^^^ Do not change lines above ^^^"
)

var (
	scheduleOnlyPattern = regexp.MustCompile(`(?s)^\[DATALAD (SCHEDULE)\] (.*)` + regexp.QuoteMeta(beginMarker) + `\n(.*)\n` + regexp.QuoteMeta(endMarker))
	schedulePattern     = regexp.MustCompile(`(?s)^\[DATALAD (SCHEDULE|RESCHEDULE)\] (.*)` + regexp.QuoteMeta(beginMarker) + `\n(.*)\n` + regexp.QuoteMeta(endMarker))
	finishPattern       = regexp.MustCompile(`(?s)^\[DATALAD (FINISH)\] (.*)` + regexp.QuoteMeta(beginMarker) + `\n(.*)\n` + regexp.QuoteMeta(endMarker))
	submissionNotice    = regexp.MustCompile(`Submitted batch job \d+: Pending`)
)

// ErrInvalidRecord marks a message that carries a record marker but whose
// payload cannot be decoded.
var ErrInvalidRecord = errors.New("invalid provenance record")

// Record is the execution metadata of one scheduled job, embedded in the
// commit that scheduled it. Input and output specs keep their pre-glob form.
type Record struct {
	Command     string   `json:"cmd"`
	Chain       []string `json:"chain"`
	Inputs      []string `json:"inputs"`
	ExtraInputs []string `json:"extra_inputs"`
	Outputs     []string `json:"outputs"`
	WorkingDir  string   `json:"pwd"`
	DatasetID   string   `json:"dsid,omitempty"`
	ExitStatus  int      `json:"exit"`
	JobID       JobID    `json:"slurm_job_id,omitempty"`
	// SchedulerOutputs are the artifacts reported by the scheduler (stdout,
	// stderr, env file). Unknown until submission completes.
	SchedulerOutputs []string `json:"slurm_outputs,omitempty"`
	AltDir           string   `json:"alt_dir,omitempty"`
}

// Decoded is a record together with the human part of its commit message.
type Decoded struct {
	Kind    Kind
	Subject string
	Record  *Record
}

// Clone returns a deep copy so callers can append to the chain without
// mutating the decoded original.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Chain = append([]string(nil), r.Chain...)
	clone.Inputs = append([]string(nil), r.Inputs...)
	clone.ExtraInputs = append([]string(nil), r.ExtraInputs...)
	clone.Outputs = append([]string(nil), r.Outputs...)
	clone.SchedulerOutputs = append([]string(nil), r.SchedulerOutputs...)
	return &clone
}

// Decode extracts a schedule record from a commit message. It returns
// (nil, nil) when the message carries no accepted record. With
// allowReschedule false, RESCHEDULE records are not accepted.
func Decode(message string, allowReschedule bool) (*Decoded, error) {
	pattern := scheduleOnlyPattern
	if allowReschedule {
		pattern = schedulePattern
	}
	return decodeWith(pattern, message)
}

// DecodeFinish extracts a FINISH record from a commit message. It returns
// (nil, nil) when the message is not a finish record.
func DecodeFinish(message string) (*Decoded, error) {
	return decodeWith(finishPattern, message)
}

func decodeWith(pattern *regexp.Regexp, message string) (*Decoded, error) {
	match := pattern.FindStringSubmatch(message)
	if match == nil {
		return nil, nil
	}
	kind, subject, payload := Kind(match[1]), match[2], match[3]

	var rec Record
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("%w: command specification is not valid JSON: %v", ErrInvalidRecord, err)
	}
	if strings.TrimSpace(rec.Command) == "" {
		return nil, fmt.Errorf("%w: %s record does not have a command", ErrInvalidRecord, strings.ToLower(string(kind)))
	}
	return &Decoded{
		Kind:    kind,
		Subject: strings.TrimRight(subject, " \t\r\n"),
		Record:  &rec,
	}, nil
}

// Encode renders a record as a commit message. An empty subject falls back to
// an abbreviated form of the command.
func Encode(kind Kind, subject string, rec *Record) (string, error) {
	if rec == nil {
		return "", fmt.Errorf("%w: nil record", ErrInvalidRecord)
	}
	normalized := rec.Clone()
	normalized.Chain = nonNil(normalized.Chain)
	normalized.Inputs = nonNil(normalized.Inputs)
	normalized.ExtraInputs = nonNil(normalized.ExtraInputs)
	normalized.Outputs = nonNil(normalized.Outputs)

	payload, err := json.Marshal(normalized)
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = ShortCommand(rec.Command)
	}
	return fmt.Sprintf("[DATALAD %s] %s\n\n%s\n%s\n%s\n", kind, subject, beginMarker, payload, endMarker), nil
}

// ShortCommand abbreviates a command line for use as a commit subject.
func ShortCommand(cmd string) string {
	cmd = strings.TrimSpace(cmd)
	if idx := strings.IndexByte(cmd, '\n'); idx >= 0 {
		cmd = cmd[:idx] + " ..."
	}
	const limit = 40
	if len(cmd) > limit {
		return cmd[:limit-3] + "..."
	}
	return cmd
}

// StripSubmissionNotice removes the "Submitted batch job N: Pending" notice
// that older tooling appended to subjects. A subject consisting only of the
// notice becomes empty.
func StripSubmissionNotice(subject string) string {
	loc := submissionNotice.FindStringIndex(subject)
	if loc == nil {
		return subject
	}
	if loc[0] == 0 && loc[1] == len(subject) {
		return ""
	}
	return strings.TrimSpace(subject[:loc[0]] + subject[loc[1]:])
}

// JobID is a scheduler job identifier. Records written by other tools store
// it either as a JSON string or as a number; both decode to the same value.
type JobID string

// UnmarshalJSON accepts string and numeric job ids.
func (j *JobID) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*j = ""
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*j = JobID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("slurm_job_id: %w", err)
	}
	*j = JobID(n.String())
	return nil
}

func (j JobID) String() string { return string(j) }

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
