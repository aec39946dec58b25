package finish

import (
	"context"
	"fmt"

	"jobtrail/internal/gitrepo"
	"jobtrail/internal/record"
)

// History is the slice of the repository the resolver reads.
type History interface {
	CommitMessage(ctx context.Context, rev string) (string, error)
	ListRevisions(ctx context.Context, revRange string) ([]gitrepo.Revision, error)
}

// Eligibility is the resolver verdict for a schedule commit.
type Eligibility int

const (
	// NotScheduled means the commit carries no accepted schedule record.
	NotScheduled Eligibility = iota
	// NoFinish means the commit is a schedule record without a matching
	// FINISH record downstream.
	NoFinish
	// Finished means a FINISH record for the same job id exists downstream.
	Finished
)

func (e Eligibility) String() string {
	switch e {
	case NotScheduled:
		return "not-scheduled"
	case NoFinish:
		return "no-finish"
	case Finished:
		return "finished"
	default:
		return fmt.Sprintf("eligibility(%d)", int(e))
	}
}

// Resolver looks for FINISH records matching schedule commits.
type Resolver struct {
	history History
}

// NewResolver constructs a resolver over history.
func NewResolver(history History) *Resolver {
	return &Resolver{history: history}
}

// JobID returns the scheduler job id recorded in revision's message, or an
// empty string when the commit is not a schedule record. With allowReschedule
// false, RESCHEDULE records do not count.
func (r *Resolver) JobID(ctx context.Context, revision string, allowReschedule bool) (string, error) {
	msg, err := r.history.CommitMessage(ctx, revision)
	if err != nil {
		return "", err
	}
	decoded, err := record.Decode(msg, allowReschedule)
	if err != nil {
		return "", fmt.Errorf("error on %s's message: %w", revision, err)
	}
	if decoded == nil {
		return "", nil
	}
	return decoded.Record.JobID.String(), nil
}

// Check scans revision..branch for a FINISH record carrying the job id of
// revision's schedule record.
func (r *Resolver) Check(ctx context.Context, revision, branch string, allowReschedule bool) (Eligibility, error) {
	jobID, err := r.JobID(ctx, revision, allowReschedule)
	if err != nil {
		return NotScheduled, err
	}
	if jobID == "" {
		return NotScheduled, nil
	}

	revs, err := r.history.ListRevisions(ctx, revision+".."+branch)
	if err != nil {
		return NoFinish, err
	}
	for _, rev := range revs {
		msg, err := r.history.CommitMessage(ctx, rev.ID)
		if err != nil {
			return NoFinish, err
		}
		decoded, err := record.DecodeFinish(msg)
		if err != nil {
			return NoFinish, fmt.Errorf("error on %s's message: %w", rev.ID, err)
		}
		if decoded != nil && decoded.Record.JobID.String() == jobID {
			return Finished, nil
		}
	}
	return NoFinish, nil
}
