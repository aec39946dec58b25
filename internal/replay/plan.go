package replay

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"jobtrail/internal/finish"
	"jobtrail/internal/gitrepo"
	"jobtrail/internal/logging"
	"jobtrail/internal/record"
	"jobtrail/internal/result"
	"jobtrail/internal/services"
)

// History is the read side of the repository used while planning.
type History interface {
	Resolve(ctx context.Context, ref string) (string, error)
	CommitExists(ctx context.Context, ref string) bool
	Head(ctx context.Context) (string, error)
	ListRevisions(ctx context.Context, revRange string) ([]gitrepo.Revision, error)
	IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error)
	CommitMessage(ctx context.Context, rev string) (string, error)
	ShortID(ctx context.Context, rev string) string
	Diff(ctx context.Context, rev string) ([]gitrepo.FileChange, error)
}

// FinishChecker reports whether a schedule commit has a FINISH record
// downstream. *finish.Resolver implements it.
type FinishChecker interface {
	Check(ctx context.Context, revision, branch string, allowReschedule bool) (finish.Eligibility, error)
}

// PlanRequest describes the range to classify.
type PlanRequest struct {
	Range string
	// Onto is nil when no start point was requested. An empty value means
	// the parent of the first record commit.
	Onto *string
	// Branch is created at the start point when set.
	Branch string
	// Message overrides the subject of every rerun record.
	Message string
	// FinishBranch is scanned for FINISH records.
	FinishBranch string
	DatasetID    string
}

// Planner classifies a revision range.
type Planner struct {
	history History
	finish  FinishChecker
	logger  *slog.Logger
}

// NewPlanner constructs a planner.
func NewPlanner(history History, checker FinishChecker, logger *slog.Logger) *Planner {
	return &Planner{
		history: history,
		finish:  checker,
		logger:  logging.NewComponentLogger(logger, "replay"),
	}
}

// Plan lists req.Range oldest first and classifies each commit. It does not
// modify the repository, so planning the same range twice yields the same
// actions.
func (p *Planner) Plan(ctx context.Context, req PlanRequest) ([]Entry, error) {
	entries, err := p.listRange(ctx, req.Range)
	if err != nil {
		return nil, err
	}

	first := slices.IndexFunc(entries, func(e Entry) bool { return e.Record != nil })
	if first < 0 {
		return nil, services.Wrap(services.ErrNotFound, action, "plan", "No schedule commits found in range "+req.Range, nil)
	}
	entries = entries[first:]

	var planned []Entry
	onto := ""
	if req.Onto != nil {
		onto = *req.Onto
		if strings.TrimSpace(onto) == "" {
			onto = entries[0].Commit + "^"
		}
		if !p.history.CommitExists(ctx, onto) {
			return nil, fmt.Errorf("revision specified for --onto (%s) does not exist", onto)
		}
	}
	if req.Branch != "" || onto != "" {
		start := onto
		if start == "" {
			start = "HEAD"
		}
		id, err := p.history.Resolve(ctx, start)
		if err != nil {
			return nil, fmt.Errorf("resolve start point %s: %w", start, err)
		}
		planned = append(planned, Entry{Commit: id, Branch: req.Branch, Action: ActionCheckout, Status: result.StatusOK})
	}

	for _, entry := range entries {
		if err := p.classify(ctx, req, &entry); err != nil {
			return nil, err
		}
		planned = append(planned, entry)
	}
	return planned, nil
}

func (p *Planner) listRange(ctx context.Context, revRange string) ([]Entry, error) {
	revs, err := p.history.ListRevisions(ctx, revRange)
	if err != nil {
		return nil, fmt.Errorf("list revisions %s: %w", revRange, err)
	}
	entries := make([]Entry, 0, len(revs))
	for _, rev := range revs {
		msg, err := p.history.CommitMessage(ctx, rev.ID)
		if err != nil {
			return nil, err
		}
		decoded, err := record.Decode(msg, false)
		if err != nil {
			return nil, fmt.Errorf("error on %s's message: %w", rev.ID, err)
		}
		entry := Entry{Commit: rev.ID, Parents: rev.Parents, Status: result.StatusOK}
		if decoded != nil {
			if len(rev.Parents) != 1 {
				kind := "root"
				if len(rev.Parents) > 1 {
					kind = "merge"
				}
				logging.WarnWithContext(p.logger, "record commit will not be re-executed", "replay_record_dropped",
					logging.String(logging.FieldCommit, rev.ID),
					logging.String("commit_kind", kind),
					logging.String(logging.FieldImpact, "the job of this commit is not part of the replay"),
				)
				continue
			}
			entry.Record = decoded.Record
			entry.Subject = decoded.Subject
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (p *Planner) classify(ctx context.Context, req PlanRequest, entry *Entry) error {
	short := p.history.ShortID(ctx, entry.Commit)
	if entry.Record == nil {
		if len(entry.Parents) > 1 {
			entry.Action = ActionMerge
			return nil
		}
		entry.markSkipOrPick(short, "does not have a command")
		return nil
	}

	if dsid := entry.Record.DatasetID; dsid != "" && dsid != req.DatasetID {
		entry.markSkipOrPick(short, "was ran from a different dataset")
		entry.Status = result.StatusImpossible
		return nil
	}

	eligibility, err := p.finish.Check(ctx, entry.Commit, req.FinishBranch, false)
	if err != nil {
		return fmt.Errorf("check finish of %s: %w", entry.Commit, err)
	}
	switch eligibility {
	case finish.NotScheduled:
		entry.markSkipOrPick(short, "not a scheduled job")
	case finish.NoFinish:
		entry.markSkipOrPick(short, "scheduled job must have a corresponding finish")
	default:
		diff, err := p.history.Diff(ctx, entry.Commit)
		if err != nil {
			return fmt.Errorf("diff %s: %w", entry.Commit, err)
		}
		entry.Action = ActionRun
		entry.Diff = diff
		entry.RerunMessage = req.Message
	}
	return nil
}
