package replay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"jobtrail/internal/finish"
	"jobtrail/internal/logging"
	"jobtrail/internal/result"
	"jobtrail/internal/services"
)

// Mode selects what Reschedule does with the planned entries.
type Mode int

const (
	ModeExecute Mode = iota
	ModeReport
	ModeScript
)

// Workspace is everything the reschedule front-end needs from the repository.
type Workspace interface {
	Repository
	Describer
	BranchExists(ctx context.Context, name string) (bool, error)
}

// Request describes one reschedule invocation.
type Request struct {
	// Revision defaults to the active branch.
	Revision string
	// Since is nil when not given. An empty value replays the whole history
	// reachable from Revision.
	Since   *string
	Onto    *string
	Branch  string
	Message string
	Mode    Mode
	// Script is the output path for ModeScript; "-" writes to ScriptOut.
	Script    string
	ScriptOut io.Writer
}

// Outcome is what a reschedule produced.
type Outcome struct {
	Entries []Entry
	Results []result.Result
}

// Rescheduler is the front-end of the replay engine.
type Rescheduler struct {
	repo      Workspace
	checker   FinishChecker
	planner   *Planner
	engine    *Engine
	datasetID string
	logger    *slog.Logger
}

// NewRescheduler wires planner and engine for the dataset datasetID.
func NewRescheduler(repo Workspace, checker FinishChecker, runner Runner, datasetID string, logger *slog.Logger) *Rescheduler {
	return &Rescheduler{
		repo:      repo,
		checker:   checker,
		planner:   NewPlanner(repo, checker, logger),
		engine:    NewEngine(repo, runner, logger),
		datasetID: datasetID,
		logger:    logging.NewComponentLogger(logger, "reschedule"),
	}
}

// Reschedule plans the requested range and executes, reports, or scripts it.
// Precondition failures are returned as errors tagged for services.StatusFor.
func (r *Rescheduler) Reschedule(ctx context.Context, req Request) (Outcome, error) {
	ctx = services.WithStage(ctx, action)

	if _, err := r.repo.Head(ctx); err != nil {
		return Outcome{}, services.Wrap(services.ErrValidation, action, "", "cannot reschedule command, nothing recorded", nil)
	}
	if req.Branch != "" {
		exists, err := r.repo.BranchExists(ctx, req.Branch)
		if err != nil {
			return Outcome{}, err
		}
		if exists {
			return Outcome{}, fmt.Errorf("branch '%s' already exists", req.Branch)
		}
	}

	revBranch, err := r.repo.ActiveBranch(ctx)
	if err != nil {
		return Outcome{}, err
	}
	if revBranch == "" {
		revBranch = "HEAD"
	}
	revision := req.Revision
	if revision == "" {
		revision = revBranch
	}
	revRange := RevisionRange(revision, req.Since, r.repo.CommitExists(ctx, revision+"^"))

	if req.Since == nil || *req.Since == "" {
		if err := r.guard(ctx, revision, revBranch); err != nil {
			return Outcome{}, err
		}
	}

	entries, err := r.planner.Plan(ctx, PlanRequest{
		Range:        revRange,
		Onto:         req.Onto,
		Branch:       req.Branch,
		Message:      req.Message,
		FinishBranch: revBranch,
		DatasetID:    r.datasetID,
	})
	if err != nil {
		return Outcome{}, err
	}

	switch req.Mode {
	case ModeReport:
		reported, err := Report(ctx, r.repo, entries)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Entries: reported, Results: Results(reported)}, nil
	case ModeScript:
		return r.script(ctx, req, revision, entries)
	default:
		done, err := r.engine.Execute(ctx, entries)
		out := Outcome{Entries: done, Results: Results(done)}
		if err != nil {
			logging.ErrorWithContext(r.logger, "replay aborted", "replay_aborted",
				logging.Error(err),
				logging.Int("completed_steps", len(done)),
				logging.String(logging.FieldErrorHint, "inspect the work tree; the branch was not moved"),
			)
		}
		return out, err
	}
}

// RevisionRange builds the range walked for revision. hasParent reports
// whether revision^ exists.
func RevisionRange(revision string, since *string, hasParent bool) string {
	switch {
	case !hasParent:
		return revision
	case since == nil:
		return revision + "^.." + revision
	case strings.TrimSpace(*since) == "":
		return revision
	default:
		return *since + ".." + revision
	}
}

// guard rejects a single-commit reschedule of anything but a finished,
// original schedule commit.
func (r *Rescheduler) guard(ctx context.Context, revision, revBranch string) error {
	eligibility, err := r.checker.Check(ctx, revision, revBranch, false)
	if err != nil {
		return err
	}
	switch eligibility {
	case finish.NotScheduled:
		short := revision
		if len(short) > 7 {
			short = short[:7]
		}
		return fmt.Errorf("commit %s is not a scheduled job (already re-scheduled jobs cannot be re-re-scheduled)", short)
	case finish.NoFinish:
		return fmt.Errorf("no finish found for schedule commit %s", revision)
	}
	return nil
}

func (r *Rescheduler) script(ctx context.Context, req Request, revision string, entries []Entry) (Outcome, error) {
	resolved, err := r.repo.Resolve(ctx, revision)
	if err != nil {
		return Outcome{}, err
	}
	header := ScriptHeader{
		Script:    req.Script,
		Since:     req.Since,
		Revision:  resolved,
		DatasetID: r.datasetID,
		Path:      r.repo.Root(),
	}

	var w io.Writer
	toStdout := strings.TrimSpace(req.Script) == "-"
	if toStdout {
		w = req.ScriptOut
		if w == nil {
			w = os.Stdout
		}
	} else {
		f, err := os.Create(req.Script)
		if err != nil {
			return Outcome{}, fmt.Errorf("create script: %w", err)
		}
		defer f.Close()
		w = f
	}

	stopped, err := WriteScript(ctx, r.repo, w, header, entries)
	if err != nil {
		return Outcome{}, fmt.Errorf("write script: %w", err)
	}
	if stopped != nil {
		return Outcome{Entries: []Entry{*stopped}, Results: []result.Result{stopped.Result()}}, nil
	}
	if toStdout {
		return Outcome{Entries: entries}, nil
	}
	res := result.OK(action, "Script written to "+req.Script)
	res.Path = req.Script
	return Outcome{Entries: entries, Results: []result.Result{res}}, nil
}
