package finish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"jobtrail/internal/ledger"
	"jobtrail/internal/logging"
	"jobtrail/internal/record"
	"jobtrail/internal/result"
	"jobtrail/internal/services"
	"jobtrail/internal/slurm"
)

const action = "finish"

// Repository is the work tree the workflow commits into.
type Repository interface {
	History
	Root() string
	Add(ctx context.Context, paths ...string) error
	Commit(ctx context.Context, message string) (string, error)
}

// Ledger is the claim store consulted and released by finish.
type Ledger interface {
	Lookup(ctx context.Context, jobID string) (*ledger.OpenJob, error)
	List(ctx context.Context) ([]*ledger.OpenJob, error)
	ReleaseClaim(ctx context.Context, jobID string) error
}

// Scheduler reports job state and copies job directories back.
type Scheduler interface {
	QueryState(ctx context.Context, jobID string) (slurm.JobState, error)
	StageInputs(ctx context.Context, srcDir, targetDir string, paths []string) error
}

// Request selects the jobs to finish.
type Request struct {
	// Commit is the schedule commit to finish. Defaults to HEAD.
	Commit string
	JobID  string
	All    bool
	// ListOpenJobs reports open jobs without finishing anything.
	ListOpenJobs    bool
	CloseFailedJobs bool
	Explicit        bool
	Message         string
}

// Workflow finishes scheduled jobs.
type Workflow struct {
	repo      Repository
	ledger    Ledger
	scheduler Scheduler
	logger    *slog.Logger
}

// NewWorkflow wires the finish workflow.
func NewWorkflow(repo Repository, store Ledger, scheduler Scheduler, logger *slog.Logger) *Workflow {
	return &Workflow{
		repo:      repo,
		ledger:    store,
		scheduler: scheduler,
		logger:    logging.NewComponentLogger(logger, "finish"),
	}
}

// Run finishes the selected jobs and returns one result per job.
func (w *Workflow) Run(ctx context.Context, req Request) []result.Result {
	ctx = services.WithStage(ctx, action)
	if req.ListOpenJobs {
		return w.listOpen(ctx)
	}
	if !req.Explicit {
		return []result.Result{result.Impossible(action,
			"clean dataset required to detect changes from command; rerun with --explicit to finish jobs")}
	}

	jobs, res := w.selectJobs(ctx, req)
	if res != nil {
		return []result.Result{*res}
	}
	results := make([]result.Result, 0, len(jobs))
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			results = append(results, result.Error(action, "finish interrupted: %v", err))
			break
		}
		results = append(results, w.finishJob(services.WithJobID(ctx, job.JobID), job, req))
	}
	return results
}

func (w *Workflow) listOpen(ctx context.Context) []result.Result {
	jobs, err := w.ledger.List(ctx)
	if err != nil {
		return []result.Result{result.Error(action, "list open jobs: %v", err)}
	}
	results := make([]result.Result, 0, len(jobs))
	for _, job := range jobs {
		results = append(results, result.OK("open-job", record.ShortCommand(job.Record.Command)).WithJobID(job.JobID))
	}
	return results
}

func (w *Workflow) selectJobs(ctx context.Context, req Request) ([]*ledger.OpenJob, *result.Result) {
	if req.All {
		jobs, err := w.ledger.List(ctx)
		if err != nil {
			res := result.Error(action, "list open jobs: %v", err)
			return nil, &res
		}
		if len(jobs) == 0 {
			res := result.Impossible(action, "there are no open jobs")
			return nil, &res
		}
		return jobs, nil
	}

	jobID := strings.TrimSpace(req.JobID)
	commit := strings.TrimSpace(req.Commit)
	if jobID == "" {
		if commit == "" {
			commit = "HEAD"
		}
		id, err := NewResolver(w.repo).JobID(ctx, commit, true)
		if err != nil {
			res := result.Error(action, "%v", err)
			return nil, &res
		}
		if id == "" {
			res := result.Impossible(action, "commit %s is not a scheduled job", commit)
			return nil, &res
		}
		jobID = id
	}

	job, err := w.ledger.Lookup(ctx, jobID)
	if err != nil {
		if errors.Is(err, ledger.ErrJobNotFound) {
			res := result.Impossible(action, "job %s has no open claim; it may already be finished", jobID).WithJobID(jobID)
			return nil, &res
		}
		res := result.Error(action, "look up job %s: %v", jobID, err).WithJobID(jobID)
		return nil, &res
	}
	return []*ledger.OpenJob{job}, nil
}

func (w *Workflow) finishJob(ctx context.Context, job *ledger.OpenJob, req Request) result.Result {
	logger := logging.WithContext(ctx, w.logger)
	state, err := w.scheduler.QueryState(ctx, job.JobID)
	if err != nil {
		logging.ErrorWithContext(logger, "job state query failed", "finish_state_query_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check that scontrol or sacct can see the job"),
		)
		return result.Error(action, "query state of job %s: %v", job.JobID, err).WithJobID(job.JobID)
	}
	logger.Debug("job state", logging.String("state", string(state)))

	switch {
	case state.Active():
		return result.Impossible(action, "job %s not finished yet (%s)", job.JobID, state).WithJobID(job.JobID)
	case state == slurm.StateCompleted:
		return w.commitFinish(ctx, logger, job, req.Message)
	case req.CloseFailedJobs:
		if err := w.ledger.ReleaseClaim(ctx, job.JobID); err != nil {
			return result.Error(action, "release job %s: %v", job.JobID, err).WithJobID(job.JobID)
		}
		logger.Info("closed failed job",
			logging.Args(logging.DecisionAttrs("close_failed_job", "released", string(state))...)...)
		return result.OK(action, fmt.Sprintf("closed job %s in state %s without a finish record", job.JobID, state)).WithJobID(job.JobID)
	default:
		return result.Error(action, "job %s ended in state %s; use --close-failed-jobs to release its outputs", job.JobID, state).WithJobID(job.JobID)
	}
}

func (w *Workflow) commitFinish(ctx context.Context, logger *slog.Logger, job *ledger.OpenJob, message string) result.Result {
	rec := job.Record.Clone()
	rec.JobID = record.JobID(job.JobID)
	root := w.repo.Root()

	paths := append([]string(nil), rec.Outputs...)
	for _, artifact := range rec.SchedulerOutputs {
		paths = append(paths, artifactPath(rec, artifact))
	}

	if rec.AltDir != "" {
		if err := w.scheduler.StageInputs(ctx, rec.AltDir, root, paths); err != nil {
			return result.Error(action, "copy results of job %s from %s: %v", job.JobID, rec.AltDir, err).WithJobID(job.JobID)
		}
	}

	var present []string
	for _, p := range paths {
		if _, err := os.Stat(filepath.Join(root, p)); err != nil {
			logging.WarnWithContext(logger, "declared output missing", "finish_output_missing",
				logging.String("path", p),
				logging.String(logging.FieldImpact, "path is not part of the finish commit"),
			)
			continue
		}
		present = append(present, p)
	}
	if err := w.repo.Add(ctx, present...); err != nil {
		return result.Error(action, "stage outputs of job %s: %v", job.JobID, err).WithJobID(job.JobID)
	}

	subject := strings.TrimSpace(message)
	if subject == "" {
		subject = firstLine(job.Message)
	}
	msg, err := record.Encode(record.KindFinish, subject, rec)
	if err != nil {
		return result.Error(action, "encode finish record: %v", err).WithJobID(job.JobID)
	}
	commit, err := w.repo.Commit(ctx, msg)
	if err != nil {
		return result.Error(action, "commit finish record for job %s: %v", job.JobID, err).WithJobID(job.JobID)
	}
	if err := w.ledger.ReleaseClaim(ctx, job.JobID); err != nil {
		return result.Error(action, "finish recorded in %s but releasing job %s failed: %v", commit, job.JobID, err).
			WithJobID(job.JobID).WithCommit(commit)
	}
	logger.Info("job finished", logging.String(logging.FieldCommit, commit), logging.Int("paths", len(present)))
	return result.OK(action, record.ShortCommand(rec.Command)).WithJobID(job.JobID).WithCommit(commit)
}

// artifactPath maps a scheduler artifact to a repository path. Artifacts of
// jobs run in an alternative directory are relative to that directory, which
// mirrors the repository layout; otherwise they are relative to pwd.
func artifactPath(rec *record.Record, artifact string) string {
	if rec.AltDir != "" || rec.WorkingDir == "" || rec.WorkingDir == "." {
		return filepath.Clean(artifact)
	}
	return filepath.Join(rec.WorkingDir, artifact)
}

func firstLine(message string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(message), "\n")
	return strings.TrimSpace(line)
}
