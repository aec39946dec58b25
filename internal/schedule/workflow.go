package schedule

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

const action = "schedule"

const wildcardChars = "*?[]!^{}"

// Repository is the work tree a schedule commit is written to.
type Repository interface {
	Root() string
	IsDirty(ctx context.Context) (bool, error)
	Commit(ctx context.Context, message string) (string, error)
}

// Ledger is the claim store guarding outputs of open jobs.
type Ledger interface {
	WithLock(ctx context.Context, fn func(context.Context) error) error
	CheckConflict(ctx context.Context, names, prefixes []string) ledger.ConflictCheck
	ClaimIfFree(ctx context.Context, claim ledger.Claim) error
	RecordClaim(ctx context.Context, claim ledger.Claim) error
}

// Submitter hands jobs to the batch scheduler.
type Submitter interface {
	Submit(ctx context.Context, command, dir string) (slurm.Submission, error)
	DiscoverArtifacts(ctx context.Context, jobID, baseDir string) ([]string, error)
	StageInputs(ctx context.Context, srcDir, targetDir string, inputs []string) error
}

// Request describes one job to schedule.
type Request struct {
	Command     string
	Inputs      []string
	ExtraInputs []string
	// Outputs are relative to Dir.
	Outputs []string
	Message string
	// Dir is the absolute directory the job is scheduled from. Defaults to
	// the repository root.
	Dir             string
	SkipOutputCheck bool
	DryRun          bool
	AltDir          string
	Explicit        bool
	// Prior is the record being rescheduled. Its chain and working
	// directory carry over to the new record.
	Prior *record.Record
	// AutoOutputs are files the prior run created or modified beyond its
	// declared outputs.
	AutoOutputs []string
}

// Outcome is the result of a schedule call plus the record it produced. Err
// is set when the failure must abort a surrounding replay: the ledger was
// unreachable or the submission command could not be run.
type Outcome struct {
	Result result.Result
	Record *record.Record
	Err    error
}

// Workflow schedules jobs.
type Workflow struct {
	repo      Repository
	ledger    Ledger
	submitter Submitter
	datasetID string
	logger    *slog.Logger
}

// NewWorkflow wires the schedule workflow for the dataset datasetID.
func NewWorkflow(repo Repository, store Ledger, submitter Submitter, datasetID string, logger *slog.Logger) *Workflow {
	return &Workflow{
		repo:      repo,
		ledger:    store,
		submitter: submitter,
		datasetID: datasetID,
		logger:    logging.NewComponentLogger(logger, "schedule"),
	}
}

// Schedule validates, submits, claims, and records one job.
func (w *Workflow) Schedule(ctx context.Context, req Request) Outcome {
	ctx = services.WithStage(ctx, action)
	logger := logging.WithContext(ctx, w.logger)

	if strings.TrimSpace(req.Command) == "" {
		return fail(result.Impossible(action, "no command given"))
	}
	if len(req.Outputs) == 0 {
		return fail(result.Impossible(action, "At least one output must be specified for jobtrail schedule."))
	}

	root := w.repo.Root()
	dir := req.Dir
	if dir == "" {
		dir = root
	}
	relDir, err := filepath.Rel(root, dir)
	if err != nil || strings.HasPrefix(relDir, "..") {
		return fail(result.Impossible(action, "%s is outside the dataset at %s", dir, root))
	}
	relPwd := relDir
	if req.Prior != nil && strings.TrimSpace(req.Prior.WorkingDir) != "" {
		relPwd = filepath.Clean(req.Prior.WorkingDir)
	}
	pwd := filepath.Join(root, relPwd)

	for _, out := range req.Outputs {
		if strings.ContainsAny(out, wildcardChars) {
			return fail(result.Impossible(action, "Wildcards in output_files are forbidden due to potential conflicts."))
		}
	}
	outputs := make([]string, 0, len(req.Outputs))
	for _, out := range req.Outputs {
		outputs = append(outputs, filepath.Join(relDir, strings.TrimRight(out, "/")))
	}

	if req.Prior == nil && !req.Explicit {
		dirty, err := w.repo.IsDirty(ctx)
		if err != nil {
			return fail(result.Error(action, "inspect work tree: %v", err))
		}
		if dirty {
			return fail(result.Impossible(action,
				"clean dataset required to detect changes from command; use `git status` to inspect unsaved changes"))
		}
	}

	prefixes := ledger.ComputeLockedPrefixes(outputs)
	rec := &record.Record{
		Command:     req.Command,
		Chain:       []string{},
		Inputs:      nonNil(req.Inputs),
		ExtraInputs: nonNil(req.ExtraInputs),
		Outputs:     outputs,
		WorkingDir:  relPwd,
		DatasetID:   w.datasetID,
		AltDir:      req.AltDir,
	}
	if req.Prior != nil {
		rec.Chain = append(rec.Chain, req.Prior.Chain...)
	}
	if len(req.AutoOutputs) > 0 {
		logger.Debug("outputs detected from prior run", logging.Strings("auto_outputs", req.AutoOutputs))
	}

	if req.DryRun {
		if res, err := w.checkConflicts(ctx, logger, req, outputs, prefixes); err != nil || res.Failed() {
			return Outcome{Result: res, Err: err}
		}
		return Outcome{Result: result.OK(action, "Dry run"), Record: rec}
	}

	if req.AltDir != "" {
		if info, err := os.Stat(req.AltDir); err != nil || !info.IsDir() {
			return fail(result.Error(action, "Alternative job directory '%s' doesn't exist", req.AltDir))
		}
	}

	subject := strings.TrimSpace(req.Message)
	if subject == "" {
		subject = record.ShortCommand(req.Command)
	}

	var submission slurm.Submission
	var outcome *result.Result
	var abort error
	lockErr := w.ledger.WithLock(ctx, func(ctx context.Context) error {
		if res, err := w.checkConflicts(ctx, logger, req, outputs, prefixes); err != nil || res.Failed() {
			outcome = &res
			abort = err
			return nil
		}

		targetPwd := pwd
		if req.AltDir != "" {
			targetPwd = filepath.Join(req.AltDir, relPwd)
			staged := append(append([]string(nil), req.Inputs...), req.ExtraInputs...)
			if err := w.submitter.StageInputs(ctx, pwd, targetPwd, staged); err != nil {
				res := result.Error(action, "copy inputs to alternative directory: %v", err)
				outcome = &res
				return nil
			}
		}

		sub, err := w.submitter.Submit(ctx, req.Command, targetPwd)
		if err != nil {
			var res result.Result
			if errors.Is(err, slurm.ErrNoJobSubmitted) {
				res = result.Impossible(action, "No job was submitted to slurm. Check your submission script exists and is valid.")
			} else {
				res = result.Error(action, "submit job: %v", err)
				abort = services.Wrap(services.ErrExternalTool, action, "submit", "", err)
			}
			outcome = &res
			return nil
		}
		submission = sub
		rec.JobID = record.JobID(sub.JobID)
		rec.ExitStatus = sub.ExitCode
		jobCtx := services.WithJobID(ctx, sub.JobID)
		jobLogger := logging.WithContext(jobCtx, w.logger)
		jobLogger.Info("job submitted", logging.Int("exit", sub.ExitCode))

		baseDir := pwd
		if req.AltDir != "" {
			baseDir = req.AltDir
		}
		artifacts, err := w.submitter.DiscoverArtifacts(jobCtx, sub.JobID, baseDir)
		if err != nil {
			logging.ErrorWithContext(jobLogger, "artifact discovery failed", "schedule_artifacts_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "the job is queued but unclaimed; cancel it or schedule again"),
			)
			res := result.Error(action, "discover output files of job %s: %v", sub.JobID, err).WithJobID(sub.JobID)
			outcome = &res
			return nil
		}
		rec.SchedulerOutputs = artifacts

		claim := ledger.Claim{JobID: sub.JobID, Message: subject, Record: rec, Names: outputs, Prefixes: prefixes}
		if req.SkipOutputCheck {
			err = w.ledger.RecordClaim(jobCtx, claim)
		} else {
			err = w.ledger.ClaimIfFree(jobCtx, claim)
		}
		if err != nil {
			if errors.Is(err, ledger.ErrClaimConflict) {
				res := result.Impossible(action, "%v", err).WithJobID(sub.JobID)
				outcome = &res
				return nil
			}
			return fmt.Errorf("%w: %w", services.ErrLedgerUnavailable, err)
		}
		return nil
	})
	if lockErr != nil {
		logging.ErrorWithContext(logger, "ledger unavailable", "schedule_ledger_unavailable",
			logging.Error(lockErr),
			logging.String(logging.FieldErrorHint, "run `jobtrail ledger health`"),
		)
		res := result.Error(action, "Database connection cannot be established: %v", lockErr)
		if submission.JobID != "" {
			res = res.WithJobID(submission.JobID)
		}
		if !errors.Is(lockErr, services.ErrLedgerUnavailable) {
			lockErr = fmt.Errorf("%w: %w", services.ErrLedgerUnavailable, lockErr)
		}
		return Outcome{Result: res, Err: lockErr}
	}
	if outcome != nil {
		return Outcome{Result: *outcome, Record: rec, Err: abort}
	}

	kind := record.KindSchedule
	commitSubject := subject
	if req.Prior != nil {
		kind = record.KindReschedule
		commitSubject += fmt.Sprintf("\n\nRe-submission of job %s.", req.Prior.JobID)
	}
	message, err := record.Encode(kind, commitSubject, rec)
	if err != nil {
		return Outcome{Result: result.Error(action, "encode record: %v", err).WithJobID(submission.JobID), Record: rec}
	}
	commit, err := w.repo.Commit(ctx, message)
	if err != nil {
		logging.ErrorWithContext(logger, "schedule commit failed", "schedule_commit_failed",
			logging.Error(err),
			logging.String(logging.FieldJobID, submission.JobID),
			logging.String(logging.FieldErrorHint, "release the claim with `jobtrail ledger release`"),
		)
		return Outcome{Result: result.Error(action, "commit schedule record: %v", err).WithJobID(submission.JobID), Record: rec}
	}

	expectedExit := 0
	if req.Prior != nil {
		expectedExit = req.Prior.ExitStatus
	}
	res := result.OK(action, record.ShortCommand(req.Command))
	if submission.ExitCode != 0 && submission.ExitCode != expectedExit {
		res = result.Error(action, "submission command exited with status %d", submission.ExitCode)
	}
	return Outcome{Result: res.WithJobID(submission.JobID).WithCommit(commit), Record: rec}
}

// checkConflicts returns a non-ok result when scheduling must stop. The error
// is set only for an unreachable ledger.
func (w *Workflow) checkConflicts(ctx context.Context, logger *slog.Logger, req Request, outputs, prefixes []string) (result.Result, error) {
	ok := result.OK(action, "")
	if req.SkipOutputCheck {
		return ok, nil
	}
	check := w.ledger.CheckConflict(ctx, outputs, prefixes)
	if check.Fault != nil {
		logging.WarnWithContext(logger, "ledger query fault during conflict check", "ledger_query_fault",
			logging.Error(check.Fault),
			logging.Bool("reachable", check.Reachable),
			logging.String(logging.FieldImpact, "conflict protection may be incomplete"),
		)
	}
	if !check.Reachable {
		err := services.ErrLedgerUnavailable
		if check.Fault != nil {
			err = fmt.Errorf("%w: %w", services.ErrLedgerUnavailable, check.Fault)
		}
		return result.Error(action, "Database connection cannot be established"), err
	}
	if check.Conflict {
		logger.Info("output conflict",
			logging.Args(append(logging.DecisionAttrs("output_conflict", "rejected", strings.Join(check.Jobs, ",")),
				logging.Strings("outputs", outputs))...)...)
		return result.Impossible(action,
			"There are conflicting outputs with previously scheduled jobs. Finish those jobs or adjust output for the current job first. (open jobs: %s)",
			strings.Join(check.Jobs, ", ")), nil
	}
	return ok, nil
}

func fail(res result.Result) Outcome {
	return Outcome{Result: res}
}

func nonNil(values []string) []string {
	out := make([]string, len(values))
	copy(out, values)
	return out
}
