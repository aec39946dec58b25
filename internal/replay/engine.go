package replay

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"

	"jobtrail/internal/gitrepo"
	"jobtrail/internal/logging"
	"jobtrail/internal/record"
	"jobtrail/internal/result"
	"jobtrail/internal/schedule"
	"jobtrail/internal/services"
)

// Repository is the versioned storage a replay reads and rewrites.
type Repository interface {
	History
	Root() string
	Checkout(ctx context.Context, ref string, opts gitrepo.CheckoutOptions) error
	CherryPick(ctx context.Context, rev string) error
	Merge(ctx context.Context, parents []string, message string) error
	UpdateRef(ctx context.Context, ref, target string) error
	ActiveBranch(ctx context.Context) (string, error)
}

// Runner re-submits the job of a run entry. *schedule.Workflow implements it.
type Runner interface {
	Schedule(ctx context.Context, req schedule.Request) schedule.Outcome
}

// RerunContext is the state threaded through one replay. NewBases maps an
// original commit to the commit produced for it.
type RerunContext struct {
	NewBases map[string]string
	Head     string
	Onto     string
	// BranchToRestore is moved to the final head when the replay ends.
	BranchToRestore string
}

// Engine executes classified entries.
type Engine struct {
	repo   Repository
	runner Runner
	logger *slog.Logger
}

// NewEngine constructs an engine.
func NewEngine(repo Repository, runner Runner, logger *slog.Logger) *Engine {
	return &Engine{
		repo:   repo,
		runner: runner,
		logger: logging.NewComponentLogger(logger, "replay"),
	}
}

// Start captures the initial context from the current work tree.
func (e *Engine) Start(ctx context.Context) (*RerunContext, error) {
	head, err := e.repo.Head(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}
	branch, err := e.repo.ActiveBranch(ctx)
	if err != nil {
		return nil, fmt.Errorf("active branch: %w", err)
	}
	return &RerunContext{
		NewBases:        make(map[string]string),
		Head:            head,
		Onto:            head,
		BranchToRestore: branch,
	}, nil
}

// Execute applies entries in order. Cancellation is honoured between entries
// only. The returned entries carry their resolved actions and outcomes; on
// error they cover the steps that completed.
func (e *Engine) Execute(ctx context.Context, entries []Entry) ([]Entry, error) {
	rc, err := e.Start(ctx)
	if err != nil {
		return nil, err
	}
	done := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		out, err := e.Step(ctx, rc, entry)
		if err != nil {
			return done, err
		}
		done = append(done, out)
	}
	if err := e.Finish(ctx, rc); err != nil {
		return done, err
	}
	return done, nil
}

// Finish lands the replayed head on the branch the replay started from or
// created.
func (e *Engine) Finish(ctx context.Context, rc *RerunContext) error {
	if rc.BranchToRestore == "" {
		return nil
	}
	if err := e.repo.UpdateRef(ctx, "refs/heads/"+rc.BranchToRestore, "HEAD"); err != nil {
		return fmt.Errorf("update branch %s: %w", rc.BranchToRestore, err)
	}
	if err := e.repo.Checkout(ctx, rc.BranchToRestore, gitrepo.CheckoutOptions{}); err != nil {
		return fmt.Errorf("checkout %s: %w", rc.BranchToRestore, err)
	}
	return nil
}

// Step applies one entry and updates rc.
func (e *Engine) Step(ctx context.Context, rc *RerunContext, entry Entry) (Entry, error) {
	ctx = services.WithCommit(ctx, entry.Commit)
	e.logStep(entry)

	switch {
	case entry.Action == "":
		return entry, nil
	case entry.Action == ActionCheckout:
		return entry, e.checkout(ctx, rc, entry)
	case len(entry.Parents) == 0:
		entry.resolve(ActionSkip)
		return entry, nil
	case entry.Action == ActionMerge:
		return entry, e.merge(ctx, rc, entry)
	}

	parent := entry.Parents[0]
	headToRestore := ""
	if base, ok := rc.NewBases[parent]; ok {
		if base != rc.Head {
			if err := e.repo.Checkout(ctx, base, gitrepo.CheckoutOptions{}); err != nil {
				return entry, err
			}
			headToRestore, rc.Head = rc.Head, base
		}
	} else if parent != rc.Head {
		reachable, err := e.repo.IsAncestor(ctx, rc.Onto, parent)
		if err != nil {
			return entry, err
		}
		switch {
		case reachable && entry.Action == ActionRun:
			if err := e.repo.Checkout(ctx, parent, gitrepo.CheckoutOptions{}); err != nil {
				return entry, err
			}
			rc.Head = parent
		case reachable:
			entry.resolve(ActionSkip)
			e.logDecision(entry, "parent is outside the replayed line")
			return entry, nil
		default:
			rc.NewBases[parent] = rc.Head
		}
	}

	switch entry.Action {
	case ActionSkipOrPick:
		contained, err := e.repo.IsAncestor(ctx, entry.Commit, rc.Head)
		if err != nil {
			return entry, err
		}
		if contained {
			entry.resolve(ActionSkip)
			e.logDecision(entry, "already contained in head")
			if headToRestore != "" {
				if err := e.repo.Checkout(ctx, headToRestore, gitrepo.CheckoutOptions{}); err != nil {
					return entry, err
				}
				rc.Head = headToRestore
			}
			return entry, nil
		}
		if err := e.repo.CherryPick(ctx, entry.Commit); err != nil {
			return entry, err
		}
		entry.resolve(ActionPick)
		e.logDecision(entry, "not contained in head")
	case ActionRun:
		var err error
		if entry, err = e.run(ctx, entry); err != nil {
			return entry, err
		}
	}

	return entry, e.advance(ctx, rc, entry.Commit)
}

func (e *Engine) checkout(ctx context.Context, rc *RerunContext, entry Entry) error {
	opts := gitrepo.CheckoutOptions{Detach: true}
	rc.BranchToRestore = ""
	if entry.Branch != "" {
		opts = gitrepo.CheckoutOptions{NewBranch: entry.Branch}
		rc.BranchToRestore = entry.Branch
	}
	if err := e.repo.Checkout(ctx, entry.Commit, opts); err != nil {
		return fmt.Errorf("checkout start point %s: %w", entry.Commit, err)
	}
	rc.Head = entry.Commit
	rc.Onto = entry.Commit
	return nil
}

// merge rebuilds a merge commit on the remapped parents. Parents already
// contained in onto are dropped. With fewer than two parents left no merge
// commit is made.
func (e *Engine) merge(ctx context.Context, rc *RerunContext, entry Entry) error {
	parents := make([]string, len(entry.Parents))
	for i, p := range entry.Parents {
		parents[i] = p
		if base, ok := rc.NewBases[p]; ok {
			parents[i] = base
		}
	}

	if slices.Equal(parents, entry.Parents) {
		contained, err := e.repo.IsAncestor(ctx, entry.Commit, rc.Head)
		if err != nil {
			return err
		}
		if !contained {
			if err := e.repo.Checkout(ctx, entry.Commit, gitrepo.CheckoutOptions{}); err != nil {
				return err
			}
			rc.Head = entry.Commit
		}
		return nil
	}
	if entry.Commit == rc.Head {
		return nil
	}

	remaining := parents[:0]
	for _, p := range parents {
		subsumed, err := e.repo.IsAncestor(ctx, p, rc.Onto)
		if err != nil {
			return err
		}
		if !subsumed {
			remaining = append(remaining, p)
		}
	}
	if len(remaining) == 0 {
		return nil
	}
	if remaining[0] != rc.Head {
		if err := e.repo.Checkout(ctx, remaining[0], gitrepo.CheckoutOptions{}); err != nil {
			return err
		}
	}
	if len(remaining) > 1 {
		msg, err := e.repo.CommitMessage(ctx, entry.Commit)
		if err != nil {
			return err
		}
		if err := e.repo.Merge(ctx, remaining[1:], msg); err != nil {
			return fmt.Errorf("merge %s: %w", entry.Commit, err)
		}
	}
	head, err := e.repo.Head(ctx)
	if err != nil {
		return err
	}
	rc.Head = head
	rc.NewBases[entry.Commit] = head
	return nil
}

func (e *Engine) run(ctx context.Context, entry Entry) (Entry, error) {
	prior := entry.Record.Clone()
	prior.Chain = append(prior.Chain, entry.Commit)

	outputs := make([]string, 0, len(prior.Outputs))
	for _, out := range prior.Outputs {
		if !slices.Contains(prior.SchedulerOutputs, out) {
			outputs = append(outputs, out)
		}
	}

	message := entry.RerunMessage
	if message == "" {
		message = entry.Subject
	}
	message = record.StripSubmissionNotice(message)

	outcome := e.runner.Schedule(ctx, schedule.Request{
		Command:     prior.Command,
		Inputs:      prior.Inputs,
		ExtraInputs: prior.ExtraInputs,
		Outputs:     outputs,
		Message:     message,
		AltDir:      prior.AltDir,
		Explicit:    true,
		Prior:       prior,
		AutoOutputs: autoOutputs(entry.Diff, prior),
	})
	entry.Status = outcome.Result.Status
	entry.Message = outcome.Result.Message
	entry.JobID = outcome.Result.JobID
	entry.NewCommit = outcome.Result.Commit
	if outcome.Err != nil {
		return entry, fmt.Errorf("rerun %s: %w", entry.Commit, outcome.Err)
	}
	return entry, nil
}

// autoOutputs lists files the original commit added or modified that are not
// declared outputs. Declared outputs may be written relative to the record's
// working directory or to the repository root.
func autoOutputs(diff []gitrepo.FileChange, rec *record.Record) []string {
	var auto []string
	for _, path := range gitrepo.NewOrModified(diff) {
		if slices.Contains(rec.Outputs, path) {
			continue
		}
		if rel, err := filepath.Rel(rec.WorkingDir, path); err == nil && slices.Contains(rec.Outputs, rel) {
			continue
		}
		auto = append(auto, path)
	}
	return auto
}

// advance records the commit a step produced for original.
func (e *Engine) advance(ctx context.Context, rc *RerunContext, original string) error {
	head, err := e.repo.Head(ctx)
	if err != nil {
		return err
	}
	if head != rc.Head && head != original {
		rc.NewBases[original] = head
	}
	rc.Head = head
	return nil
}

func (e *Engine) logStep(entry Entry) {
	subject := entry.Subject
	if len(subject) > 20 {
		subject = subject[:17] + "..."
	}
	e.logger.Info("replay step",
		logging.String("action", string(entry.Action)),
		logging.String(logging.FieldCommit, entry.Commit),
		logging.String("subject", subject),
		logging.String("reason", entry.Message),
	)
}

func (e *Engine) logDecision(entry Entry, reason string) {
	attrs := logging.DecisionAttrs("skip_or_pick", string(entry.Action), reason)
	attrs = append(attrs, logging.String(logging.FieldCommit, entry.Commit))
	e.logger.Info("replay decision", logging.Args(attrs...)...)
}

// Results converts entries to shared results, dropping checkout entries.
func Results(entries []Entry) []result.Result {
	out := make([]result.Result, 0, len(entries))
	for _, entry := range entries {
		if entry.Action == ActionCheckout {
			continue
		}
		out = append(out, entry.Result())
	}
	return out
}
