package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"jobtrail/internal/services/shell"
)

// CheckoutOptions selects how Checkout moves HEAD.
type CheckoutOptions struct {
	// NewBranch creates a branch at the target and checks it out.
	NewBranch string
	// Detach checks the target out as a detached HEAD.
	Detach bool
}

// Checkout moves the work tree to ref.
func (r *Repo) Checkout(ctx context.Context, ref string, opts CheckoutOptions) error {
	args := []string{"checkout"}
	switch {
	case opts.NewBranch != "":
		args = append(args, "-b", opts.NewBranch)
	case opts.Detach:
		args = append(args, "--detach")
	}
	args = append(args, ref)
	_, err := r.run(ctx, "", args...)
	return err
}

// CherryPick applies rev on top of HEAD. Record commits carry no file
// changes, so empty and redundant picks are kept as commits. A failed pick is
// aborted so the work tree is left at the previous HEAD.
func (r *Repo) CherryPick(ctx context.Context, rev string) error {
	_, err := r.run(ctx, "", "cherry-pick", "--allow-empty", "--keep-redundant-commits", rev)
	if err != nil {
		return r.abort(ctx, err, "cherry-pick", "CHERRY_PICK_HEAD")
	}
	return nil
}

// Merge merges parents into HEAD with an explicit merge commit. A conflicted
// merge is aborted.
func (r *Repo) Merge(ctx context.Context, parents []string, message string) error {
	args := []string{"merge", "-m", message, "--no-ff", "--allow-unrelated-histories"}
	args = append(args, parents...)
	if _, err := r.run(ctx, "", args...); err != nil {
		return r.abort(ctx, err, "merge", "MERGE_HEAD")
	}
	return nil
}

// abort rolls back operation when git left it in progress, which pendingRef
// marks. The executor error already names the git command, so cause is
// returned unwrapped.
func (r *Repo) abort(ctx context.Context, cause error, operation, pendingRef string) error {
	ctx = context.WithoutCancel(ctx)
	if shell.ExitCode(cause) < 0 || !r.CommitExists(ctx, pendingRef) {
		return cause
	}
	if _, err := r.run(ctx, "", operation, "--abort"); err != nil {
		return errors.Join(cause, fmt.Errorf("%s --abort: %w", operation, err))
	}
	return cause
}

// UpdateRef points ref at target.
func (r *Repo) UpdateRef(ctx context.Context, ref, target string) error {
	_, err := r.run(ctx, "", "update-ref", ref, target)
	return err
}

// BranchExists reports whether a local branch named name exists.
func (r *Repo) BranchExists(ctx context.Context, name string) (bool, error) {
	_, err := r.run(ctx, "", "show-ref", "--verify", "--quiet", "refs/heads/"+name)
	if err == nil {
		return true, nil
	}
	if shell.ExitCode(err) == 1 {
		return false, nil
	}
	return false, fmt.Errorf("check branch %s: %w", name, err)
}

// ActiveBranch returns the checked-out branch, or an empty string when HEAD is
// detached.
func (r *Repo) ActiveBranch(ctx context.Context) (string, error) {
	out, err := r.output(ctx, "symbolic-ref", "--short", "-q", "HEAD")
	if err != nil {
		if shell.ExitCode(err) == 1 {
			return "", nil
		}
		return "", fmt.Errorf("read active branch: %w", err)
	}
	return out, nil
}

// IsDirty reports whether the work tree has uncommitted changes, including
// untracked files.
func (r *Repo) IsDirty(ctx context.Context) (bool, error) {
	out, err := r.output(ctx, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("read status: %w", err)
	}
	return strings.TrimSpace(out) != "", nil
}

// Add stages paths, including deletions.
func (r *Repo) Add(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	args := append([]string{"add", "-A", "--"}, paths...)
	if _, err := r.run(ctx, "", args...); err != nil {
		return fmt.Errorf("stage paths: %w", err)
	}
	return nil
}

// Commit records the index with message. An empty index still produces a
// commit because record commits may carry no file changes.
func (r *Repo) Commit(ctx context.Context, message string) (string, error) {
	if _, err := r.run(ctx, message, "commit", "--allow-empty", "-q", "-F", "-"); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return r.Head(ctx)
}
