package gitrepo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"jobtrail/internal/services/shell"
)

// Revision is one commit in a revision walk.
type Revision struct {
	ID      string
	Parents []string
}

// ListRevisions walks revRange oldest first in topological order.
func (r *Repo) ListRevisions(ctx context.Context, revRange string) ([]Revision, error) {
	out, err := r.output(ctx, "rev-list", "--reverse", "--topo-order", "--parents", revRange)
	if err != nil {
		return nil, fmt.Errorf("list revisions %s: %w", revRange, err)
	}
	var revs []Revision
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		revs = append(revs, Revision{ID: fields[0], Parents: fields[1:]})
	}
	return revs, nil
}

// IsAncestor reports whether ancestor is reachable from descendant. A commit
// is its own ancestor.
func (r *Repo) IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error) {
	_, err := r.run(ctx, "", "merge-base", "--is-ancestor", ancestor, descendant)
	if err == nil {
		return true, nil
	}
	if shell.ExitCode(err) == 1 {
		return false, nil
	}
	return false, fmt.Errorf("check ancestry %s..%s: %w", ancestor, descendant, err)
}

// Resolve returns the full commit id for ref.
func (r *Repo) Resolve(ctx context.Context, ref string) (string, error) {
	id, err := r.output(ctx, "rev-parse", "--verify", "--quiet", ref+"^{commit}")
	if err != nil || id == "" {
		if shell.ExitCode(err) == 1 || id == "" {
			return "", fmt.Errorf("%w: %s", ErrUnknownRevision, ref)
		}
		return "", fmt.Errorf("resolve %s: %w", ref, err)
	}
	return id, nil
}

// CommitExists reports whether ref names a commit.
func (r *Repo) CommitExists(ctx context.Context, ref string) bool {
	_, err := r.Resolve(ctx, ref)
	return err == nil
}

// Head returns the commit id HEAD points to.
func (r *Repo) Head(ctx context.Context) (string, error) {
	return r.Resolve(ctx, "HEAD")
}

// Parents returns the parent ids of rev.
func (r *Repo) Parents(ctx context.Context, rev string) ([]string, error) {
	out, err := r.output(ctx, "rev-list", "--parents", "-n", "1", rev)
	if err != nil {
		return nil, fmt.Errorf("read parents of %s: %w", rev, err)
	}
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRevision, rev)
	}
	return fields[1:], nil
}

// CommitMessage returns the raw message of rev.
func (r *Repo) CommitMessage(ctx context.Context, rev string) (string, error) {
	out, err := r.run(ctx, "", "log", "-1", "--format=%B", rev)
	if err != nil {
		return "", fmt.Errorf("read message of %s: %w", rev, err)
	}
	return out, nil
}

// Describe returns a tag-based name for rev, or an empty string when no tag
// reaches it.
func (r *Repo) Describe(ctx context.Context, rev string) string {
	out, err := r.output(ctx, "describe", "--tags", rev)
	if err != nil {
		return ""
	}
	return out
}

// ShortID abbreviates rev the way git would.
func (r *Repo) ShortID(ctx context.Context, rev string) string {
	out, err := r.output(ctx, "rev-parse", "--short", rev)
	if err != nil || out == "" {
		if len(rev) > 7 {
			return rev[:7]
		}
		return rev
	}
	return out
}

// Author is the author name and date of a commit.
type Author struct {
	Name string
	Date time.Time
}

// AuthorOf returns the author of rev.
func (r *Repo) AuthorOf(ctx context.Context, rev string) (Author, error) {
	out, err := r.output(ctx, "log", "-1", "--format=%an%x00%aI", rev)
	if err != nil {
		return Author{}, fmt.Errorf("read author of %s: %w", rev, err)
	}
	name, date, _ := strings.Cut(out, "\x00")
	author := Author{Name: name}
	if parsed, perr := time.Parse(time.RFC3339, date); perr == nil {
		author.Date = parsed
	}
	return author, nil
}

// FileChange is one entry of a diff between two commits.
type FileChange struct {
	Status string
	Path   string
}

// Diff lists file changes introduced by rev relative to its first parent.
// Paths are relative to the work tree root.
func (r *Repo) Diff(ctx context.Context, rev string) ([]FileChange, error) {
	out, err := r.output(ctx, "diff-tree", "--no-commit-id", "--name-status", "--no-renames", "-r", rev+"^", rev)
	if err != nil {
		return nil, fmt.Errorf("diff %s: %w", rev, err)
	}
	var changes []FileChange
	for _, line := range strings.Split(out, "\n") {
		status, path, ok := strings.Cut(line, "\t")
		if !ok {
			continue
		}
		changes = append(changes, FileChange{Status: strings.TrimSpace(status), Path: path})
	}
	return changes, nil
}

// NewOrModified filters changes to added and modified files.
func NewOrModified(changes []FileChange) []string {
	var paths []string
	for _, c := range changes {
		if c.Status == "A" || c.Status == "M" {
			paths = append(paths, c.Path)
		}
	}
	return paths
}
