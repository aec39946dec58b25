package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"jobtrail/internal/services/shell"
)

// ErrUnknownRevision is returned when a revision does not resolve to a commit.
var ErrUnknownRevision = errors.New("unknown revision")

// Option configures the repository handle.
type Option func(*Repo)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec shell.Executor) Option {
	return func(r *Repo) {
		if exec != nil {
			r.exec = exec
		}
	}
}

// WithBinary overrides the git binary.
func WithBinary(binary string) Option {
	return func(r *Repo) {
		if strings.TrimSpace(binary) != "" {
			r.binary = strings.TrimSpace(binary)
		}
	}
}

// Repo is a git work tree.
type Repo struct {
	root   string
	binary string
	exec   shell.Executor
}

// Open locates the work tree containing path.
func Open(ctx context.Context, path string, opts ...Option) (*Repo, error) {
	if strings.TrimSpace(path) == "" {
		path = "."
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve repository path: %w", err)
	}
	repo := &Repo{root: abs, binary: "git", exec: shell.CommandExecutor{}}
	for _, opt := range opts {
		opt(repo)
	}
	top, err := repo.output(ctx, "rev-parse", "--show-toplevel")
	if err != nil {
		return nil, fmt.Errorf("%s is not inside a git work tree: %w", abs, err)
	}
	repo.root = filepath.Clean(top)
	return repo, nil
}

// Root returns the absolute path of the work tree.
func (r *Repo) Root() string { return r.root }

func (r *Repo) run(ctx context.Context, stdin string, args ...string) (string, error) {
	stdout, _, err := r.exec.Run(ctx, r.root, r.binary, args, stdin)
	return stdout, err
}

// output runs git and returns stdout with the trailing newline removed.
func (r *Repo) output(ctx context.Context, args ...string) (string, error) {
	out, err := r.run(ctx, "", args...)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(out, "\r\n"), nil
}

// DatasetID returns the identifier of the dataset this work tree belongs to.
// It reads datalad.dataset.id from .datalad/config, then jobtrail.datasetid
// from the repository config. An empty string means no id is assigned.
func (r *Repo) DatasetID(ctx context.Context) (string, error) {
	dataladConfig := filepath.Join(r.root, ".datalad", "config")
	if id, err := r.output(ctx, "config", "-f", dataladConfig, "--get", "datalad.dataset.id"); err == nil && id != "" {
		return id, nil
	}
	id, err := r.output(ctx, "config", "--get", "jobtrail.datasetid")
	if err != nil {
		if shell.ExitCode(err) == 1 {
			return "", nil
		}
		return "", fmt.Errorf("read dataset id: %w", err)
	}
	return id, nil
}

// EnsureDatasetID returns the dataset id, assigning a new random one to the
// repository config when none exists.
func (r *Repo) EnsureDatasetID(ctx context.Context) (string, error) {
	id, err := r.DatasetID(ctx)
	if err != nil || id != "" {
		return id, err
	}
	id = uuid.NewString()
	if _, err := r.run(ctx, "", "config", "jobtrail.datasetid", id); err != nil {
		return "", fmt.Errorf("store dataset id: %w", err)
	}
	return id, nil
}
