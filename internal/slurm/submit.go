package slurm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"jobtrail/internal/services/shell"
)

var submittedPattern = regexp.MustCompile(`Submitted batch job (\d+)`)

// Submission is the outcome of running a submission command.
type Submission struct {
	JobID    string
	ExitCode int
	Stdout   string
	Stderr   string
}

// Submit runs command through the configured shell in dir. A non-zero exit is
// reported in ExitCode, not as an error. ErrNoJobSubmitted is returned when
// the output carries no job id.
func (c *Client) Submit(ctx context.Context, command, dir string) (Submission, error) {
	if strings.TrimSpace(command) == "" {
		return Submission{}, errors.New("submission command required")
	}
	runCtx := ctx
	if c.submitTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.submitTimeout)
		defer cancel()
	}

	stdout, stderr, err := c.exec.Run(runCtx, dir, c.shell, []string{"-c", command}, "")
	sub := Submission{Stdout: stdout, Stderr: stderr}
	if err != nil {
		var exitErr *shell.ExitError
		if !errors.As(err, &exitErr) {
			return sub, fmt.Errorf("run submission: %w", err)
		}
		sub.ExitCode = exitErr.Code
	}
	match := submittedPattern.FindStringSubmatch(stdout)
	if match == nil {
		return sub, ErrNoJobSubmitted
	}
	sub.JobID = match[1]
	return sub, nil
}

// StageInputs copies each input below srcDir into the matching location below
// targetDir, following symlinks and skipping files that are already current.
func (c *Client) StageInputs(ctx context.Context, srcDir, targetDir string, inputs []string) error {
	for _, input := range inputs {
		if strings.TrimSpace(input) == "" {
			continue
		}
		parent := filepath.Dir(strings.TrimRight(input, "/"))
		dest := filepath.Join(targetDir, parent)
		if err := os.MkdirAll(dest, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dest, err)
		}
		source := filepath.Join(srcDir, input)
		if _, _, err := c.exec.Run(ctx, srcDir, "cp", []string{"-r", "-L", "-u", source, dest + "/"}, ""); err != nil {
			return fmt.Errorf("copy %s to %s: %w", input, dest, err)
		}
	}
	return nil
}
