// Package shell runs external commands for the git and scheduler clients.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, dir, binary string, args []string, stdin string) (stdout string, stderr string, err error)
}

// ExitError reports a command that ran but exited non-zero.
type ExitError struct {
	Command string
	Code    int
	Stderr  string
}

func (e *ExitError) Error() string {
	detail := strings.TrimSpace(e.Stderr)
	if detail == "" {
		return fmt.Sprintf("%s: exit status %d", e.Command, e.Code)
	}
	return fmt.Sprintf("%s: exit status %d: %s", e.Command, e.Code, detail)
}

// ExitCode extracts the exit status from err, or -1 when err is not an
// ExitError.
func ExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return -1
}

// CommandExecutor runs commands with os/exec.
type CommandExecutor struct{}

func (CommandExecutor) Run(ctx context.Context, dir, binary string, args []string, stdin string) (string, string, error) {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	cmd.Dir = dir
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.String(), stderr.String(), &ExitError{
				Command: binary + " " + strings.Join(args, " "),
				Code:    exitErr.ExitCode(),
				Stderr:  stderr.String(),
			}
		}
		return stdout.String(), stderr.String(), fmt.Errorf("run %s: %w", binary, err)
	}
	return stdout.String(), stderr.String(), nil
}
