package shell_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"jobtrail/internal/services/shell"
)

func TestCommandExecutorCapturesOutput(t *testing.T) {
	dir := t.TempDir()
	stdout, _, err := shell.CommandExecutor{}.Run(context.Background(), dir, "sh", []string{"-c", "pwd; cat"}, "from stdin")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(stdout, "from stdin") {
		t.Fatalf("stdin not forwarded: %q", stdout)
	}
}

func TestCommandExecutorReportsExitCode(t *testing.T) {
	_, _, err := shell.CommandExecutor{}.Run(context.Background(), "", "sh", []string{"-c", "echo oops >&2; exit 3"}, "")
	var exitErr *shell.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got %v", err)
	}
	if shell.ExitCode(err) != 3 || !strings.Contains(exitErr.Error(), "oops") {
		t.Fatalf("unexpected exit error: %v", err)
	}
	if shell.ExitCode(errors.New("plain")) != -1 {
		t.Fatal("non-exit errors must report -1")
	}
}
