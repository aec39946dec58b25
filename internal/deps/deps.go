// Package deps resolves the external programs jobtrail shells out to.
package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"jobtrail/internal/config"
)

// Requirement is one external program and why jobtrail needs it.
type Requirement struct {
	Name        string
	Command     string
	Description string
	// Optional programs only narrow a feature when absent.
	Optional bool
}

// Status is a Requirement after a PATH lookup. Path is the resolved binary
// when Available.
type Status struct {
	Requirement
	Available bool
	Path      string
	Detail    string
}

// ForConfig lists the programs the configured git and Slurm settings name.
// sbatch is always looked up by name because the submit command invokes it.
func ForConfig(cfg *config.Config) []Requirement {
	return []Requirement{
		{Name: "git", Command: cfg.Git.Binary, Description: "reads and writes provenance commits"},
		{Name: "Submit shell", Command: cfg.Slurm.SubmitShell, Description: "runs submission commands"},
		{Name: "sbatch", Command: "sbatch", Description: "submits batch jobs"},
		{Name: "scontrol", Command: cfg.Slurm.ScontrolBinary, Description: "discovers job output files and states"},
		{Name: "sacct", Command: cfg.Slurm.SacctBinary, Description: "reports jobs that left the scheduler queue", Optional: true},
	}
}

// CheckBinaries looks up each requirement on PATH.
func CheckBinaries(requirements []Requirement) []Status {
	statuses := make([]Status, len(requirements))
	for i, req := range requirements {
		req.Command = strings.TrimSpace(req.Command)
		statuses[i] = lookup(req)
	}
	return statuses
}

func lookup(req Requirement) Status {
	status := Status{Requirement: req}
	if req.Command == "" {
		status.Detail = "command not configured"
		return status
	}
	path, err := exec.LookPath(req.Command)
	if err != nil {
		status.Detail = fmt.Sprintf("binary %q not found", req.Command)
		return status
	}
	status.Available = true
	status.Path = path
	return status
}
