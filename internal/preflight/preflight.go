package preflight

import (
	"context"
	"fmt"

	"jobtrail/internal/config"
	"jobtrail/internal/deps"
	"jobtrail/internal/ledger"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// RunAll executes the directory, ledger, and binary checks for the dataset
// rooted at repoRoot. An empty repoRoot skips the repository-local checks.
func RunAll(ctx context.Context, cfg *config.Config, repoRoot string) []Result {
	if cfg == nil {
		return nil
	}

	var results []Result
	if cfg.Paths.LogDir != "" {
		results = append(results, CheckDirectoryAccess("Log directory", cfg.Paths.LogDir))
	}
	if repoRoot != "" || cfg.Paths.LedgerDir != "" {
		dir := cfg.LedgerDirFor(repoRoot)
		results = append(results, CheckLedgerDirectory(dir))
		results = append(results, CheckLedger(ctx, dir, ledger.OptionsFromConfig(cfg)))
	}
	for _, status := range CheckSystemDeps(cfg) {
		results = append(results, fromDependency(status))
	}
	return results
}

func fromDependency(status deps.Status) Result {
	res := Result{Name: status.Name, Passed: status.Available || status.Optional}
	switch {
	case status.Available:
		res.Detail = status.Path
	case status.Optional:
		res.Detail = fmt.Sprintf("%s (optional: %s)", status.Detail, status.Description)
	default:
		res.Detail = fmt.Sprintf("%s (%s)", status.Detail, status.Description)
	}
	return res
}
