package preflight

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"jobtrail/internal/config"
	"jobtrail/internal/deps"
	"jobtrail/internal/ledger"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckLedgerDirectory checks the ledger directory, or the closest existing
// parent when the ledger has not been created yet.
func CheckLedgerDirectory(dir string) Result {
	const name = "Ledger directory"
	probe := dir
	for {
		if _, err := os.Stat(probe); err == nil {
			break
		}
		parent := filepath.Dir(probe)
		if parent == probe {
			break
		}
		probe = parent
	}
	res := CheckDirectoryAccess(name, probe)
	if probe != dir && res.Passed {
		res.Detail = fmt.Sprintf("%s (created on first use under %s)", dir, probe)
	}
	return res
}

// CheckLedger opens the ledger in dir and runs its integrity check.
func CheckLedger(ctx context.Context, dir string, opts ledger.Options) Result {
	const name = "Ledger"
	if _, err := os.Stat(filepath.Join(dir, "ledger.db")); err != nil {
		return Result{Name: name, Passed: true, Detail: "not created yet"}
	}
	store, err := ledger.Open(dir, opts)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	defer store.Close()

	health, err := store.CheckHealth(ctx)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	if !health.IntegrityCheck || len(health.MissingTables) > 0 {
		detail := health.Error
		if detail == "" {
			detail = fmt.Sprintf("integrity check failed, missing tables %v", health.MissingTables)
		}
		return Result{Name: name, Detail: detail}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%d open job(s)", health.OpenJobs)}
}

// CheckSystemDeps evaluates the external binaries for the given config.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	return deps.CheckBinaries(deps.ForConfig(cfg))
}
