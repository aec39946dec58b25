package testsupport

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"jobtrail/internal/config"
)

// ConfigOption adjusts the config built by NewConfig. base is the temp
// directory holding the ledger and log directories.
type ConfigOption func(t testing.TB, base string, cfg *config.Config)

// NewConfig returns a config whose ledger and log directories live in a
// fresh temp directory, with a fixed dataset id and a short lock timeout.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.LedgerDir = filepath.Join(base, "ledger")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Dataset.ID = "test-dataset"
	cfg.Ledger.LockTimeoutSeconds = 2

	for _, opt := range opts {
		opt(t, base, &cfg)
	}
	return &cfg
}

func WithDatasetID(id string) ConfigOption {
	return func(_ testing.TB, _ string, cfg *config.Config) {
		cfg.Dataset.ID = id
	}
}

// WithStubbedBinaries puts no-op executables named after the scheduler
// tooling first on PATH for the rest of the test.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(t testing.TB, base string, cfg *config.Config) {
		if len(names) == 0 {
			names = []string{"git", cfg.Slurm.ScontrolBinary, cfg.Slurm.SacctBinary}
		}
		binDir := filepath.Join(base, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", binDir, err)
		}
		for _, name := range names {
			if name == "" {
				continue
			}
			stub := filepath.Join(binDir, filepath.Base(name))
			if err := os.WriteFile(stub, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
				t.Fatalf("write stub %s: %v", name, err)
			}
		}
		t.Setenv("PATH", strings.Join([]string{binDir, os.Getenv("PATH")}, string(os.PathListSeparator)))
	}
}

// BaseDir returns the temp directory NewConfig created for cfg.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.LedgerDir)
}
