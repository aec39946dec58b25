package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"jobtrail/internal/config"
	"jobtrail/internal/ledger"
	"jobtrail/internal/record"
	"jobtrail/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries("git", "scontrol", "sacct", "sbatch"))
	base := testsupport.BaseDir(cfg)
	homeDir := filepath.Join(base, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}
	t.Setenv("HOME", homeDir)
	t.Setenv("JOBTRAIL_LEDGER_DIR", "")
	t.Setenv("JOBTRAIL_DATASET_ID", "")
	t.Setenv("JOBTRAIL_LOG_LEVEL", "")

	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)

	return &cliTestEnv{cfg: cfg, configPath: configPath, baseDir: base}
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	content, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func runCLI(t *testing.T, env *cliTestEnv, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	var flags []string
	if env != nil && env.configPath != "" {
		flags = append(flags, "--config", env.configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// seedClaim records an open job in the env's ledger and closes the store so
// the CLI opens it fresh.
func seedClaim(t *testing.T, env *cliTestEnv, jobID string, outputs ...string) {
	t.Helper()
	store, err := ledger.Open(env.cfg.Paths.LedgerDir, ledger.OptionsFromConfig(env.cfg))
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	defer store.Close()
	testsupport.MustClaim(t, store, jobID, &record.Record{
		Command:   "sbatch analysis.sh",
		Outputs:   outputs,
		DatasetID: env.cfg.Dataset.ID,
	})
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
