package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	// LedgerDir holds ledger.db and its lock file. Empty means
	// <repository>/.git/jobtrail, resolved per dataset at runtime.
	LedgerDir string `toml:"ledger_dir"`
	LogDir    string `toml:"log_dir"`
}

// Ledger contains output-claim ledger settings.
type Ledger struct {
	// StrictConflicts makes query faults during a conflict check report the
	// ledger as unreachable. Disabling it restores the permissive behaviour of
	// older ledgers (fault means "no conflict") and is meant for compatibility only.
	StrictConflicts    bool `toml:"strict_conflicts"`
	LockTimeoutSeconds int  `toml:"lock_timeout_seconds" validate:"lte=3600"`
	BusyTimeoutMillis  int  `toml:"busy_timeout_ms" validate:"lte=600000"`
}

// Slurm contains scheduler submission settings.
type Slurm struct {
	SubmitShell          string `toml:"submit_shell" validate:"required"`
	ScontrolBinary       string `toml:"scontrol_binary" validate:"required"`
	SacctBinary          string `toml:"sacct_binary"`
	SubmitTimeoutSeconds int    `toml:"submit_timeout_seconds"`
	WriteEnvFile         bool   `toml:"env_file"`
}

// Git contains versioned-storage settings.
type Git struct {
	Binary string `toml:"binary"`
}

// Dataset identifies the dataset that owns provenance records.
type Dataset struct {
	ID string `toml:"id"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format" validate:"oneof=console json"`
	Level  string `toml:"level" validate:"oneof=debug info warn warning error"`
}

// Config encapsulates all configuration values for jobtrail.
type Config struct {
	Paths   Paths   `toml:"paths"`
	Ledger  Ledger  `toml:"ledger"`
	Slurm   Slurm   `toml:"slurm"`
	Git     Git     `toml:"git"`
	Dataset Dataset `toml:"dataset"`
	Logging Logging `toml:"logging"`
}

// Load reads the configuration at path, or the first file found in the
// search order when path is empty, then applies environment overrides and
// validates the result. It also returns the file consulted and whether it
// existed; a missing file yields the defaults.
func Load(path string) (*Config, string, bool, error) {
	resolved, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	cfg := Default()
	if exists {
		if err := decodeFile(resolved, &cfg); err != nil {
			return nil, "", false, err
		}
	}
	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}
	return &cfg, resolved, exists, nil
}

// decodeFile rejects keys the Config type does not declare so typos in
// section or key names fail loudly.
func decodeFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	dec := toml.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// EnsureDirectories creates the configured log and ledger directories. The
// default per-dataset ledger directory is created by the ledger on open.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.LogDir, c.Paths.LedgerDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// LedgerDirFor resolves the ledger directory for the repository rooted at repoRoot.
func (c *Config) LedgerDirFor(repoRoot string) string {
	if dir := strings.TrimSpace(c.Paths.LedgerDir); dir != "" {
		return dir
	}
	return filepath.Join(repoRoot, ".git", "jobtrail")
}

// CreateSample writes the annotated sample configuration to path.
func CreateSample(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
