package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	overrides, err := parseEnvOverrides()
	if err != nil {
		return err
	}
	if err := c.normalizePaths(overrides); err != nil {
		return err
	}
	c.normalizeLedger()
	c.normalizeSlurm()
	c.normalizeGit()
	c.normalizeDataset(overrides)
	c.normalizeLogging(overrides)
	return nil
}

func (c *Config) normalizePaths(overrides envOverrides) error {
	if strings.TrimSpace(c.Paths.LedgerDir) == "" {
		c.Paths.LedgerDir = overrides.LedgerDir
	}
	var err error
	if c.Paths.LedgerDir, err = ExpandPath(strings.TrimSpace(c.Paths.LedgerDir)); err != nil {
		return fmt.Errorf("paths.ledger_dir: %w", err)
	}
	if c.Paths.LogDir, err = ExpandPath(strings.TrimSpace(c.Paths.LogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeLedger() {
	if c.Ledger.LockTimeoutSeconds <= 0 {
		c.Ledger.LockTimeoutSeconds = defaultLockTimeoutSeconds
	}
	if c.Ledger.BusyTimeoutMillis <= 0 {
		c.Ledger.BusyTimeoutMillis = defaultBusyTimeoutMillis
	}
}

func (c *Config) normalizeSlurm() {
	c.Slurm.SubmitShell = strings.TrimSpace(c.Slurm.SubmitShell)
	if c.Slurm.SubmitShell == "" {
		c.Slurm.SubmitShell = defaultSubmitShell
	}
	c.Slurm.ScontrolBinary = strings.TrimSpace(c.Slurm.ScontrolBinary)
	if c.Slurm.ScontrolBinary == "" {
		c.Slurm.ScontrolBinary = defaultScontrolBinary
	}
	c.Slurm.SacctBinary = strings.TrimSpace(c.Slurm.SacctBinary)
	if c.Slurm.SacctBinary == "" {
		c.Slurm.SacctBinary = defaultSacctBinary
	}
	if c.Slurm.SubmitTimeoutSeconds <= 0 {
		c.Slurm.SubmitTimeoutSeconds = defaultSubmitTimeoutSeconds
	}
}

func (c *Config) normalizeGit() {
	c.Git.Binary = strings.TrimSpace(c.Git.Binary)
	if c.Git.Binary == "" {
		c.Git.Binary = defaultGitBinary
	}
}

func (c *Config) normalizeDataset(overrides envOverrides) {
	c.Dataset.ID = strings.TrimSpace(c.Dataset.ID)
	if c.Dataset.ID == "" {
		c.Dataset.ID = overrides.DatasetID
	}
}

func (c *Config) normalizeLogging(overrides envOverrides) {
	if overrides.LogLevel != "" {
		c.Logging.Level = overrides.LogLevel
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
