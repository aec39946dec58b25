package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// envOverrides holds values the environment may supply when the config file
// leaves them empty. JOBTRAIL_LOG_LEVEL always wins over the file.
type envOverrides struct {
	LedgerDir string `env:"JOBTRAIL_LEDGER_DIR"`
	DatasetID string `env:"JOBTRAIL_DATASET_ID"`
	LogLevel  string `env:"JOBTRAIL_LOG_LEVEL"`
}

func parseEnvOverrides() (envOverrides, error) {
	var overrides envOverrides
	if err := env.Parse(&overrides); err != nil {
		return envOverrides{}, fmt.Errorf("parse env: %w", err)
	}
	overrides.LedgerDir = strings.TrimSpace(overrides.LedgerDir)
	overrides.DatasetID = strings.TrimSpace(overrides.DatasetID)
	overrides.LogLevel = strings.TrimSpace(overrides.LogLevel)
	return overrides, nil
}
