package config

const (
	defaultConfigPath           = "~/.config/jobtrail/config.toml"
	defaultLogDir               = "~/.local/share/jobtrail/logs"
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultLockTimeoutSeconds   = 30
	defaultBusyTimeoutMillis    = 5000
	defaultSubmitShell          = "/bin/sh"
	defaultScontrolBinary       = "scontrol"
	defaultSacctBinary          = "sacct"
	defaultSubmitTimeoutSeconds = 300
	defaultGitBinary            = "git"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			LogDir: defaultLogDir,
		},
		Ledger: Ledger{
			StrictConflicts:    true,
			LockTimeoutSeconds: defaultLockTimeoutSeconds,
			BusyTimeoutMillis:  defaultBusyTimeoutMillis,
		},
		Slurm: Slurm{
			SubmitShell:          defaultSubmitShell,
			ScontrolBinary:       defaultScontrolBinary,
			SacctBinary:          defaultSacctBinary,
			SubmitTimeoutSeconds: defaultSubmitTimeoutSeconds,
			WriteEnvFile:         true,
		},
		Git: Git{
			Binary: defaultGitBinary,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
