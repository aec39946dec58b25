package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"jobtrail/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigValidateCommand(ctx))
	configCmd.AddCommand(newConfigInitCommand())

	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var (
		targetPath string
		local      bool
		overwrite  bool
	)

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a sample configuration file",
		Long:        "Write the sample configuration to ~/.config/jobtrail/config.toml, to\n./jobtrail.toml with --local, or to the path given by --path.",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := configInitTarget(strings.TrimSpace(targetPath), local)
			if err != nil {
				return err
			}
			if !overwrite {
				switch _, err := os.Stat(target); {
				case err == nil:
					return fmt.Errorf("%s already exists (pass --overwrite to replace it)", target)
				case !errors.Is(err, fs.ErrNotExist):
					return fmt.Errorf("check %s: %w", target, err)
				}
			}
			if err := config.CreateSample(target); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote sample configuration to %s\n", target)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&targetPath, "path", "p", "", "Write the file here instead of the default location")
	f.BoolVar(&local, "local", false, "Write ./jobtrail.toml for the dataset in the current directory")
	f.BoolVar(&overwrite, "overwrite", false, "Replace an existing file")
	cmd.MarkFlagsMutuallyExclusive("path", "local")
	return cmd
}

func configInitTarget(path string, local bool) (string, error) {
	switch {
	case path != "":
		return config.ExpandPath(path)
	case local:
		return filepath.Abs("jobtrail.toml")
	default:
		return config.DefaultConfigPath()
	}
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Validate configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, exists, err := config.Load(strings.TrimSpace(ctx.flags.config))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("ensure directories: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", path)
			if !exists {
				fmt.Fprintln(out, "Config file did not exist; defaults were used")
			}
			ledgerDir := cfg.Paths.LedgerDir
			if ledgerDir == "" {
				ledgerDir = "<dataset>/.git/jobtrail"
			}
			fmt.Fprintf(out, "Ledger directory: %s\n", ledgerDir)
			fmt.Fprintf(out, "Strict conflicts: %s\n", yesNo(cfg.Ledger.StrictConflicts))
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}
