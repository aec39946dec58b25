package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var flags globalFlags

	ctx := newCommandContext(&flags)

	rootCmd := &cobra.Command{
		Use:           "jobtrail",
		Short:         "Record, finish, and replay batch jobs in a git dataset",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.config, "config", "c", "", "Configuration file path")
	pf.StringVarP(&flags.dataset, "dataset", "C", "", "Path inside the dataset to operate on (default: current directory)")
	pf.BoolVar(&flags.json, "json", false, "Print results as JSON")
	pf.BoolVarP(&flags.quiet, "quiet", "q", false, "Only log warnings and errors")

	rootCmd.AddCommand(newScheduleCommand(ctx))
	rootCmd.AddCommand(newFinishCommand(ctx))
	rootCmd.AddCommand(newRescheduleCommand(ctx))
	rootCmd.AddCommand(newLedgerCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))

	return rootCmd
}
