package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"jobtrail/internal/gitrepo"
	"jobtrail/internal/preflight"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check directories, the ledger, and required binaries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			reqCtx := ctx.requestContext(cmd)

			var root string
			repo, repoErr := gitrepo.Open(reqCtx, ctx.flags.dataset, gitrepo.WithBinary(cfg.Git.Binary))
			if repoErr == nil {
				root = repo.Root()
			}
			checks := preflight.RunAll(reqCtx, cfg, root)

			if ctx.jsonOutput() {
				return writeJSON(cmd, checks)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			writeLines(out, renderSectionHeader("Dataset", colorize))
			if repoErr != nil {
				fmt.Fprintln(out, renderStatusLine("Repository", statusWarn, "not inside a git work tree", colorize))
			} else {
				fmt.Fprintln(out, renderStatusLine("Repository", statusOK, root, colorize))
			}
			fmt.Fprintln(out)
			writeLines(out, renderSectionHeader("Checks", colorize))
			failed := 0
			for _, check := range checks {
				kind := statusOK
				if !check.Passed {
					kind = statusError
					failed++
				}
				fmt.Fprintln(out, renderStatusLine(check.Name, kind, check.Detail, colorize))
			}
			if failed > 0 {
				fmt.Fprintf(out, "\n%d check(s) failed\n", failed)
			}
			return nil
		},
	}
}
