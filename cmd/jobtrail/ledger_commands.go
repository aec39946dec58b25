package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"jobtrail/internal/ledger"
	"jobtrail/internal/logging"
	"jobtrail/internal/record"
	"jobtrail/internal/result"
)

func newLedgerCommand(ctx *commandContext) *cobra.Command {
	ledgerCmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and maintain the output-claim ledger",
	}
	ledgerCmd.AddCommand(newLedgerListCommand(ctx))
	ledgerCmd.AddCommand(newLedgerHealthCommand(ctx))
	ledgerCmd.AddCommand(newLedgerReleaseCommand(ctx))
	return ledgerCmd
}

type openJobView struct {
	JobID    string   `json:"job_id"`
	Command  string   `json:"cmd"`
	Outputs  []string `json:"outputs"`
	Prefixes []string `json:"locked_prefixes"`
	Created  string   `json:"created_at"`
}

func newLedgerListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List open jobs and the outputs they claim",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reqCtx := ctx.requestContext(cmd)
			store, err := ctx.openLedger(reqCtx)
			if err != nil {
				return err
			}
			defer store.Close()

			jobs, err := store.List(reqCtx)
			if err != nil {
				return err
			}
			views := make([]openJobView, 0, len(jobs))
			for _, job := range jobs {
				views = append(views, openJobView{
					JobID:    job.JobID,
					Command:  job.Record.Command,
					Outputs:  job.Names,
					Prefixes: job.Prefixes,
					Created:  job.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
				})
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, views)
			}
			out := cmd.OutOrStdout()
			if len(views) == 0 {
				fmt.Fprintln(out, "No open jobs")
				return nil
			}
			rows := make([][]string, 0, len(views))
			for _, v := range views {
				rows = append(rows, []string{
					v.JobID,
					record.ShortCommand(v.Command),
					strings.Join(v.Outputs, "\n"),
					v.Created,
				})
			}
			fmt.Fprintln(out, renderTable([]string{"Job", "Command", "Outputs", "Created"}, rows, []columnAlignment{alignRight}, 0))
			return nil
		},
	}
}

func newLedgerHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check ledger integrity and report claim counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reqCtx := ctx.requestContext(cmd)
			store, err := ctx.openLedger(reqCtx)
			if err != nil {
				return err
			}
			defer store.Close()

			health, err := store.CheckHealth(reqCtx)
			if ctx.jsonOutput() {
				if encErr := writeJSON(cmd, health); encErr != nil {
					return encErr
				}
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Database:        %s\n", health.DBPath)
			fmt.Fprintf(out, "Readable:        %s\n", yesNo(health.DatabaseReadable))
			fmt.Fprintf(out, "Schema version:  %s\n", health.SchemaVersion)
			fmt.Fprintf(out, "Integrity check: %s\n", yesNo(health.IntegrityCheck))
			if len(health.MissingTables) > 0 {
				fmt.Fprintf(out, "Missing tables:  %s\n", strings.Join(health.MissingTables, ", "))
			}
			fmt.Fprintf(out, "Open jobs:       %d\n", health.OpenJobs)
			fmt.Fprintf(out, "Locked names:    %d\n", health.LockedNames)
			fmt.Fprintf(out, "Locked prefixes: %d\n", health.LockedPrefixes)
			if err != nil {
				return err
			}
			if !health.IntegrityCheck || len(health.MissingTables) > 0 {
				return errors.New("ledger is not healthy")
			}
			return nil
		},
	}
}

func newLedgerReleaseCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "release JOB_ID",
		Short: "Drop the claims of an open job without writing a finish record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reqCtx := ctx.requestContext(cmd)
			logger, err := ctx.ensureLogger(cmd)
			if err != nil {
				return err
			}
			store, err := ctx.openLedger(reqCtx)
			if err != nil {
				return err
			}
			defer store.Close()

			jobID := strings.TrimSpace(args[0])
			err = store.WithLock(reqCtx, func(lockCtx context.Context) error {
				return store.ReleaseClaim(lockCtx, jobID)
			})
			var res result.Result
			switch {
			case errors.Is(err, ledger.ErrJobNotFound):
				res = result.Impossible("release", "job %s has no open claim", jobID)
			case err != nil:
				res = result.Error("release", "release job %s: %v", jobID, err)
			default:
				logging.NewComponentLogger(logger, "ledger").Info("claim released manually",
					logging.String(logging.FieldJobID, jobID))
				res = result.OK("release", "released outputs")
			}
			return renderResults(cmd, ctx, []result.Result{res.WithJobID(jobID)})
		},
	}
}
