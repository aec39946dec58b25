package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"jobtrail/internal/finish"
	"jobtrail/internal/replay"
	"jobtrail/internal/schedule"
)

func newRescheduleCommand(ctx *commandContext) *cobra.Command {
	var (
		since   string
		onto    string
		branch  string
		message string
		report  bool
		script  string
	)

	cmd := &cobra.Command{
		Use:   "reschedule [REVISION]",
		Short: "Replay scheduled jobs from history",
		Long: "Walk the history ending at REVISION (default: the active branch) and\n" +
			"re-submit every finished schedule record. Merges are rebuilt and other\n" +
			"commits are skipped or cherry-picked.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if report && script != "" {
				return fmt.Errorf("--report and --script are mutually exclusive")
			}
			req := replay.Request{
				Branch:    strings.TrimSpace(branch),
				Message:   message,
				Mode:      replay.ModeExecute,
				ScriptOut: cmd.OutOrStdout(),
			}
			if len(args) == 1 {
				req.Revision = args[0]
			}
			if cmd.Flags().Changed("since") {
				req.Since = &since
			}
			if cmd.Flags().Changed("onto") {
				req.Onto = &onto
			}
			switch {
			case report:
				req.Mode = replay.ModeReport
			case script != "":
				req.Mode = replay.ModeScript
				req.Script = script
			}

			reqCtx := ctx.requestContext(cmd)
			s, err := ctx.openSession(reqCtx, cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			client, err := s.slurmClient()
			if err != nil {
				return err
			}
			runner := schedule.NewWorkflow(s.repo, s.ledger, client, s.datasetID, s.logger)
			rescheduler := replay.NewRescheduler(s.repo, finish.NewResolver(s.repo), runner, s.datasetID, s.logger)

			out, err := rescheduler.Reschedule(reqCtx, req)
			if req.Mode == replay.ModeReport && err == nil {
				return renderReport(cmd, ctx, out.Entries)
			}
			return renderOutcome(cmd, ctx, "reschedule", out.Results, err)
		},
	}

	f := cmd.Flags()
	f.StringVar(&since, "since", "", "Replay commits after this revision; an empty value replays all history")
	f.StringVar(&onto, "onto", "", "Start point for the replay; an empty value means the parent of the first record")
	f.StringVarP(&branch, "branch", "b", "", "Create this branch at the start point and replay onto it")
	f.StringVarP(&message, "message", "m", "", "Commit message subject for the new schedule records")
	f.BoolVar(&report, "report", false, "Describe what would be replayed without changing anything")
	f.StringVar(&script, "script", "", "Write the replayed commands to this file ('-' for stdout) instead of running them")
	return cmd
}

func renderReport(cmd *cobra.Command, ctx *commandContext, entries []replay.Entry) error {
	if ctx.jsonOutput() {
		if entries == nil {
			entries = []replay.Entry{}
		}
		return writeJSON(cmd, entries)
	}
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		date := ""
		if !e.Date.IsZero() {
			date = e.Date.Format("2006-01-02 15:04")
		}
		command := ""
		if e.Record != nil {
			command = strings.ReplaceAll(e.Record.Command, "\n", " ")
		}
		rows = append(rows, []string{
			shortCommit(e.Commit),
			actionLabel(string(e.Action)),
			string(e.Status),
			e.Author,
			date,
			command,
			e.Message,
		})
	}
	headers := []string{"Commit", "Action", "Status", "Author", "Date", "Command", "Message"}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(headers, rows, nil, 48))
	return nil
}
