package main

import (
	"github.com/spf13/cobra"

	"jobtrail/internal/finish"
)

func newFinishCommand(ctx *commandContext) *cobra.Command {
	var req finish.Request

	cmd := &cobra.Command{
		Use:   "finish [COMMIT]",
		Short: "Save the outputs of a completed job and release its claim",
		Long: "Look up the job scheduled by COMMIT (default HEAD), and once the scheduler\n" +
			"reports it completed, commit its outputs with a FINISH record.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				req.Commit = args[0]
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
			flow := finish.NewWorkflow(s.repo, s.ledger, client, s.logger)
			return renderResults(cmd, ctx, flow.Run(reqCtx, req))
		},
	}

	f := cmd.Flags()
	f.BoolVar(&req.Explicit, "explicit", false, "Confirm that only the job's declared outputs are saved")
	f.StringVar(&req.JobID, "job-id", "", "Finish the job with this scheduler id instead of COMMIT")
	f.BoolVar(&req.All, "all", false, "Finish every open job")
	f.BoolVar(&req.ListOpenJobs, "list-open-jobs", false, "List open jobs and exit")
	f.BoolVar(&req.CloseFailedJobs, "close-failed-jobs", false, "Release failed or cancelled jobs without a finish record")
	f.StringVarP(&req.Message, "message", "m", "", "Commit message subject for the finish record")
	return cmd
}
