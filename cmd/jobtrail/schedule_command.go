package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"jobtrail/internal/config"
	"jobtrail/internal/preflight"
	"jobtrail/internal/result"
	"jobtrail/internal/schedule"
)

func newScheduleCommand(ctx *commandContext) *cobra.Command {
	var (
		inputs         []string
		extraInputs    []string
		outputs        []string
		message        string
		noCheckOutputs bool
		dryRun         bool
		altDir         string
		explicit       bool
	)

	cmd := &cobra.Command{
		Use:   "schedule [flags] -- COMMAND...",
		Short: "Submit a batch job and record it in the dataset",
		Long: "Submit COMMAND through the batch scheduler, claim its outputs in the ledger,\n" +
			"and commit a SCHEDULE record describing the job.",
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			command, err := splitCommand(args)
			if err != nil {
				return err
			}
			reqCtx := ctx.requestContext(cmd)
			s, err := ctx.openSession(reqCtx, cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			dir, err := scheduleDir(ctx.flags.dataset)
			if err != nil {
				return err
			}
			if strings.TrimSpace(altDir) != "" {
				resolved, err := config.ExpandPath(altDir)
				if err != nil {
					return fmt.Errorf("resolve --alt-dir: %w", err)
				}
				if check := preflight.CheckDirectoryAccess("alt dir", resolved); !check.Passed {
					return renderResults(cmd, ctx, []result.Result{result.Impossible("schedule", "alternate directory %s", check.Detail)})
				}
				altDir = resolved
			}

			client, err := s.slurmClient()
			if err != nil {
				return err
			}
			flow := schedule.NewWorkflow(s.repo, s.ledger, client, s.datasetID, s.logger)
			out := flow.Schedule(reqCtx, schedule.Request{
				Command:         command,
				Inputs:          inputs,
				ExtraInputs:     extraInputs,
				Outputs:         outputs,
				Message:         message,
				Dir:             dir,
				SkipOutputCheck: noCheckOutputs,
				DryRun:          dryRun,
				AltDir:          altDir,
				Explicit:        explicit,
			})
			return renderOutcome(cmd, ctx, "schedule", []result.Result{out.Result}, out.Err)
		},
	}

	f := cmd.Flags()
	f.StringArrayVarP(&inputs, "input", "i", nil, "Input file the job reads (repeatable)")
	f.StringArrayVar(&extraInputs, "extra-input", nil, "Additional input recorded but not staged (repeatable)")
	f.StringArrayVarP(&outputs, "output", "o", nil, "Output file or directory the job writes (repeatable, required)")
	f.StringVarP(&message, "message", "m", "", "Commit message subject for the schedule record")
	f.BoolVar(&noCheckOutputs, "no-check-outputs", false, "Skip the output conflict check against open jobs")
	f.BoolVar(&dryRun, "dry-run", false, "Validate and check conflicts without submitting")
	f.StringVar(&altDir, "alt-dir", "", "Run the job in this directory and copy results back at finish")
	f.BoolVar(&explicit, "explicit", false, "Allow scheduling from a dirty working tree")
	return cmd
}

// scheduleDir is the directory a job is scheduled from: the -C path when
// given, otherwise the current directory.
func scheduleDir(datasetFlag string) (string, error) {
	if strings.TrimSpace(datasetFlag) != "" {
		abs, err := filepath.Abs(datasetFlag)
		if err != nil {
			return "", fmt.Errorf("resolve dataset path: %w", err)
		}
		return evalDir(abs), nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("determine working directory: %w", err)
	}
	return evalDir(wd), nil
}

// evalDir resolves symlinks so the path compares cleanly against the
// repository top level reported by git.
func evalDir(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	return path
}
