package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"jobtrail/internal/result"
	"jobtrail/internal/services"
)

// errResultsFailed is returned after rendering when at least one result was
// not ok. The results already explain why, so main prints nothing more.
var errResultsFailed = errors.New("one or more operations did not succeed")

var titleCaser = cases.Title(language.English)

// renderResults prints results as status lines or JSON and reports whether
// any of them failed.
func renderResults(cmd *cobra.Command, ctx *commandContext, results []result.Result) error {
	if ctx.jsonOutput() {
		if results == nil {
			results = []result.Result{}
		}
		if err := writeJSON(cmd, results); err != nil {
			return err
		}
	} else {
		out := cmd.OutOrStdout()
		colorize := shouldColorize(out)
		for _, res := range results {
			fmt.Fprintln(out, resultLine(res, colorize))
		}
	}
	for _, res := range results {
		if res.Failed() {
			return errResultsFailed
		}
	}
	return nil
}

// renderOutcome renders results and then surfaces err. Errors that classify
// as impossible are shown as one more result line instead.
func renderOutcome(cmd *cobra.Command, ctx *commandContext, action string, results []result.Result, err error) error {
	if err != nil && services.StatusFor(err) == result.StatusImpossible {
		results = append(results, services.ResultFor(action, err))
		err = nil
	}
	renderErr := renderResults(cmd, ctx, results)
	if err != nil {
		return err
	}
	return renderErr
}

func resultLine(res result.Result, colorize bool) string {
	var b strings.Builder
	b.WriteString(res.Message)
	var refs []string
	if res.JobID != "" {
		refs = append(refs, "job "+res.JobID)
	}
	if res.Commit != "" {
		refs = append(refs, "commit "+shortCommit(res.Commit))
	}
	if len(refs) > 0 {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "(%s)", strings.Join(refs, ", "))
	}
	if res.Path != "" {
		fmt.Fprintf(&b, " [%s]", res.Path)
	}
	return renderStatusLine(actionLabel(res.Action), statusKindFor(res.Status), b.String(), colorize)
}

func actionLabel(action string) string {
	action = strings.TrimSpace(strings.ReplaceAll(action, "-", " "))
	if action == "" {
		return "Result"
	}
	return titleCaser.String(action)
}

func statusKindFor(status result.Status) statusKind {
	switch status {
	case result.StatusOK:
		return statusOK
	case result.StatusImpossible:
		return statusImpossible
	case result.StatusError:
		return statusError
	default:
		return statusInfo
	}
}

func shortCommit(id string) string {
	if len(id) > 7 {
		return id[:7]
	}
	return id
}

func writeLines(w io.Writer, lines []string) {
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
}
