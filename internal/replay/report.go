package replay

import (
	"context"
	"fmt"
	"io"
	"strings"

	"jobtrail/internal/gitrepo"
	"jobtrail/internal/record"
	"jobtrail/internal/result"
)

// Describer supplies the commit metadata shown by report and script mode.
type Describer interface {
	AuthorOf(ctx context.Context, rev string) (gitrepo.Author, error)
	Describe(ctx context.Context, rev string) string
}

// Report annotates record entries with author and date. It performs no
// mutation.
func Report(ctx context.Context, repo Describer, entries []Entry) ([]Entry, error) {
	out := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if entry.Record != nil && entry.Status != result.StatusImpossible {
			author, err := repo.AuthorOf(ctx, entry.Commit)
			if err != nil {
				return nil, fmt.Errorf("author of %s: %w", entry.Commit, err)
			}
			entry.Author = author.Name
			entry.Date = author.Date
		}
		out = append(out, entry)
	}
	return out, nil
}

// ScriptHeader names the invocation a script was generated from.
type ScriptHeader struct {
	Script    string
	Since     *string
	Revision  string
	DatasetID string
	Path      string
}

// WriteScript writes the commands of the run entries as a shell script. It
// stops at the first entry whose status is not ok and returns that entry.
func WriteScript(ctx context.Context, repo Describer, w io.Writer, header ScriptHeader, entries []Entry) (*Entry, error) {
	since := ""
	if header.Since != nil {
		since = " --since=" + *header.Since
	}
	location := header.Path
	if header.DatasetID != "" {
		location = fmt.Sprintf("dataset %s at %s", header.DatasetID, header.Path)
	}
	if _, err := fmt.Fprintf(w, "#!/bin/sh\n#\n# This file was generated by running (the equivalent of)\n#\n#   jobtrail reschedule --script=%s%s %s\n#\n# in %s\n",
		header.Script, since, header.Revision, location); err != nil {
		return nil, err
	}

	for i := range entries {
		entry := entries[i]
		if entry.Status != result.StatusOK {
			return &entry, nil
		}
		if entry.Record == nil {
			continue
		}
		cmd := entry.Record.Command
		msg := entry.Subject
		if msg == record.ShortCommand(cmd) {
			msg = ""
		}

		var b strings.Builder
		b.WriteString("\n")
		for _, line := range strings.SplitAfter(msg, "\n") {
			if line != "" {
				b.WriteString("# " + line)
			}
		}
		b.WriteString("\n")
		descr := repo.Describe(ctx, entry.Commit)
		if descr == "" {
			descr = entry.Commit
		}
		fmt.Fprintf(&b, "# (record: %s)\n", descr)
		b.WriteString(cmd + "\n")
		if _, err := io.WriteString(w, b.String()); err != nil {
			return nil, err
		}
	}
	return nil, nil
}
