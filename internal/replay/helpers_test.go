package replay_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"jobtrail/internal/finish"
	"jobtrail/internal/gitrepo"
	"jobtrail/internal/record"
	"jobtrail/internal/replay"
	"jobtrail/internal/result"
	"jobtrail/internal/schedule"
	"jobtrail/internal/testsupport"
)

const datasetID = "ds-1"

func scheduleMessage(t *testing.T, name, jobID, dsid string) string {
	t.Helper()
	msg, err := record.Encode(record.KindSchedule, name, &record.Record{
		Command:          "sbatch " + name + ".sh",
		Inputs:           []string{"input/" + name},
		Outputs:          []string{"out/" + name, "slurm-" + jobID + ".out"},
		WorkingDir:       ".",
		DatasetID:        dsid,
		JobID:            record.JobID(jobID),
		SchedulerOutputs: []string{"slurm-" + jobID + ".out"},
	})
	if err != nil {
		t.Fatalf("encode schedule: %v", err)
	}
	return msg
}

func finishMessage(t *testing.T, jobID string) string {
	t.Helper()
	msg, err := record.Encode(record.KindFinish, "finish "+jobID, &record.Record{Command: "sbatch job.sh", JobID: record.JobID(jobID)})
	if err != nil {
		t.Fatalf("encode finish: %v", err)
	}
	return msg
}

func added(path string) gitrepo.FileChange {
	return gitrepo.FileChange{Status: "A", Path: path}
}

// stubRunner commits a RESCHEDULE record on the fake repository instead of
// submitting anything.
type stubRunner struct {
	repo     *testsupport.FakeRepo
	requests []schedule.Request
	parents  [][]string
	err      error
}

func (s *stubRunner) Schedule(ctx context.Context, req schedule.Request) schedule.Outcome {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return schedule.Outcome{Result: result.Error("schedule", "%v", s.err), Err: s.err}
	}
	rec := req.Prior.Clone()
	rec.Outputs = req.Outputs
	rec.JobID = record.JobID(fmt.Sprintf("90%d", len(s.requests)))
	msg, err := record.Encode(record.KindReschedule, req.Message, rec)
	if err != nil {
		return schedule.Outcome{Result: result.Error("schedule", "%v", err)}
	}
	id, err := s.repo.Commit(ctx, msg)
	if err != nil {
		return schedule.Outcome{Result: result.Error("schedule", "%v", err)}
	}
	s.parents = append(s.parents, s.repo.CommitByID(id).Parents)
	res := result.OK("schedule", req.Command).WithJobID(rec.JobID.String()).WithCommit(id)
	return schedule.Outcome{Result: res, Record: rec}
}

var errLedgerDown = errors.New("ledger unavailable")

// linearHistory builds root, three record commits A, B, C, and their
// finishes on branch main.
type linearHistory struct {
	repo    *testsupport.FakeRepo
	root    string
	a       string
	b       string
	c       string
	finishA string
	finishC string
}

func newLinearHistory(t *testing.T) linearHistory {
	t.Helper()
	repo := testsupport.NewFakeRepo(t.TempDir())
	h := linearHistory{repo: repo}
	h.root = repo.AppendCommit("initial")
	h.a = repo.AppendCommit(scheduleMessage(t, "a", "1", datasetID), added("out/a"))
	h.b = repo.AppendCommit(scheduleMessage(t, "b", "2", datasetID), added("out/b"), added("log/b.txt"))
	h.c = repo.AppendCommit(scheduleMessage(t, "c", "3", datasetID), added("out/c"))
	h.finishA = repo.AppendCommit(finishMessage(t, "1"))
	repo.AppendCommit(finishMessage(t, "2"))
	h.finishC = repo.AppendCommit(finishMessage(t, "3"))
	return h
}

func newRescheduler(repo *testsupport.FakeRepo, runner replay.Runner) *replay.Rescheduler {
	return replay.NewRescheduler(repo, finish.NewResolver(repo), runner, datasetID, nil)
}

func actions(entries []replay.Entry) []replay.Action {
	out := make([]replay.Action, len(entries))
	for i, e := range entries {
		out[i] = e.Action
	}
	return out
}

func ptr(s string) *string { return &s }
