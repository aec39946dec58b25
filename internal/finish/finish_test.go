package finish_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"jobtrail/internal/finish"
	"jobtrail/internal/ledger"
	"jobtrail/internal/record"
	"jobtrail/internal/result"
	"jobtrail/internal/slurm"
	"jobtrail/internal/testsupport"
)

func scheduleMessage(t *testing.T, kind record.Kind, jobID string) string {
	t.Helper()
	msg, err := record.Encode(kind, "process", &record.Record{
		Command: "sbatch job.sh",
		Outputs: []string{"out"},
		JobID:   record.JobID(jobID),
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return msg
}

func TestResolverTriState(t *testing.T) {
	ctx := context.Background()
	repo := testsupport.NewFakeRepo(t.TempDir())
	repo.AppendCommit("initial")
	plain := repo.AppendCommit("plain change")
	scheduled := repo.AppendCommit(scheduleMessage(t, record.KindSchedule, "10"))
	unfinished := repo.AppendCommit(scheduleMessage(t, record.KindSchedule, "11"))
	rescheduled := repo.AppendCommit(scheduleMessage(t, record.KindReschedule, "12"))
	repo.AppendCommit(scheduleMessage(t, record.KindFinish, "10"))
	repo.AppendCommit(scheduleMessage(t, record.KindFinish, "12"))

	resolver := finish.NewResolver(repo)
	cases := []struct {
		rev   string
		allow bool
		want  finish.Eligibility
	}{
		{plain, false, finish.NotScheduled},
		{scheduled, false, finish.Finished},
		{unfinished, false, finish.NoFinish},
		{rescheduled, false, finish.NotScheduled},
		{rescheduled, true, finish.Finished},
	}
	for _, tc := range cases {
		got, err := resolver.Check(ctx, tc.rev, "main", tc.allow)
		if err != nil {
			t.Fatalf("Check(%s): %v", tc.rev, err)
		}
		if got != tc.want {
			t.Fatalf("Check(%s, allow=%v) = %s, want %s", tc.rev, tc.allow, got, tc.want)
		}
	}
}

func TestResolverIgnoresFinishBeforeSchedule(t *testing.T) {
	repo := testsupport.NewFakeRepo(t.TempDir())
	repo.AppendCommit("initial")
	repo.AppendCommit(scheduleMessage(t, record.KindFinish, "20"))
	scheduled := repo.AppendCommit(scheduleMessage(t, record.KindSchedule, "20"))

	got, err := finish.NewResolver(repo).Check(context.Background(), scheduled, "main", false)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if got != finish.NoFinish {
		t.Fatalf("expected no-finish, got %s", got)
	}
}

type stubScheduler struct {
	states map[string]slurm.JobState
	staged [][]string
}

func (s *stubScheduler) QueryState(_ context.Context, jobID string) (slurm.JobState, error) {
	state, ok := s.states[jobID]
	if !ok {
		return slurm.StateUnknown, errors.New("unknown job")
	}
	return state, nil
}

func (s *stubScheduler) StageInputs(_ context.Context, srcDir, targetDir string, paths []string) error {
	s.staged = append(s.staged, append([]string{srcDir, targetDir}, paths...))
	return nil
}

type fixture struct {
	root   string
	repo   *testsupport.FakeRepo
	store  *ledger.Store
	sched  *stubScheduler
	flow   *finish.Workflow
	commit string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	root := t.TempDir()
	repo := testsupport.NewFakeRepo(root)
	repo.AppendCommit("initial")
	store := testsupport.MustOpenLedger(t, cfg)
	sched := &stubScheduler{states: map[string]slurm.JobState{}}

	rec := &record.Record{
		Command:          "sbatch job.sh",
		Outputs:          []string{"results/a.csv"},
		WorkingDir:       "analysis",
		JobID:            "31",
		SchedulerOutputs: []string{"slurm-31.out", "slurm-job-31.env.json"},
	}
	msg, err := record.Encode(record.KindSchedule, "crunch numbers", rec)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	commit := repo.AppendCommit(msg)
	if err := store.RecordClaim(context.Background(), ledger.Claim{
		JobID:    "31",
		Message:  "crunch numbers",
		Record:   rec,
		Names:    rec.Outputs,
		Prefixes: ledger.ComputeLockedPrefixes(rec.Outputs),
	}); err != nil {
		t.Fatalf("RecordClaim: %v", err)
	}

	testsupport.WriteFile(t, filepath.Join(root, "results", "a.csv"), "1,2\n")
	testsupport.WriteFile(t, filepath.Join(root, "analysis", "slurm-31.out"), "done\n")

	return &fixture{
		root:   root,
		repo:   repo,
		store:  store,
		sched:  sched,
		flow:   finish.NewWorkflow(repo, store, sched, nil),
		commit: commit,
	}
}

func TestFinishRequiresExplicit(t *testing.T) {
	f := newFixture(t)
	results := f.flow.Run(context.Background(), finish.Request{})
	if len(results) != 1 || results[0].Status != result.StatusImpossible {
		t.Fatalf("expected impossible, got %+v", results)
	}
}

func TestFinishCompletedJobCommitsAndReleases(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.sched.states["31"] = slurm.StateCompleted

	results := f.flow.Run(ctx, finish.Request{Explicit: true})
	if len(results) != 1 || results[0].Status != result.StatusOK {
		t.Fatalf("unexpected results %+v", results)
	}
	commit := f.repo.CommitByID(results[0].Commit)
	if commit == nil {
		t.Fatalf("finish commit %q not found", results[0].Commit)
	}
	decoded, err := record.DecodeFinish(commit.Message)
	if err != nil || decoded == nil {
		t.Fatalf("finish record not decodable: %v %q", err, commit.Message)
	}
	if decoded.Record.JobID != "31" || decoded.Subject != "crunch numbers" {
		t.Fatalf("unexpected finish record %+v", decoded)
	}
	var paths []string
	for _, change := range commit.Changes {
		paths = append(paths, change.Path)
	}
	// the env file was never written, so only existing paths are committed
	want := []string{"results/a.csv", filepath.Join("analysis", "slurm-31.out")}
	if !reflect.DeepEqual(paths, want) {
		t.Fatalf("committed paths = %v, want %v", paths, want)
	}
	if _, err := f.store.Lookup(ctx, "31"); !errors.Is(err, ledger.ErrJobNotFound) {
		t.Fatalf("claim not released: %v", err)
	}

	eligibility, err := finish.NewResolver(f.repo).Check(ctx, f.commit, "main", false)
	if err != nil || eligibility != finish.Finished {
		t.Fatalf("resolver after finish = %s %v", eligibility, err)
	}
}

func TestFinishPendingJobIsImpossible(t *testing.T) {
	f := newFixture(t)
	f.sched.states["31"] = slurm.StateRunning
	results := f.flow.Run(context.Background(), finish.Request{Explicit: true, JobID: "31"})
	if len(results) != 1 || results[0].Status != result.StatusImpossible {
		t.Fatalf("expected impossible, got %+v", results)
	}
	if !strings.Contains(results[0].Message, "not finished yet") {
		t.Fatalf("unexpected message %q", results[0].Message)
	}
	if _, err := f.store.Lookup(context.Background(), "31"); err != nil {
		t.Fatalf("claim must remain: %v", err)
	}
}

func TestFinishFailedJob(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.sched.states["31"] = slurm.StateFailed

	results := f.flow.Run(ctx, finish.Request{Explicit: true, JobID: "31"})
	if len(results) != 1 || results[0].Status != result.StatusError {
		t.Fatalf("expected error, got %+v", results)
	}

	opsBefore := len(f.repo.Ops)
	results = f.flow.Run(ctx, finish.Request{Explicit: true, JobID: "31", CloseFailedJobs: true})
	if len(results) != 1 || results[0].Status != result.StatusOK {
		t.Fatalf("expected ok, got %+v", results)
	}
	if len(f.repo.Ops) != opsBefore {
		t.Fatalf("closing a failed job must not commit: %v", f.repo.Ops[opsBefore:])
	}
	if _, err := f.store.Lookup(ctx, "31"); !errors.Is(err, ledger.ErrJobNotFound) {
		t.Fatalf("claim not released: %v", err)
	}
}

func TestFinishNonScheduleCommit(t *testing.T) {
	f := newFixture(t)
	f.repo.AppendCommit("unrelated")
	results := f.flow.Run(context.Background(), finish.Request{Explicit: true})
	if len(results) != 1 || results[0].Status != result.StatusImpossible {
		t.Fatalf("expected impossible, got %+v", results)
	}
}

func TestFinishAllAndListOpenJobs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	testsupport.MustClaim(t, f.store, "32", &record.Record{Command: "sbatch other.sh", Outputs: []string{"other"}})
	f.sched.states["31"] = slurm.StateCompleted
	f.sched.states["32"] = slurm.StatePending

	open := f.flow.Run(ctx, finish.Request{ListOpenJobs: true})
	if len(open) != 2 {
		t.Fatalf("expected two open jobs, got %+v", open)
	}

	results := f.flow.Run(ctx, finish.Request{Explicit: true, All: true})
	if len(results) != 2 {
		t.Fatalf("expected two results, got %+v", results)
	}
	statuses := map[string]result.Status{}
	for _, r := range results {
		statuses[r.JobID] = r.Status
	}
	if statuses["31"] != result.StatusOK || statuses["32"] != result.StatusImpossible {
		t.Fatalf("unexpected statuses %v", statuses)
	}
}

func TestFinishAltDirCopiesResultsBack(t *testing.T) {
	ctx := context.Background()
	cfg := testsupport.NewConfig(t)
	root := t.TempDir()
	alt := t.TempDir()
	repo := testsupport.NewFakeRepo(root)
	repo.AppendCommit("initial")
	store := testsupport.MustOpenLedger(t, cfg)
	sched := &stubScheduler{states: map[string]slurm.JobState{"40": slurm.StateCompleted}}

	rec := &record.Record{
		Command:          "sbatch job.sh",
		Outputs:          []string{"out/x"},
		WorkingDir:       ".",
		AltDir:           alt,
		SchedulerOutputs: []string{"slurm-40.out"},
	}
	testsupport.MustClaim(t, store, "40", rec)
	if err := os.MkdirAll(filepath.Join(root, "out"), 0o755); err != nil {
		t.Fatal(err)
	}
	testsupport.WriteFile(t, filepath.Join(root, "out", "x"), "x")

	results := finish.NewWorkflow(repo, store, sched, nil).Run(ctx, finish.Request{Explicit: true, JobID: "40"})
	if len(results) != 1 || results[0].Status != result.StatusOK {
		t.Fatalf("unexpected results %+v", results)
	}
	want := [][]string{{alt, root, "out/x", "slurm-40.out"}}
	if !reflect.DeepEqual(sched.staged, want) {
		t.Fatalf("staged = %v", sched.staged)
	}
}
