package schedule_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"jobtrail/internal/ledger"
	"jobtrail/internal/record"
	"jobtrail/internal/result"
	"jobtrail/internal/schedule"
	"jobtrail/internal/services"
	"jobtrail/internal/slurm"
	"jobtrail/internal/testsupport"
)

type stubSubmitter struct {
	mu        sync.Mutex
	nextID    int
	exitCode  int
	noJob     bool
	dirs      []string
	artifacts []string
	staged    [][]string
}

func (s *stubSubmitter) Submit(_ context.Context, _ string, dir string) (slurm.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirs = append(s.dirs, dir)
	if s.noJob {
		return slurm.Submission{}, slurm.ErrNoJobSubmitted
	}
	s.nextID++
	return slurm.Submission{JobID: fmt.Sprintf("%d", 100+s.nextID), ExitCode: s.exitCode}, nil
}

func (s *stubSubmitter) DiscoverArtifacts(_ context.Context, jobID, _ string) ([]string, error) {
	if s.artifacts != nil {
		return s.artifacts, nil
	}
	return []string{"slurm-" + jobID + ".out", "slurm-job-" + jobID + ".env.json"}, nil
}

func (s *stubSubmitter) StageInputs(_ context.Context, srcDir, targetDir string, inputs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged = append(s.staged, append([]string{srcDir, targetDir}, inputs...))
	return nil
}

func (s *stubSubmitter) submissions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.dirs)
}

type harness struct {
	root  string
	repo  *testsupport.FakeRepo
	store *ledger.Store
	sub   *stubSubmitter
	flow  *schedule.Workflow
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	root := t.TempDir()
	repo := testsupport.NewFakeRepo(root)
	repo.AppendCommit("initial")
	store := testsupport.MustOpenLedger(t, cfg)
	sub := &stubSubmitter{}
	return &harness{
		root:  root,
		repo:  repo,
		store: store,
		sub:   sub,
		flow:  schedule.NewWorkflow(repo, store, sub, "ds-1", nil),
	}
}

func TestScheduleRejectsInvalidRequests(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cases := map[string]schedule.Request{
		"no outputs": {Command: "sbatch job.sh"},
		"wildcard":   {Command: "sbatch job.sh", Outputs: []string{"out/*.csv"}},
		"no command": {Outputs: []string{"out"}},
	}
	for name, req := range cases {
		out := h.flow.Schedule(ctx, req)
		if out.Result.Status != result.StatusImpossible {
			t.Fatalf("%s: expected impossible, got %+v", name, out.Result)
		}
	}
	if h.sub.submissions() != 0 {
		t.Fatal("invalid requests must not submit")
	}
}

func TestScheduleRequiresCleanTreeUnlessExplicit(t *testing.T) {
	h := newHarness(t)
	h.repo.Dirty = true
	ctx := context.Background()

	out := h.flow.Schedule(ctx, schedule.Request{Command: "sbatch job.sh", Outputs: []string{"out"}})
	if out.Result.Status != result.StatusImpossible {
		t.Fatalf("expected impossible for dirty tree, got %+v", out.Result)
	}
	out = h.flow.Schedule(ctx, schedule.Request{Command: "sbatch job.sh", Outputs: []string{"out"}, Explicit: true})
	if out.Result.Status != result.StatusOK {
		t.Fatalf("expected ok with explicit, got %+v", out.Result)
	}
}

func TestScheduleRecordsClaimAndCommit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sub := filepath.Join(h.root, "analysis")

	out := h.flow.Schedule(ctx, schedule.Request{
		Command: "sbatch run.sh",
		Inputs:  []string{"data.csv"},
		Outputs: []string{"results/run1/"},
		Message: "first run",
		Dir:     sub,
	})
	if out.Result.Status != result.StatusOK {
		t.Fatalf("unexpected result %+v", out.Result)
	}
	if out.Result.JobID != "101" || out.Result.Commit == "" {
		t.Fatalf("result missing ids: %+v", out.Result)
	}
	if h.sub.dirs[0] != sub {
		t.Fatalf("submitted from %q, want %q", h.sub.dirs[0], sub)
	}

	commit := h.repo.CommitByID(out.Result.Commit)
	decoded, err := record.Decode(commit.Message, false)
	if err != nil || decoded == nil {
		t.Fatalf("schedule record not decodable: %v", err)
	}
	rec := decoded.Record
	if decoded.Subject != "first run" || rec.JobID != "101" || rec.DatasetID != "ds-1" || rec.WorkingDir != "analysis" {
		t.Fatalf("unexpected record %+v (subject %q)", rec, decoded.Subject)
	}
	if !reflect.DeepEqual(rec.Outputs, []string{"analysis/results/run1"}) {
		t.Fatalf("outputs not root-relative: %v", rec.Outputs)
	}
	if !reflect.DeepEqual(rec.SchedulerOutputs, []string{"slurm-101.out", "slurm-job-101.env.json"}) {
		t.Fatalf("scheduler outputs = %v", rec.SchedulerOutputs)
	}

	job, err := h.store.Lookup(ctx, "101")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !reflect.DeepEqual(job.Names, []string{"analysis/results/run1"}) ||
		!reflect.DeepEqual(job.Prefixes, []string{"analysis", "analysis/results"}) {
		t.Fatalf("unexpected claim %+v", job)
	}
}

func TestScheduleConflictIsImpossible(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	testsupport.MustClaim(t, h.store, "77", &record.Record{Command: "sbatch a.sh", Outputs: []string{"results/a"}})

	out := h.flow.Schedule(ctx, schedule.Request{Command: "sbatch b.sh", Outputs: []string{"results"}})
	if out.Result.Status != result.StatusImpossible {
		t.Fatalf("expected impossible, got %+v", out.Result)
	}
	if !strings.Contains(out.Result.Message, "conflicting outputs") || !strings.Contains(out.Result.Message, "77") {
		t.Fatalf("unexpected message %q", out.Result.Message)
	}
	if h.sub.submissions() != 0 {
		t.Fatal("conflicting job must not be submitted")
	}

	out = h.flow.Schedule(ctx, schedule.Request{Command: "sbatch b.sh", Outputs: []string{"results"}, SkipOutputCheck: true})
	if out.Result.Status != result.StatusOK {
		t.Fatalf("expected ok without output check, got %+v", out.Result)
	}
}

type unreachableLedger struct{ claims int }

func (u *unreachableLedger) WithLock(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func (u *unreachableLedger) CheckConflict(context.Context, []string, []string) ledger.ConflictCheck {
	return ledger.ConflictCheck{Reachable: false, Fault: errors.New("no such table: locked_names")}
}

func (u *unreachableLedger) ClaimIfFree(context.Context, ledger.Claim) error {
	u.claims++
	return nil
}

func (u *unreachableLedger) RecordClaim(context.Context, ledger.Claim) error {
	u.claims++
	return nil
}

func TestScheduleFailsLoudlyWhenLedgerUnreachable(t *testing.T) {
	repo := testsupport.NewFakeRepo(t.TempDir())
	repo.AppendCommit("initial")
	sub := &stubSubmitter{}
	store := &unreachableLedger{}
	flow := schedule.NewWorkflow(repo, store, sub, "ds-1", nil)

	out := flow.Schedule(context.Background(), schedule.Request{Command: "sbatch job.sh", Outputs: []string{"out"}})
	if out.Result.Status != result.StatusError || !strings.Contains(out.Result.Message, "Database connection cannot be established") {
		t.Fatalf("expected ledger error, got %+v", out.Result)
	}
	if !errors.Is(out.Err, services.ErrLedgerUnavailable) {
		t.Fatalf("expected abort error, got %v", out.Err)
	}
	if sub.submissions() != 0 || store.claims != 0 {
		t.Fatal("nothing may be submitted or claimed when the ledger is unreachable")
	}
}

func TestScheduleWithoutJobID(t *testing.T) {
	h := newHarness(t)
	h.sub.noJob = true
	out := h.flow.Schedule(context.Background(), schedule.Request{Command: "./not-sbatch.sh", Outputs: []string{"out"}})
	if out.Result.Status != result.StatusImpossible || !strings.Contains(out.Result.Message, "No job was submitted") {
		t.Fatalf("unexpected result %+v", out.Result)
	}
	if out.Err != nil {
		t.Fatalf("a missing job id must not abort: %v", out.Err)
	}
	jobs, err := h.store.List(context.Background())
	if err != nil || len(jobs) != 0 {
		t.Fatalf("no claim expected, got %v %v", jobs, err)
	}
}

func TestRescheduleCarriesChainAndExpectedExit(t *testing.T) {
	h := newHarness(t)
	h.sub.exitCode = 1
	prior := &record.Record{
		Command:    "sbatch job.sh",
		Chain:      []string{"c000", "c001"},
		Outputs:    []string{"out"},
		WorkingDir: "sub",
		ExitStatus: 1,
		JobID:      "5",
	}
	out := h.flow.Schedule(context.Background(), schedule.Request{
		Command: prior.Command,
		Outputs: prior.Outputs,
		Message: "rerun me",
		Prior:   prior,
	})
	if out.Result.Status != result.StatusOK {
		t.Fatalf("matching non-zero exit must be ok, got %+v", out.Result)
	}
	if h.sub.dirs[0] != filepath.Join(h.root, "sub") {
		t.Fatalf("reschedule must run in the recorded pwd, ran in %q", h.sub.dirs[0])
	}
	msg := h.repo.CommitByID(out.Result.Commit).Message
	if decoded, _ := record.Decode(msg, false); decoded != nil {
		t.Fatal("reschedule commit must not decode as an original schedule")
	}
	decoded, err := record.Decode(msg, true)
	if err != nil || decoded == nil || decoded.Kind != record.KindReschedule {
		t.Fatalf("expected RESCHEDULE record, got %+v %v", decoded, err)
	}
	if !strings.HasSuffix(decoded.Subject, "Re-submission of job 5.") {
		t.Fatalf("subject lacks re-submission note: %q", decoded.Subject)
	}
	if !reflect.DeepEqual(decoded.Record.Chain, prior.Chain) {
		t.Fatalf("chain = %v", decoded.Record.Chain)
	}
}

func TestScheduleNonZeroExitIsError(t *testing.T) {
	h := newHarness(t)
	h.sub.exitCode = 2
	out := h.flow.Schedule(context.Background(), schedule.Request{Command: "sbatch job.sh", Outputs: []string{"out"}})
	if out.Result.Status != result.StatusError || out.Result.Commit == "" {
		t.Fatalf("expected committed error result, got %+v", out.Result)
	}
}

func TestScheduleDryRunDoesNotMutate(t *testing.T) {
	h := newHarness(t)
	opsBefore := len(h.repo.Ops)
	out := h.flow.Schedule(context.Background(), schedule.Request{Command: "sbatch job.sh", Outputs: []string{"out"}, DryRun: true})
	if out.Result.Status != result.StatusOK || out.Record == nil {
		t.Fatalf("unexpected dry run outcome %+v", out)
	}
	if h.sub.submissions() != 0 || len(h.repo.Ops) != opsBefore {
		t.Fatal("dry run must not submit or commit")
	}
}

func TestScheduleAltDir(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	out := h.flow.Schedule(ctx, schedule.Request{Command: "sbatch job.sh", Outputs: []string{"out"}, AltDir: filepath.Join(h.root, "missing")})
	if out.Result.Status != result.StatusError {
		t.Fatalf("expected error for missing alt dir, got %+v", out.Result)
	}

	alt := t.TempDir()
	out = h.flow.Schedule(ctx, schedule.Request{
		Command:     "sbatch job.sh",
		Inputs:      []string{"in/a.txt"},
		ExtraInputs: []string{"env.sh"},
		Outputs:     []string{"out"},
		AltDir:      alt,
	})
	if out.Result.Status != result.StatusOK {
		t.Fatalf("unexpected result %+v", out.Result)
	}
	if h.sub.dirs[0] != alt {
		t.Fatalf("job must run in the alternative directory, ran in %q", h.sub.dirs[0])
	}
	want := [][]string{{h.root, alt, "in/a.txt", "env.sh"}}
	if !reflect.DeepEqual(h.sub.staged, want) {
		t.Fatalf("staged = %v", h.sub.staged)
	}
	if out.Record.AltDir != alt {
		t.Fatalf("alt dir not recorded: %+v", out.Record)
	}
}

func TestConcurrentSchedulesClaimOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	repo := testsupport.NewFakeRepo(t.TempDir())
	repo.AppendCommit("initial")
	sub := &stubSubmitter{}

	const workers = 4
	var wg sync.WaitGroup
	statuses := make([]result.Status, workers)
	for i := 0; i < workers; i++ {
		store := testsupport.MustOpenLedger(t, cfg)
		flow := schedule.NewWorkflow(repo, store, sub, "ds-1", nil)
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out := flow.Schedule(context.Background(), schedule.Request{
				Command:  "sbatch job.sh",
				Outputs:  []string{"shared/out"},
				Explicit: true,
			})
			statuses[i] = out.Result.Status
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, status := range statuses {
		switch status {
		case result.StatusOK:
			ok++
		case result.StatusImpossible:
		default:
			t.Fatalf("unexpected status %q in %v", status, statuses)
		}
	}
	if ok != 1 || sub.submissions() != 1 {
		t.Fatalf("expected exactly one claim, got %d ok and %d submissions", ok, sub.submissions())
	}
}
