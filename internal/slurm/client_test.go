package slurm_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"jobtrail/internal/config"
	"jobtrail/internal/services/shell"
	"jobtrail/internal/slurm"
)

type stubExecutor struct {
	outputs map[string]string
	errs    map[string]error
	calls   []string
	dirs    []string
}

func (s *stubExecutor) Run(_ context.Context, dir, binary string, args []string, _ string) (string, string, error) {
	key := binary + " " + strings.Join(args, " ")
	s.calls = append(s.calls, key)
	s.dirs = append(s.dirs, dir)
	return s.outputs[key], "", s.errs[key]
}

func newClient(t *testing.T, exec *stubExecutor, envFile bool) *slurm.Client {
	t.Helper()
	cfg := config.Default().Slurm
	cfg.WriteEnvFile = envFile
	client, err := slurm.New(cfg, time.Second, slurm.WithExecutor(exec))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return client
}

func TestSubmitParsesJobID(t *testing.T) {
	exec := &stubExecutor{outputs: map[string]string{
		"/bin/sh -c sbatch job.sh": "Submitted batch job 4242\n",
	}}
	client := newClient(t, exec, false)
	sub, err := client.Submit(context.Background(), "sbatch job.sh", "/data/run")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sub.JobID != "4242" || sub.ExitCode != 0 {
		t.Fatalf("unexpected submission %+v", sub)
	}
	if exec.dirs[0] != "/data/run" {
		t.Fatalf("submission ran in %q", exec.dirs[0])
	}
}

func TestSubmitReportsNonZeroExitWithoutError(t *testing.T) {
	exec := &stubExecutor{
		outputs: map[string]string{"/bin/sh -c ./submit.sh": "Submitted batch job 7\n"},
		errs:    map[string]error{"/bin/sh -c ./submit.sh": &shell.ExitError{Code: 2}},
	}
	sub, err := newClient(t, exec, false).Submit(context.Background(), "./submit.sh", "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sub.JobID != "7" || sub.ExitCode != 2 {
		t.Fatalf("unexpected submission %+v", sub)
	}
}

func TestSubmitWithoutJobID(t *testing.T) {
	exec := &stubExecutor{outputs: map[string]string{"/bin/sh -c echo hi": "hi\n"}}
	_, err := newClient(t, exec, false).Submit(context.Background(), "echo hi", "")
	if !errors.Is(err, slurm.ErrNoJobSubmitted) {
		t.Fatalf("expected ErrNoJobSubmitted, got %v", err)
	}
}

func TestParseScontrolDropsIdentityKeys(t *testing.T) {
	fields := slurm.ParseScontrol("JobId=12 JobName=x\n   UserId=me(1000) GroupId=g(1)\n   StdOut=/tmp/slurm-12.out\n")
	want := map[string]string{"JobName": "x", "GroupId": "g(1)", "StdOut": "/tmp/slurm-12.out"}
	if !reflect.DeepEqual(fields, want) {
		t.Fatalf("fields = %v", fields)
	}
}

func TestExpandArrayTasks(t *testing.T) {
	cases := map[string][]string{
		"1-3":     {"9_1", "9_2", "9_3"},
		"1,3,5":   {"9_1", "9_3", "9_5"},
		"1-10:4":  {"9_1", "9_5", "9_9"},
		"0-2%1":   {"9_0", "9_1", "9_2"},
		"[4,7-8]": {"9_4", "9_7", "9_8"},
	}
	for spec, want := range cases {
		got, err := slurm.ExpandArrayTasks("9", spec)
		if err != nil {
			t.Fatalf("ExpandArrayTasks(%q): %v", spec, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("ExpandArrayTasks(%q) = %v, want %v", spec, got, want)
		}
	}
	if _, err := slurm.ExpandArrayTasks("9", "1-x"); err == nil {
		t.Fatal("expected error for malformed range")
	}
}

func TestDiscoverArtifactsWritesEnvFile(t *testing.T) {
	base := t.TempDir()
	logDir := filepath.Join(base, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(logDir, "slurm-55.out")
	errPath := filepath.Join(logDir, "slurm-55.err")
	exec := &stubExecutor{outputs: map[string]string{
		"scontrol show job 55": "JobId=55 JobState=PENDING\n StdErr=" + errPath + "\n StdOut=" + out + "\n",
	}}
	artifacts, err := newClient(t, exec, true).DiscoverArtifacts(context.Background(), "55", base)
	if err != nil {
		t.Fatalf("DiscoverArtifacts: %v", err)
	}
	want := []string{"logs/slurm-55.out", "logs/slurm-55.err", "logs/slurm-job-55.env.json"}
	if !reflect.DeepEqual(artifacts, want) {
		t.Fatalf("artifacts = %v", artifacts)
	}
	data, err := os.ReadFile(filepath.Join(logDir, "slurm-job-55.env.json"))
	if err != nil {
		t.Fatalf("read env file: %v", err)
	}
	var env map[string]string
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode env file: %v", err)
	}
	if env["JobState"] != "PENDING" || env["JobId"] != "" {
		t.Fatalf("unexpected env contents %v", env)
	}
}

func TestDiscoverArtifactsExpandsArrays(t *testing.T) {
	base := t.TempDir()
	exec := &stubExecutor{outputs: map[string]string{
		"scontrol show job 60":   "ArrayJobId=60 ArrayTaskId=1-2 StdOut=" + base + "/a.out StdErr=" + base + "/a.out\n",
		"scontrol show job 60_1": "StdOut=" + base + "/a-1.out StdErr=" + base + "/a-1.out\n",
		"scontrol show job 60_2": "StdOut=" + base + "/a-2.out StdErr=" + base + "/a-2.err\n",
	}}
	artifacts, err := newClient(t, exec, false).DiscoverArtifacts(context.Background(), "60", base)
	if err != nil {
		t.Fatalf("DiscoverArtifacts: %v", err)
	}
	want := []string{"a-1.out", "a-2.out", "a-2.err"}
	if !reflect.DeepEqual(artifacts, want) {
		t.Fatalf("artifacts = %v", artifacts)
	}
}

func TestQueryStateFallsBackToSacct(t *testing.T) {
	exec := &stubExecutor{
		outputs: map[string]string{
			"scontrol show job 11":          "JobId=11 JobState=RUNNING\n",
			"sacct -j 12 -X -n -P -o State": "CANCELLED by 1000\n",
		},
		errs: map[string]error{"scontrol show job 12": &shell.ExitError{Code: 1, Stderr: "Invalid job id specified"}},
	}
	client := newClient(t, exec, false)
	state, err := client.QueryState(context.Background(), "11")
	if err != nil || state != slurm.StateRunning || !state.Active() {
		t.Fatalf("state 11 = %q %v", state, err)
	}
	state, err = client.QueryState(context.Background(), "12")
	if err != nil || state != slurm.StateCancelled || state.Active() {
		t.Fatalf("state 12 = %q %v", state, err)
	}
}

func TestStageInputsCopiesIntoTarget(t *testing.T) {
	exec := &stubExecutor{}
	client := newClient(t, exec, false)
	target := t.TempDir()
	if err := client.StageInputs(context.Background(), "/ds/sub", target, []string{"data/raw/", "cfg.yml"}); err != nil {
		t.Fatalf("StageInputs: %v", err)
	}
	want := []string{
		"cp -r -L -u /ds/sub/data/raw " + filepath.Join(target, "data") + "/",
		"cp -r -L -u /ds/sub/cfg.yml " + target + "/",
	}
	if !reflect.DeepEqual(exec.calls, want) {
		t.Fatalf("calls = %v", exec.calls)
	}
	if _, err := os.Stat(filepath.Join(target, "data")); err != nil {
		t.Fatalf("target dir not created: %v", err)
	}
}
