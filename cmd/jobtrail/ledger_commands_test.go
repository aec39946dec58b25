package main

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestLedgerListShowsOpenJobs(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, env, "ledger", "list")
	if err != nil {
		t.Fatalf("ledger list: %v", err)
	}
	requireContains(t, out, "No open jobs")

	seedClaim(t, env, "4242", "results/run1")

	out, _, err = runCLI(t, env, "ledger", "list")
	if err != nil {
		t.Fatalf("ledger list: %v", err)
	}
	requireContains(t, out, "4242")
	requireContains(t, out, "results/run1")

	out, _, err = runCLI(t, env, "--json", "ledger", "list")
	if err != nil {
		t.Fatalf("ledger list --json: %v", err)
	}
	var views []openJobView
	if err := json.Unmarshal([]byte(out), &views); err != nil {
		t.Fatalf("decode json: %v\n%s", err, out)
	}
	if len(views) != 1 || views[0].JobID != "4242" {
		t.Fatalf("unexpected views %+v", views)
	}
	if !reflect.DeepEqual(views[0].Prefixes, []string{"results"}) {
		t.Fatalf("unexpected prefixes %v", views[0].Prefixes)
	}
}

func TestLedgerReleaseDropsClaim(t *testing.T) {
	env := setupCLITestEnv(t)
	seedClaim(t, env, "77", "out/a")

	out, _, err := runCLI(t, env, "ledger", "release", "77")
	if err != nil {
		t.Fatalf("ledger release: %v", err)
	}
	requireContains(t, out, "[OK] released outputs (job 77)")

	out, _, err = runCLI(t, env, "ledger", "release", "77")
	if !errors.Is(err, errResultsFailed) {
		t.Fatalf("expected errResultsFailed for unknown job, got %v", err)
	}
	requireContains(t, out, "[IMPOSSIBLE] job 77 has no open claim")
}

func TestLedgerHealth(t *testing.T) {
	env := setupCLITestEnv(t)
	seedClaim(t, env, "9", "a/b/c")

	out, _, err := runCLI(t, env, "ledger", "health")
	if err != nil {
		t.Fatalf("ledger health: %v", err)
	}
	requireContains(t, out, "Integrity check: yes")
	requireContains(t, out, "Open jobs:       1")
	requireContains(t, out, "Locked prefixes: 2")
}
