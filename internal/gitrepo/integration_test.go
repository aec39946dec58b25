package gitrepo_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"jobtrail/internal/gitrepo"
)

const recordMessage = "[DATALAD SCHEDULE] run\n\n=== Do not change lines below ===\n{\"cmd\": \"sbatch run.sh\", \"outputs\": [\"out\"]}\n^^^ Do not change lines above ^^^"

// newWorkTree initialises a git repository on branch main with an isolated
// configuration and opens it.
func newWorkTree(t *testing.T) (*gitrepo.Repo, string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("GIT_CONFIG_GLOBAL", filepath.Join(home, "gitconfig"))
	t.Setenv("GIT_CONFIG_NOSYSTEM", "1")
	for _, key := range []string{"GIT_AUTHOR_NAME", "GIT_COMMITTER_NAME"} {
		t.Setenv(key, "Jobtrail Test")
	}
	for _, key := range []string{"GIT_AUTHOR_EMAIL", "GIT_COMMITTER_EMAIL"} {
		t.Setenv(key, "test@example.org")
	}

	dir := t.TempDir()
	runGit(t, dir, "init", "-q")
	runGit(t, dir, "symbolic-ref", "HEAD", "refs/heads/main")
	repo, err := gitrepo.Open(context.Background(), dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return repo, dir
}

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}

func commitFile(t *testing.T, repo *gitrepo.Repo, name, content, message string) string {
	t.Helper()
	ctx := context.Background()
	if err := os.WriteFile(filepath.Join(repo.Root(), name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := repo.Add(ctx, name); err != nil {
		t.Fatalf("Add: %v", err)
	}
	id, err := repo.Commit(ctx, message)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	return id
}

func TestWorkTreeHistoryQueries(t *testing.T) {
	repo, _ := newWorkTree(t)
	ctx := context.Background()

	root := commitFile(t, repo, "a.txt", "a\n", "initial")
	sched, err := repo.Commit(ctx, recordMessage)
	if err != nil {
		t.Fatalf("empty record commit: %v", err)
	}
	added := commitFile(t, repo, "out", "result\n", "add output")

	revs, err := repo.ListRevisions(ctx, "HEAD")
	if err != nil {
		t.Fatalf("ListRevisions: %v", err)
	}
	want := []gitrepo.Revision{{ID: root, Parents: []string{}}, {ID: sched, Parents: []string{root}}, {ID: added, Parents: []string{sched}}}
	if !reflect.DeepEqual(revs, want) {
		t.Fatalf("revisions = %+v, want %+v", revs, want)
	}

	msg, err := repo.CommitMessage(ctx, sched)
	if err != nil || strings.TrimSpace(msg) != recordMessage {
		t.Fatalf("CommitMessage = %q, %v", msg, err)
	}
	if ok, err := repo.IsAncestor(ctx, root, added); err != nil || !ok {
		t.Fatalf("root must be an ancestor of head: %v %v", ok, err)
	}
	if ok, err := repo.IsAncestor(ctx, added, root); err != nil || ok {
		t.Fatalf("head must not be an ancestor of root: %v %v", ok, err)
	}

	if changes, err := repo.Diff(ctx, sched); err != nil || len(changes) != 0 {
		t.Fatalf("record commit diff = %+v, %v", changes, err)
	}
	changes, err := repo.Diff(ctx, added)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if got := gitrepo.NewOrModified(changes); !reflect.DeepEqual(got, []string{"out"}) {
		t.Fatalf("new or modified = %v", got)
	}
}

func TestWorkTreePicksEmptyRecordAndRebuildsMerge(t *testing.T) {
	repo, _ := newWorkTree(t)
	ctx := context.Background()

	root := commitFile(t, repo, "a.txt", "a\n", "initial")
	sched, err := repo.Commit(ctx, recordMessage)
	if err != nil {
		t.Fatalf("record commit: %v", err)
	}

	if err := repo.Checkout(ctx, root, gitrepo.CheckoutOptions{NewBranch: "replay"}); err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if err := repo.CherryPick(ctx, sched); err != nil {
		t.Fatalf("picking an empty record commit: %v", err)
	}
	picked, _ := repo.Head(ctx)
	if picked == sched || picked == root {
		t.Fatalf("expected a new commit, head %s", picked)
	}
	if parents, _ := repo.Parents(ctx, picked); !reflect.DeepEqual(parents, []string{root}) {
		t.Fatalf("picked parents = %v", parents)
	}
	if msg, _ := repo.CommitMessage(ctx, picked); strings.TrimSpace(msg) != recordMessage {
		t.Fatalf("picked message = %q", msg)
	}

	if err := repo.Checkout(ctx, root, gitrepo.CheckoutOptions{NewBranch: "side"}); err != nil {
		t.Fatalf("Checkout side: %v", err)
	}
	side := commitFile(t, repo, "side.txt", "side\n", "side work")
	if err := repo.Checkout(ctx, "replay", gitrepo.CheckoutOptions{}); err != nil {
		t.Fatalf("Checkout replay: %v", err)
	}
	if err := repo.Merge(ctx, []string{side}, "Merge side"); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	merged, _ := repo.Head(ctx)
	if parents, _ := repo.Parents(ctx, merged); !reflect.DeepEqual(parents, []string{picked, side}) {
		t.Fatalf("merge parents = %v, want [%s %s]", parents, picked, side)
	}
	if msg, _ := repo.CommitMessage(ctx, merged); strings.TrimSpace(msg) != "Merge side" {
		t.Fatalf("merge message = %q", msg)
	}
}

func TestWorkTreeAbortsConflictingPick(t *testing.T) {
	repo, _ := newWorkTree(t)
	ctx := context.Background()

	root := commitFile(t, repo, "a.txt", "a\n", "initial")
	theirs := commitFile(t, repo, "a.txt", "main\n", "edit on main")
	if err := repo.Checkout(ctx, root, gitrepo.CheckoutOptions{NewBranch: "replay"}); err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	ours := commitFile(t, repo, "a.txt", "replay\n", "edit on replay")

	err := repo.CherryPick(ctx, theirs)
	if err == nil {
		t.Fatal("expected a conflicting pick to fail")
	}
	if prefix := "git cherry-pick --allow-empty --keep-redundant-commits " + theirs + ": exit status"; !strings.HasPrefix(err.Error(), prefix) {
		t.Fatalf("expected the unwrapped git error, got %q", err)
	}
	if repo.CommitExists(ctx, "CHERRY_PICK_HEAD") {
		t.Fatal("pick left in progress")
	}
	if head, _ := repo.Head(ctx); head != ours {
		t.Fatalf("head = %s, want %s", head, ours)
	}
	if dirty, err := repo.IsDirty(ctx); err != nil || dirty {
		t.Fatalf("work tree not restored: dirty=%v err=%v", dirty, err)
	}
}
