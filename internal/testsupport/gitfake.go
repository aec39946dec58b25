package testsupport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"jobtrail/internal/gitrepo"
)

// FakeCommit is a commit held by FakeRepo.
type FakeCommit struct {
	ID      string
	Parents []string
	Message string
	Changes []gitrepo.FileChange
}

// FakeRepo is an in-memory commit graph that answers the repository calls the
// workflows make. Mutating calls are logged in Ops.
type FakeRepo struct {
	mu       sync.Mutex
	root     string
	commits  map[string]*FakeCommit
	branches map[string]string
	head     string
	branch   string
	nextID   int
	staged   []string
	Dirty    bool
	// Fail injects errors keyed by operation name (checkout, cherry-pick,
	// merge, commit, add).
	Fail map[string]error
	Ops  []string
}

// NewFakeRepo returns an empty repository on branch main.
func NewFakeRepo(root string) *FakeRepo {
	return &FakeRepo{
		root:     root,
		commits:  make(map[string]*FakeCommit),
		branches: make(map[string]string),
		branch:   "main",
		Fail:     make(map[string]error),
	}
}

// MakeCommit creates a commit with explicit parents without moving HEAD.
func (f *FakeRepo) MakeCommit(parents []string, message string, changes ...gitrepo.FileChange) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.makeCommitLocked(parents, message, changes)
}

func (f *FakeRepo) makeCommitLocked(parents []string, message string, changes []gitrepo.FileChange) string {
	f.nextID++
	id := fmt.Sprintf("c%03d", f.nextID)
	f.commits[id] = &FakeCommit{
		ID:      id,
		Parents: append([]string(nil), parents...),
		Message: message,
		Changes: append([]gitrepo.FileChange(nil), changes...),
	}
	return id
}

// AppendCommit commits on top of HEAD and advances the active branch.
func (f *FakeRepo) AppendCommit(message string, changes ...gitrepo.FileChange) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.appendLocked(message, changes, f.headParents())
}

func (f *FakeRepo) headParents() []string {
	if f.head == "" {
		return nil
	}
	return []string{f.head}
}

func (f *FakeRepo) appendLocked(message string, changes []gitrepo.FileChange, parents []string) string {
	id := f.makeCommitLocked(parents, message, changes)
	f.moveHeadLocked(id)
	return id
}

func (f *FakeRepo) moveHeadLocked(id string) {
	f.head = id
	if f.branch != "" {
		f.branches[f.branch] = id
	}
}

// SetBranch points branch at id and checks it out.
func (f *FakeRepo) SetBranch(branch, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.branches[branch] = id
	f.branch = branch
	f.head = id
}

// CommitByID returns a stored commit.
func (f *FakeRepo) CommitByID(id string) *FakeCommit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commits[id]
}

// HeadID returns HEAD without error handling.
func (f *FakeRepo) HeadID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head
}

// Staged returns the paths passed to Add since the last commit.
func (f *FakeRepo) Staged() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.staged...)
}

func (f *FakeRepo) Root() string { return f.root }

func (f *FakeRepo) resolveLocked(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if base, ok := strings.CutSuffix(ref, "^"); ok {
		id, err := f.resolveLocked(base)
		if err != nil {
			return "", err
		}
		parents := f.commits[id].Parents
		if len(parents) == 0 {
			return "", fmt.Errorf("%w: %s", gitrepo.ErrUnknownRevision, ref)
		}
		return parents[0], nil
	}
	switch {
	case ref == "HEAD":
		if f.head == "" {
			return "", fmt.Errorf("%w: HEAD", gitrepo.ErrUnknownRevision)
		}
		return f.head, nil
	case strings.HasPrefix(ref, "refs/heads/"):
		if id, ok := f.branches[strings.TrimPrefix(ref, "refs/heads/")]; ok {
			return id, nil
		}
	default:
		if id, ok := f.branches[ref]; ok {
			return id, nil
		}
		if _, ok := f.commits[ref]; ok {
			return ref, nil
		}
	}
	return "", fmt.Errorf("%w: %s", gitrepo.ErrUnknownRevision, ref)
}

func (f *FakeRepo) Resolve(_ context.Context, ref string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resolveLocked(ref)
}

func (f *FakeRepo) Head(ctx context.Context) (string, error) { return f.Resolve(ctx, "HEAD") }

func (f *FakeRepo) CommitExists(ctx context.Context, ref string) bool {
	_, err := f.Resolve(ctx, ref)
	return err == nil
}

func (f *FakeRepo) Parents(ctx context.Context, rev string) ([]string, error) {
	id, err := f.Resolve(ctx, rev)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commits[id].Parents...), nil
}

func (f *FakeRepo) ancestorsLocked(id string) map[string]struct{} {
	seen := make(map[string]struct{})
	stack := []string{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[cur]; ok {
			continue
		}
		seen[cur] = struct{}{}
		stack = append(stack, f.commits[cur].Parents...)
	}
	return seen
}

// ListRevisions supports "A..B" and single-revision ranges, oldest first with
// parents before children.
func (f *FakeRepo) ListRevisions(_ context.Context, revRange string) ([]gitrepo.Revision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	tipRef, excludeRef := revRange, ""
	if from, to, ok := strings.Cut(revRange, ".."); ok {
		excludeRef, tipRef = from, to
	}
	tip, err := f.resolveLocked(tipRef)
	if err != nil {
		return nil, err
	}
	excluded := map[string]struct{}{}
	if excludeRef != "" {
		from, err := f.resolveLocked(excludeRef)
		if err != nil {
			return nil, err
		}
		excluded = f.ancestorsLocked(from)
	}

	var revs []gitrepo.Revision
	visited := make(map[string]struct{})
	var visit func(id string)
	visit = func(id string) {
		if _, ok := visited[id]; ok {
			return
		}
		visited[id] = struct{}{}
		if _, skip := excluded[id]; skip {
			return
		}
		commit := f.commits[id]
		for _, p := range commit.Parents {
			visit(p)
		}
		revs = append(revs, gitrepo.Revision{ID: id, Parents: append([]string{}, commit.Parents...)})
	}
	visit(tip)
	return revs, nil
}

func (f *FakeRepo) IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error) {
	a, err := f.Resolve(ctx, ancestor)
	if err != nil {
		return false, err
	}
	d, err := f.Resolve(ctx, descendant)
	if err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.ancestorsLocked(d)[a]
	return ok, nil
}

func (f *FakeRepo) CommitMessage(ctx context.Context, rev string) (string, error) {
	id, err := f.Resolve(ctx, rev)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commits[id].Message, nil
}

func (f *FakeRepo) Describe(context.Context, string) string { return "" }

func (f *FakeRepo) ShortID(_ context.Context, rev string) string {
	if len(rev) > 7 {
		return rev[:7]
	}
	return rev
}

func (f *FakeRepo) AuthorOf(context.Context, string) (gitrepo.Author, error) {
	return gitrepo.Author{Name: "Test User", Date: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}, nil
}

func (f *FakeRepo) Diff(ctx context.Context, rev string) ([]gitrepo.FileChange, error) {
	id, err := f.Resolve(ctx, rev)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gitrepo.FileChange(nil), f.commits[id].Changes...), nil
}

func (f *FakeRepo) Checkout(ctx context.Context, ref string, opts gitrepo.CheckoutOptions) error {
	if err := f.Fail["checkout"]; err != nil {
		return err
	}
	id, err := f.Resolve(ctx, ref)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case opts.NewBranch != "":
		f.branches[opts.NewBranch] = id
		f.branch = opts.NewBranch
		f.Ops = append(f.Ops, "checkout -b "+opts.NewBranch+" "+id)
	case opts.Detach:
		f.branch = ""
		f.Ops = append(f.Ops, "checkout --detach "+id)
	default:
		if _, isBranch := f.branches[ref]; isBranch {
			f.branch = ref
		} else {
			f.branch = ""
		}
		f.Ops = append(f.Ops, "checkout "+ref)
	}
	f.head = id
	return nil
}

func (f *FakeRepo) CherryPick(ctx context.Context, rev string) error {
	if err := f.Fail["cherry-pick"]; err != nil {
		return err
	}
	id, err := f.Resolve(ctx, rev)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	src := f.commits[id]
	f.appendLocked(src.Message, src.Changes, f.headParents())
	f.Ops = append(f.Ops, "cherry-pick "+id)
	return nil
}

func (f *FakeRepo) Merge(_ context.Context, parents []string, message string) error {
	if err := f.Fail["merge"]; err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	all := append(f.headParents(), parents...)
	f.appendLocked(message, nil, all)
	f.Ops = append(f.Ops, "merge "+strings.Join(parents, " "))
	return nil
}

func (f *FakeRepo) UpdateRef(ctx context.Context, ref, target string) error {
	id, err := f.Resolve(ctx, target)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.branches[strings.TrimPrefix(ref, "refs/heads/")] = id
	f.Ops = append(f.Ops, "update-ref "+ref+" "+id)
	return nil
}

func (f *FakeRepo) BranchExists(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.branches[name]
	return ok, nil
}

func (f *FakeRepo) ActiveBranch(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.branch, nil
}

func (f *FakeRepo) IsDirty(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Dirty, nil
}

func (f *FakeRepo) Add(_ context.Context, paths ...string) error {
	if err := f.Fail["add"]; err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.staged = append(f.staged, paths...)
	return nil
}

func (f *FakeRepo) Commit(_ context.Context, message string) (string, error) {
	if err := f.Fail["commit"]; err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	changes := make([]gitrepo.FileChange, 0, len(f.staged))
	for _, p := range f.staged {
		changes = append(changes, gitrepo.FileChange{Status: "A", Path: p})
	}
	f.staged = nil
	id := f.appendLocked(message, changes, f.headParents())
	f.Ops = append(f.Ops, "commit "+id)
	return id, nil
}
