package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"jobtrail/internal/config"
)

const (
	databaseName = "ledger.db"
	lockName     = "ledger.lock"

	lockRetryDelay = 50 * time.Millisecond
)

// ErrLockTimeout is returned when the ledger lock could not be acquired in time.
var ErrLockTimeout = errors.New("ledger lock timeout")

// Store manages the output-claim ledger backed by SQLite.
type Store struct {
	db          *sql.DB
	path        string
	lock        *flock.Flock
	held        chan struct{}
	strict      bool
	lockTimeout time.Duration
}

// Options tune a Store. Zero values fall back to the configured defaults.
type Options struct {
	StrictConflicts bool
	LockTimeout     time.Duration
	BusyTimeout     time.Duration
}

// OptionsFromConfig derives store options from the application config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		StrictConflicts: cfg.Ledger.StrictConflicts,
		LockTimeout:     cfg.LockTimeout(),
		BusyTimeout:     time.Duration(cfg.Ledger.BusyTimeoutMillis) * time.Millisecond,
	}
}

// OpenForRepo opens the ledger that serves the repository rooted at repoRoot.
func OpenForRepo(cfg *config.Config, repoRoot string) (*Store, error) {
	return Open(cfg.LedgerDirFor(repoRoot), OptionsFromConfig(cfg))
}

// Open initializes or connects to the ledger database inside dir.
func Open(dir string, opts Options) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("ledger directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure ledger directory: %w", err)
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 30 * time.Second
	}
	if opts.BusyTimeout <= 0 {
		opts.BusyTimeout = 5 * time.Second
	}

	dbPath := filepath.Join(dir, databaseName)
	db, err := sql.Open("sqlite", sqliteDSN(dbPath, opts.BusyTimeout))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open ledger %s: %w", dbPath, err)
	}

	store := &Store{
		db:          db,
		path:        dbPath,
		lock:        flock.New(filepath.Join(dir, lockName)),
		held:        make(chan struct{}, 1),
		strict:      opts.StrictConflicts,
		lockTimeout: opts.LockTimeout,
	}
	if err := store.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection and drops the lock if held.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if s.lock != nil && s.lock.Locked() {
		_ = s.lock.Unlock()
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Strict reports whether query faults during conflict checks are treated as
// an unreachable ledger.
func (s *Store) Strict() bool {
	return s != nil && s.strict
}

// WithLock runs fn while holding the ledger-scoped advisory lock. Schedule
// wraps conflict check, submission, and claim in one call so concurrent
// scheduling processes serialize on the ledger. Goroutines sharing one Store
// serialize on held first, because the file lock is reentrant per handle.
func (s *Store) WithLock(ctx context.Context, fn func(context.Context) error) error {
	if s == nil || s.lock == nil {
		return errors.New("ledger not open")
	}
	lockCtx, cancel := context.WithTimeout(ensureContext(ctx), s.lockTimeout)
	defer cancel()

	select {
	case s.held <- struct{}{}:
		defer func() { <-s.held }()
	case <-lockCtx.Done():
		if errors.Is(lockCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s (%s)", ErrLockTimeout, s.lockTimeout, s.lock.Path())
		}
		return lockCtx.Err()
	}

	locked, err := s.lock.TryLockContext(lockCtx, lockRetryDelay)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w after %s (%s)", ErrLockTimeout, s.lockTimeout, s.lock.Path())
		}
		return fmt.Errorf("acquire ledger lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("%w after %s (%s)", ErrLockTimeout, s.lockTimeout, s.lock.Path())
	}
	defer func() { _ = s.lock.Unlock() }()

	return fn(ctx)
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

// sqliteDSN sets the pragmas on every pooled connection, not only the first.
func sqliteDSN(path string, busy time.Duration) string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	return path + "?" + q.Encode()
}

// inTx runs fn inside one transaction, retrying the whole unit on SQLITE_BUSY.
func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	ctx = ensureContext(ctx)
	return defaultBusyRetry.do(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		if err := fn(tx); err != nil {
			return err
		}
		return tx.Commit()
	})
}
