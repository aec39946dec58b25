package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// ledgerVersion is stored in schema_version. Bump it with every change to
// schema.sql.
const ledgerVersion = 1

var (
	// ErrSchemaMismatch is returned when ledger.db was written by a different
	// ledger version.
	ErrSchemaMismatch = errors.New("ledger schema version mismatch")
	// ErrUnversionedLedger marks a database that has claim tables but no
	// schema_version, such as one created by other submission tooling.
	ErrUnversionedLedger = errors.New("ledger has claim tables but no schema version")
)

// ensureSchema creates the tables of an empty database and refuses to touch
// a database whose layout it does not own.
func (s *Store) ensureSchema(ctx context.Context) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		tables, err := tableNames(ctx, tx)
		if err != nil {
			return err
		}
		_, versioned := tables["schema_version"]
		_, claims := tables["open_jobs"]
		switch {
		case versioned:
			return checkVersion(ctx, tx, s.path)
		case claims:
			return fmt.Errorf("%w: %s (finish its open jobs with the tool that created it, then remove the file)",
				ErrUnversionedLedger, s.path)
		}
		if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create ledger tables: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", ledgerVersion); err != nil {
			return fmt.Errorf("stamp ledger version: %w", err)
		}
		return nil
	})
}

func tableNames(ctx context.Context, q interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}) (map[string]struct{}, error) {
	rows, err := q.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'table'")
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()
	names := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names[name] = struct{}{}
	}
	return names, rows.Err()
}

func checkVersion(ctx context.Context, tx *sql.Tx, path string) error {
	var version int
	if err := tx.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read ledger version: %w", err)
	}
	if version != ledgerVersion {
		return fmt.Errorf("%w: %s has version %d, this build expects %d (finish or release open jobs, then delete it)",
			ErrSchemaMismatch, path, version, ledgerVersion)
	}
	return nil
}
