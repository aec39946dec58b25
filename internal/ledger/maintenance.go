package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

var expectedTables = []string{"schema_version", "open_jobs", "locked_names", "locked_prefixes"}

// CheckHealth returns diagnostic information about the ledger database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{DBPath: s.path}
	if s.path == "" {
		return health, errors.New("ledger database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat ledger database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("ledger database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	if s.db == nil {
		return health, errors.New("ledger database connection unavailable")
	}

	connCtx, cancel := context.WithTimeout(ensureContext(ctx), 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping ledger database: %w", err)
	}
	health.DatabaseReadable = true

	present, err := tableNames(connCtx, s.db)
	if err != nil {
		health.Error = err.Error()
		return health, err
	}
	for _, table := range expectedTables {
		if _, ok := present[table]; ok {
			health.TablesPresent = append(health.TablesPresent, table)
		} else {
			health.MissingTables = append(health.MissingTables, table)
		}
	}

	if _, ok := present["schema_version"]; ok {
		var version int
		if err := s.db.QueryRowContext(connCtx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err == nil {
			health.SchemaVersion = strconv.Itoa(version)
		}
	}

	counts := []struct {
		table string
		dst   *int
	}{
		{"open_jobs", &health.OpenJobs},
		{"locked_names", &health.LockedNames},
		{"locked_prefixes", &health.LockedPrefixes},
	}
	for _, c := range counts {
		if _, ok := present[c.table]; !ok {
			continue
		}
		if err := s.db.QueryRowContext(connCtx, "SELECT COUNT(*) FROM "+c.table).Scan(c.dst); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("count %s: %w", c.table, err)
		}
	}

	var integrity string
	if err := s.db.QueryRowContext(connCtx, "PRAGMA integrity_check").Scan(&integrity); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrity, "ok")
	return health, nil
}
