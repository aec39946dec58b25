package ledger

import (
	"time"

	"jobtrail/internal/record"
)

// Claim is the snapshot persisted for a submitted job together with the
// names and prefixes it locks.
type Claim struct {
	JobID    string
	Message  string
	Record   *record.Record
	Names    []string
	Prefixes []string
}

// OpenJob is a ledger row for a job whose finish record has not been written.
type OpenJob struct {
	JobID     string
	Message   string
	Record    *record.Record
	Names     []string
	Prefixes  []string
	CreatedAt time.Time
}

// DatabaseHealth captures diagnostic information about the ledger database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    string
	TablesPresent    []string
	MissingTables    []string
	IntegrityCheck   bool
	OpenJobs         int
	LockedNames      int
	LockedPrefixes   int
	Error            string
}
