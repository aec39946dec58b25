// Package ledger persists output claims of in-flight scheduler jobs in SQLite
// and answers conflict queries against them.
//
// Three tables carry the state: open_jobs holds a provenance snapshot per job,
// locked_names the exact output paths a job owns, and locked_prefixes every
// proper ancestor directory of those paths. A new job may not claim a name or
// prefix that intersects an existing claim (name/name, name/prefix,
// prefix/name).
//
// Check-and-claim runs under a file lock next to the database and inside a
// single transaction, so two scheduling processes cannot double-book an
// output. Claims are released when the job's finish record is written.
//
// The database is operational state for unfinished jobs, not an archive.
// Schema changes bump schemaVersion; users release or clear open jobs to adopt
// a new schema.
package ledger
