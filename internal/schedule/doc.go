// Package schedule submits a batch job and records it as a provenance commit.
//
// Schedule validates the requested outputs, claims them in the ledger under
// the ledger lock, submits the job, discovers the scheduler's log files, and
// commits a SCHEDULE (or RESCHEDULE) record. The claim is released later by
// the finish workflow.
package schedule
