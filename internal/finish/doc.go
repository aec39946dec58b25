// Package finish decides whether a scheduled job has been completed in
// history and writes the FINISH records that complete jobs.
//
// Resolver is the single finish-eligibility policy shared by the reschedule
// front-end and the replay engine. Workflow queries the scheduler for each
// open job, commits outputs of completed jobs under a FINISH record, and
// releases their ledger claims.
package finish
