// Package record encodes and decodes provenance records embedded in commit
// messages.
//
// A record commit message has a free-form subject followed by a JSON payload
// fenced by marker lines:
//
//	[DATALAD SCHEDULE] subject
//
//	=== Do not change lines below ===
//	{"cmd": "sbatch job.sh", "outputs": ["out"], ...}
//	^^^ Do not change lines above ^^^
//
// SCHEDULE and RESCHEDULE records describe submitted jobs; FINISH records
// mark a job as completed and carry the same slurm_job_id.
package record
