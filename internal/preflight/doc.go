// Package preflight provides readiness checks for the binaries and
// directories jobtrail depends on.
//
// The CLI "jobtrail status" command runs them before any job is scheduled so
// that a missing scontrol or an unwritable ledger directory surfaces early
// instead of after a submission.
package preflight
