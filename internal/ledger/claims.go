package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"jobtrail/internal/record"
)

// ErrClaimConflict is returned by ClaimIfFree when another job already owns an
// intersecting name or prefix.
var ErrClaimConflict = errors.New("output claim conflicts with an open job")

// ErrJobNotFound is returned when no open job matches the requested id.
var ErrJobNotFound = errors.New("job not found in ledger")

// ConflictCheck is the outcome of a conflict query.
type ConflictCheck struct {
	Conflict  bool
	Reachable bool
	// Jobs lists the open jobs whose claims intersect the candidate.
	Jobs []string
	// Fault holds the query error, if any. In strict mode a fault makes the
	// ledger unreachable; otherwise it is reported and the check passes.
	Fault error
}

// CheckConflict reports whether candidate names or prefixes intersect any
// existing claim: existing prefixes against new names, existing names
// against new prefixes, and names against names.
func (s *Store) CheckConflict(ctx context.Context, names, prefixes []string) ConflictCheck {
	if s == nil || s.db == nil {
		return ConflictCheck{Reachable: false, Fault: errors.New("ledger not open")}
	}
	var (
		jobs []string
		err  error
	)
	ctx = ensureContext(ctx)
	err = defaultBusyRetry.do(ctx, func() error {
		var qerr error
		jobs, qerr = conflictingJobs(ctx, s.db, names, prefixes)
		return qerr
	})
	if err != nil {
		if s.strict {
			return ConflictCheck{Reachable: false, Fault: err}
		}
		return ConflictCheck{Conflict: false, Reachable: true, Fault: err}
	}
	return ConflictCheck{Conflict: len(jobs) > 0, Reachable: true, Jobs: jobs}
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func conflictingJobs(ctx context.Context, q querier, names, prefixes []string) ([]string, error) {
	newNames := toSet(names)
	newPrefixes := toSet(prefixes)
	hits := make(map[string]struct{})

	existingPrefixes, err := loadPairs(ctx, q, "SELECT slurm_job_id, prefix FROM locked_prefixes")
	if err != nil {
		return nil, fmt.Errorf("load locked prefixes: %w", err)
	}
	for _, p := range existingPrefixes {
		if _, ok := newNames[p.value]; ok {
			hits[p.jobID] = struct{}{}
		}
	}

	existingNames, err := loadPairs(ctx, q, "SELECT slurm_job_id, name FROM locked_names")
	if err != nil {
		return nil, fmt.Errorf("load locked names: %w", err)
	}
	for _, n := range existingNames {
		if _, ok := newPrefixes[n.value]; ok {
			hits[n.jobID] = struct{}{}
		}
		if _, ok := newNames[n.value]; ok {
			hits[n.jobID] = struct{}{}
		}
	}

	jobs := make([]string, 0, len(hits))
	for id := range hits {
		jobs = append(jobs, id)
	}
	sort.Strings(jobs)
	return jobs, nil
}

type claimPair struct {
	jobID string
	value string
}

func loadPairs(ctx context.Context, q querier, query string, args ...any) ([]claimPair, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []claimPair
	for rows.Next() {
		var p claimPair
		if err := rows.Scan(&p.jobID, &p.value); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// RecordClaim persists the job snapshot and its name and prefix claims in a
// single transaction.
func (s *Store) RecordClaim(ctx context.Context, claim Claim) error {
	if err := validateClaim(claim); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return insertClaim(ctx, tx, claim)
	})
}

// ClaimIfFree re-checks for conflicts and records the claim inside the same
// transaction. It returns ErrClaimConflict when another job owns an
// intersecting output.
func (s *Store) ClaimIfFree(ctx context.Context, claim Claim) error {
	if err := validateClaim(claim); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		jobs, err := conflictingJobs(ctx, tx, claim.Names, claim.Prefixes)
		if err != nil {
			return err
		}
		if len(jobs) > 0 {
			return fmt.Errorf("%w: %s", ErrClaimConflict, strings.Join(jobs, ", "))
		}
		return insertClaim(ctx, tx, claim)
	})
}

func validateClaim(claim Claim) error {
	if strings.TrimSpace(claim.JobID) == "" {
		return errors.New("claim requires a job id")
	}
	if claim.Record == nil {
		return errors.New("claim requires a record")
	}
	return nil
}

func insertClaim(ctx context.Context, tx *sql.Tx, claim Claim) error {
	rec := claim.Record
	encoded := make(map[string]string, 5)
	for key, values := range map[string][]string{
		"chain":         rec.Chain,
		"inputs":        rec.Inputs,
		"extra_inputs":  rec.ExtraInputs,
		"outputs":       rec.Outputs,
		"slurm_outputs": rec.SchedulerOutputs,
	} {
		text, err := encodeList(values)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		encoded[key] = text
	}

	_, err := tx.ExecContext(ctx, `INSERT INTO open_jobs (
		slurm_job_id, message, chain, cmd, dsid, inputs, extra_inputs, outputs, slurm_outputs, pwd, alt_dir
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		claim.JobID, claim.Message, encoded["chain"], rec.Command, rec.DatasetID,
		encoded["inputs"], encoded["extra_inputs"], encoded["outputs"], encoded["slurm_outputs"],
		rec.WorkingDir, rec.AltDir,
	)
	if err != nil {
		return fmt.Errorf("insert open job %s: %w", claim.JobID, err)
	}
	for _, name := range uniqueSorted(claim.Names) {
		if _, err := tx.ExecContext(ctx, "INSERT INTO locked_names (slurm_job_id, name) VALUES (?, ?)", claim.JobID, name); err != nil {
			return fmt.Errorf("insert locked name: %w", err)
		}
	}
	for _, prefix := range uniqueSorted(claim.Prefixes) {
		if _, err := tx.ExecContext(ctx, "INSERT INTO locked_prefixes (slurm_job_id, prefix) VALUES (?, ?)", claim.JobID, prefix); err != nil {
			return fmt.Errorf("insert locked prefix: %w", err)
		}
	}
	return nil
}

// ReleaseClaim removes the job and all of its name and prefix claims. Releasing
// an unknown job returns ErrJobNotFound.
func (s *Store) ReleaseClaim(ctx context.Context, jobID string) error {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return errors.New("release requires a job id")
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM open_jobs WHERE slurm_job_id = ?", jobID)
		if err != nil {
			return fmt.Errorf("delete open job: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM locked_names WHERE slurm_job_id = ?", jobID); err != nil {
			return fmt.Errorf("delete locked names: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM locked_prefixes WHERE slurm_job_id = ?", jobID); err != nil {
			return fmt.Errorf("delete locked prefixes: %w", err)
		}
		if affected, err := res.RowsAffected(); err == nil && affected == 0 {
			return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return nil
	})
}

// Lookup returns the open job with the given id.
func (s *Store) Lookup(ctx context.Context, jobID string) (*OpenJob, error) {
	jobs, err := s.list(ctx, "WHERE slurm_job_id = ?", jobID)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return jobs[0], nil
}

// List returns all open jobs ordered by creation time.
func (s *Store) List(ctx context.Context) ([]*OpenJob, error) {
	return s.list(ctx, "")
}

func (s *Store) list(ctx context.Context, where string, args ...any) ([]*OpenJob, error) {
	ctx = ensureContext(ctx)
	query := `SELECT slurm_job_id, COALESCE(message, ''), chain, cmd, COALESCE(dsid, ''), inputs, extra_inputs,
		outputs, slurm_outputs, COALESCE(pwd, ''), COALESCE(alt_dir, ''), created_at FROM open_jobs ` +
		where + " ORDER BY created_at, slurm_job_id"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list open jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*OpenJob
	for rows.Next() {
		var job OpenJob
		var rec record.Record
		var chain, inputs, extra, outputs, slurmOutputs, created string
		if err := rows.Scan(&job.JobID, &job.Message, &chain, &rec.Command, &rec.DatasetID, &inputs, &extra,
			&outputs, &slurmOutputs, &rec.WorkingDir, &rec.AltDir, &created); err != nil {
			return nil, fmt.Errorf("scan open job: %w", err)
		}
		for _, target := range []struct {
			text string
			dst  *[]string
		}{
			{chain, &rec.Chain},
			{inputs, &rec.Inputs},
			{extra, &rec.ExtraInputs},
			{outputs, &rec.Outputs},
			{slurmOutputs, &rec.SchedulerOutputs},
		} {
			if err := json.Unmarshal([]byte(target.text), target.dst); err != nil {
				return nil, fmt.Errorf("decode open job %s: %w", job.JobID, err)
			}
		}
		rec.JobID = record.JobID(job.JobID)
		job.Record = &rec
		job.CreatedAt = parseTimestamp(created)
		jobs = append(jobs, &job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, job := range jobs {
		if err := s.loadLocks(ctx, job); err != nil {
			return nil, err
		}
	}
	return jobs, nil
}

func (s *Store) loadLocks(ctx context.Context, job *OpenJob) error {
	names, err := loadPairs(ctx, s.db, "SELECT slurm_job_id, name FROM locked_names WHERE slurm_job_id = ? ORDER BY name", job.JobID)
	if err != nil {
		return fmt.Errorf("load names for %s: %w", job.JobID, err)
	}
	for _, n := range names {
		job.Names = append(job.Names, n.value)
	}
	prefixes, err := loadPairs(ctx, s.db, "SELECT slurm_job_id, prefix FROM locked_prefixes WHERE slurm_job_id = ? ORDER BY prefix", job.JobID)
	if err != nil {
		return fmt.Errorf("load prefixes for %s: %w", job.JobID, err)
	}
	for _, p := range prefixes {
		job.Prefixes = append(job.Prefixes, p.value)
	}
	return nil
}

func encodeList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func uniqueSorted(values []string) []string {
	set := toSet(values)
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func parseTimestamp(value string) time.Time {
	for _, layout := range []string{time.DateTime, time.RFC3339, time.RFC3339Nano} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}
