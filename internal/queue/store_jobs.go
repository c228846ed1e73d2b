package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"fourcat/internal/services"
)

// AddJob enqueues a job. When a live job with the same type and non-empty
// remote id exists it is returned unchanged instead.
func (s *Store) AddJob(ctx context.Context, jobType string, details Details, remoteID string, interval time.Duration) (*Job, error) {
	jobType = strings.TrimSpace(jobType)
	if jobType == "" {
		return nil, services.Wrap(services.ErrConfiguration, "queue", "add job", "job type is empty", nil)
	}
	if s.types != nil && !s.types.Known(jobType) {
		return nil, services.Wrap(services.ErrConfiguration, "queue", "add job", fmt.Sprintf("unknown job type %q", jobType), nil)
	}
	if interval < 0 {
		return nil, services.Wrap(services.ErrConfiguration, "queue", "add job", "interval must not be negative", nil)
	}
	detailsJSON, err := encodeMap(details)
	if err != nil {
		return nil, fmt.Errorf("encode job details: %w", err)
	}
	remoteID = strings.TrimSpace(remoteID)
	now := s.clock()

	var job *Job
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO jobs (job_type, details_json, remote_id, created_at, interval_ns)
             VALUES (?, ?, ?, ?, ?)
             ON CONFLICT(job_type, remote_id) DO NOTHING`,
			jobType, detailsJSON, nullableString(remoteID), now.UnixNano(), int64(interval),
		)
		if err != nil {
			return err
		}

		var row *sql.Row
		if remoteID != "" {
			row = tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE job_type = ? AND remote_id = ?`, jobType, remoteID)
		} else {
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			row = tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
		}
		job, err = scanJob(row)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("add job: %w", err)
	}
	return job, nil
}

// GetJob claims the oldest eligible job of jobType, or returns nil when none
// is eligible. The claim is a single conditional UPDATE so concurrent callers
// never receive the same job.
func (s *Store) GetJob(ctx context.Context, jobType string) (*Job, error) {
	now := s.clock().UnixNano()
	var job *Job
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`UPDATE jobs SET claimed = 1, claimed_at = ?, last_claimed_at = ?
             WHERE id = (
                 SELECT id FROM jobs
                 WHERE job_type = ? AND claimed = 0 AND claim_after <= ?
                 ORDER BY created_at, id
                 LIMIT 1
             ) AND claimed = 0
             RETURNING `+jobColumns,
			now, now, jobType, now,
		)
		claimed, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			job = nil
			return nil
		}
		if err != nil {
			return err
		}
		job = claimed
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

// Release returns a claimed job to the queue. A positive delay keeps it
// ineligible for GetJob until now+delay.
func (s *Store) Release(ctx context.Context, job *Job, delay time.Duration) error {
	if job == nil {
		return errors.New("release job: nil job")
	}
	claimAfter := s.eligibleAt(delay)
	if _, err := s.execWithRetry(ctx,
		`UPDATE jobs SET claimed = 0, claim_after = ? WHERE id = ?`,
		toUnixNano(claimAfter), job.ID,
	); err != nil {
		return fmt.Errorf("release job %d: %w", job.ID, err)
	}
	job.Claimed = false
	job.ClaimAfter = claimAfter
	return nil
}

// Retry releases a job after a transient failure and counts the attempt.
func (s *Store) Retry(ctx context.Context, job *Job, delay time.Duration) error {
	if job == nil {
		return errors.New("retry job: nil job")
	}
	claimAfter := s.eligibleAt(delay)
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET claimed = 0, claim_after = ?, attempts = attempts + 1 WHERE id = ?`,
		toUnixNano(claimAfter), job.ID,
	)
	if err != nil {
		return fmt.Errorf("retry job %d: %w", job.ID, err)
	}
	if affected, _ := res.RowsAffected(); affected > 0 {
		job.Attempts++
	}
	job.Claimed = false
	job.ClaimAfter = claimAfter
	return nil
}

// Reschedule releases a recurring job so it becomes eligible one interval
// after it was last claimed. The attempt counter starts over.
func (s *Store) Reschedule(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("reschedule job: nil job")
	}
	if !job.Recurring() {
		return fmt.Errorf("reschedule job %d: job has no interval", job.ID)
	}
	base := job.LastClaimedAt
	if base.IsZero() {
		base = s.clock()
	}
	claimAfter := base.Add(job.Interval)
	if _, err := s.execWithRetry(ctx,
		`UPDATE jobs SET claimed = 0, claim_after = ?, attempts = 0 WHERE id = ?`,
		toUnixNano(claimAfter), job.ID,
	); err != nil {
		return fmt.Errorf("reschedule job %d: %w", job.ID, err)
	}
	job.Claimed = false
	job.ClaimAfter = claimAfter
	job.Attempts = 0
	return nil
}

// Finish deletes a job. Finishing a job that no longer exists is a no-op.
func (s *Store) Finish(ctx context.Context, job *Job) error {
	if job == nil {
		return nil
	}
	if _, err := s.execWithRetry(ctx, `DELETE FROM jobs WHERE id = ?`, job.ID); err != nil {
		return fmt.Errorf("finish job %d: %w", job.ID, err)
	}
	return nil
}

// ReleaseAll clears every claim. It must run once at startup, before any
// worker polls, to recover jobs orphaned by an unclean shutdown.
func (s *Store) ReleaseAll(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx, `UPDATE jobs SET claimed = 0 WHERE claimed = 1`)
	if err != nil {
		return 0, fmt.Errorf("release all jobs: %w", err)
	}
	return res.RowsAffected()
}

// GetJobByID fetches a job by identifier, returning nil when absent.
func (s *Store) GetJobByID(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// FindJob returns the live job for a type and remote id, or nil.
func (s *Store) FindJob(ctx context.Context, jobType, remoteID string) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+jobColumns+` FROM jobs WHERE job_type = ? AND remote_id = ?`, jobType, remoteID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find job: %w", err)
	}
	return job, nil
}

// ListJobs returns live jobs in claim order, optionally filtered by type.
func (s *Store) ListJobs(ctx context.Context, types ...string) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := make([]any, 0, len(types))
	if len(types) > 0 {
		query += ` WHERE job_type IN (` + makePlaceholders(len(types)) + `)`
		for _, jobType := range types {
			args = append(args, jobType)
		}
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Clear deletes unclaimed jobs of the given types, or of every type when none
// are given. Claimed jobs are left for their workers.
func (s *Store) Clear(ctx context.Context, types ...string) (int64, error) {
	query := `DELETE FROM jobs WHERE claimed = 0`
	args := make([]any, 0, len(types))
	if len(types) > 0 {
		query += ` AND job_type IN (` + makePlaceholders(len(types)) + `)`
		for _, jobType := range types {
			args = append(args, jobType)
		}
	}
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("clear jobs: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) eligibleAt(delay time.Duration) time.Time {
	if delay <= 0 {
		return time.Time{}
	}
	return s.clock().Add(delay)
}
