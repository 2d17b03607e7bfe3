package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/caseops/casepilot/pkg/models"
)

// JobStore persists queue jobs. Claims use FOR UPDATE SKIP LOCKED with
// per-case serialization: a pending job is skipped while another job for
// the same case is running.
type JobStore struct {
	db *sqlx.DB
}

// NewJobStore creates a new JobStore.
func NewJobStore(db *sqlx.DB) *JobStore {
	return &JobStore{db: db}
}

const jobColumns = `id, kind, case_sys_id, dedup_key, payload, status, attempts, max_attempts,
	next_run_at, pod_id, heartbeat_at, last_error, created_at, updated_at`

// Enqueue inserts a new pending job. ID, status, next_run_at, and
// timestamps are filled in when empty.
func (s *JobStore) Enqueue(ctx context.Context, job *models.Job) error {
	if job.Kind == "" {
		return NewValidationError("kind", "required")
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 6
	}
	if len(job.Payload) == 0 {
		job.Payload = models.JobPayload("{}")
	}

	now := time.Now().UTC()
	if job.NextRunAt.IsZero() {
		job.NextRunAt = now
	}
	job.CreatedAt = now
	job.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, kind, case_sys_id, dedup_key, payload, status, attempts,
			max_attempts, next_run_at, pod_id, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		job.ID, job.Kind, job.CaseSysID, job.DedupKey, job.Payload, job.Status,
		job.Attempts, job.MaxAttempts, job.NextRunAt, job.PodID, job.LastError,
		job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "") {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// Get returns the job with the given id.
func (s *JobStore) Get(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	err := s.db.GetContext(ctx, &job,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// ClaimNext atomically claims the oldest runnable pending job for podID.
// Jobs whose case already has a running job, or an older live job parked
// on retry backoff, are skipped so case processing stays serialized in
// arrival order. Returns ErrNotFound when nothing is runnable.
func (s *JobStore) ClaimNext(ctx context.Context, podID string) (*models.Job, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start claim transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var job models.Job
	err = tx.GetContext(ctx, &job, `
		SELECT `+jobColumns+` FROM jobs j
		WHERE j.status = 'pending' AND j.next_run_at <= NOW()
			AND NOT EXISTS (
				SELECT 1 FROM jobs o
				WHERE o.case_sys_id = j.case_sys_id AND o.case_sys_id <> ''
					AND o.id <> j.id
					AND (o.status = 'running'
						OR (o.status = 'pending'
							AND (o.created_at < j.created_at
								OR (o.created_at = j.created_at AND o.id < j.id))))
			)
		ORDER BY j.created_at ASC
		LIMIT 1
		FOR UPDATE OF j SKIP LOCKED`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query pending job: %w", err)
	}

	now := time.Now().UTC()
	err = tx.GetContext(ctx, &job, `
		UPDATE jobs
		SET status = 'running', pod_id = $1, attempts = attempts + 1,
			heartbeat_at = $2, updated_at = $2
		WHERE id = $3
		RETURNING `+jobColumns, podID, now, job.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return &job, nil
}

// Heartbeat refreshes the liveness marker for a running job.
func (s *JobStore) Heartbeat(ctx context.Context, id string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET heartbeat_at = $1, updated_at = $1
		WHERE id = $2 AND status = 'running'`, now, id)
	if err != nil {
		return fmt.Errorf("failed to heartbeat job: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read heartbeat result: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Complete marks a running job completed.
func (s *JobStore) Complete(ctx context.Context, id string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'completed', updated_at = $1
		WHERE id = $2 AND status = 'running'`, now, id)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read completion result: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Fail records a failed attempt. Jobs with attempts remaining go back to
// pending with the retry scheduled at nextRunAt; exhausted jobs go dead.
// The resulting status is returned so the worker can react to dead jobs.
func (s *JobStore) Fail(ctx context.Context, id, lastError string, nextRunAt time.Time) (models.JobStatus, error) {
	now := time.Now().UTC()
	var status models.JobStatus
	err := s.db.GetContext(ctx, &status, `
		UPDATE jobs
		SET status = CASE WHEN attempts >= max_attempts THEN 'dead' ELSE 'pending' END,
			next_run_at = $1, last_error = $2, pod_id = '', heartbeat_at = NULL,
			updated_at = $3
		WHERE id = $4 AND status = 'running'
		RETURNING status`, nextRunAt, lastError, now, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to fail job: %w", err)
	}
	return status, nil
}

// MarkDead moves a running job straight to dead, skipping remaining
// retries. Used for errors a retry cannot fix.
func (s *JobStore) MarkDead(ctx context.Context, id, lastError string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'dead', last_error = $1, pod_id = '', heartbeat_at = NULL,
			updated_at = $2
		WHERE id = $3 AND status = 'running'`, lastError, now, id)
	if err != nil {
		return fmt.Errorf("failed to mark job dead: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read dead-mark result: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// RequeueOrphans returns running jobs with stale heartbeats to pending.
// Attempts are preserved so a crash loop still converges on dead.
func (s *JobStore) RequeueOrphans(ctx context.Context, staleBefore time.Time) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'pending', pod_id = '', heartbeat_at = NULL,
			last_error = 'orphaned: heartbeat expired', next_run_at = $1, updated_at = $1
		WHERE status = 'running' AND (heartbeat_at IS NULL OR heartbeat_at < $2)`,
		now, staleBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue orphaned jobs: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read orphan requeue result: %w", err)
	}
	return rows, nil
}

// CleanupStartupOrphans requeues jobs this pod abandoned in a previous
// life. Called once at boot before workers start.
func (s *JobStore) CleanupStartupOrphans(ctx context.Context, podID string) (int64, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'pending', pod_id = '', heartbeat_at = NULL,
			last_error = 'orphaned: pod restarted', next_run_at = $1, updated_at = $1
		WHERE status = 'running' AND pod_id = $2`, now, podID)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up startup orphans: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read startup cleanup result: %w", err)
	}
	return rows, nil
}

// DeleteFinishedBefore removes completed and dead jobs last touched
// before the cutoff. Returns the number deleted.
func (s *JobStore) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE status IN ('completed', 'dead') AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete finished jobs: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read retention result: %w", err)
	}
	return rows, nil
}

// Depths returns the number of jobs per status.
func (s *JobStore) Depths(ctx context.Context) (map[models.JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs by status: %w", err)
	}
	defer rows.Close()

	depths := make(map[models.JobStatus]int)
	for rows.Next() {
		var status models.JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan job depth: %w", err)
		}
		depths[status] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate job depths: %w", err)
	}
	return depths, nil
}
