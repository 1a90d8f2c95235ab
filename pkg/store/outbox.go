package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/conductor/pkg/models"
)

const outboxColumns = `id, orchestration_id, type, payload, status, attempts, max_attempts,
	next_run_at, last_error, worker_id, created_at, updated_at`

// EnqueueOutboxJob inserts a pending job runnable immediately.
func (s *Store) EnqueueOutboxJob(ctx context.Context, orchestrationID, jobType string, payload any, maxAttempts int) (*models.OutboxJob, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal outbox payload: %w", err)
	}

	job := &models.OutboxJob{
		ID:              uuid.New().String(),
		OrchestrationID: orchestrationID,
		Type:            jobType,
		Payload:         raw,
		Status:          models.OutboxPending,
		MaxAttempts:     maxAttempts,
		NextRunAt:       time.Now(),
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orchestration_outbox_jobs
			(id, orchestration_id, type, payload, status, max_attempts, next_run_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.OrchestrationID, job.Type, raw, string(job.Status),
		job.MaxAttempts, job.NextRunAt)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue outbox job: %w", err)
	}
	return job, nil
}

// DueOutboxJobs selects up to limit pending jobs whose next_run_at has
// passed, oldest first. Selection is advisory; the claim is the atomic step.
func (s *Store) DueOutboxJobs(ctx context.Context, limit int) ([]*models.OutboxJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+outboxColumns+`
		FROM orchestration_outbox_jobs
		WHERE status = $1 AND next_run_at <= now()
		ORDER BY created_at ASC
		LIMIT $2`,
		string(models.OutboxPending), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due outbox jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.OutboxJob
	for rows.Next() {
		job, err := scanOutboxJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ClaimOutboxJob attempts the pending -> processing transition for one job.
// The conditional update guarantees exactly one worker observes it; losers
// get ErrConflict and skip silently.
func (s *Store) ClaimOutboxJob(ctx context.Context, jobID, workerID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orchestration_outbox_jobs
		SET status = $3, worker_id = $2, updated_at = now()
		WHERE id = $1 AND status = $4`,
		jobID, workerID, string(models.OutboxProcessing), string(models.OutboxPending))
	if err != nil {
		return fmt.Errorf("failed to claim outbox job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n != 1 {
		return ErrConflict
	}
	return nil
}

// CompleteOutboxJob marks a job terminal-successful.
func (s *Store) CompleteOutboxJob(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orchestration_outbox_jobs
		SET status = $2, worker_id = NULL, updated_at = now()
		WHERE id = $1`,
		jobID, string(models.OutboxCompleted))
	if err != nil {
		return fmt.Errorf("failed to complete outbox job: %w", err)
	}
	return requireOneRow(res, "outbox job", jobID)
}

// RetryOutboxJob returns a job to pending with the given delay and records
// the attempt and error message.
func (s *Store) RetryOutboxJob(ctx context.Context, jobID string, attempts int, delay time.Duration, lastError string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orchestration_outbox_jobs
		SET status = $2, attempts = $3, next_run_at = $4, last_error = $5,
		    worker_id = NULL, updated_at = now()
		WHERE id = $1`,
		jobID, string(models.OutboxPending), attempts, time.Now().Add(delay), lastError)
	if err != nil {
		return fmt.Errorf("failed to requeue outbox job: %w", err)
	}
	return requireOneRow(res, "outbox job", jobID)
}

// FailOutboxJob marks a job terminal-failed after exhausting retries.
func (s *Store) FailOutboxJob(ctx context.Context, jobID string, attempts int, lastError string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orchestration_outbox_jobs
		SET status = $2, attempts = $3, last_error = $4, worker_id = NULL, updated_at = now()
		WHERE id = $1`,
		jobID, string(models.OutboxFailed), attempts, lastError)
	if err != nil {
		return fmt.Errorf("failed to mark outbox job failed: %w", err)
	}
	return requireOneRow(res, "outbox job", jobID)
}

// TakeBackStaleOutboxJobs resets processing jobs whose last update is older
// than staleAfter, recovering jobs owned by dead workers. Attempts are not
// incremented: a takeback is not a failed attempt.
func (s *Store) TakeBackStaleOutboxJobs(ctx context.Context, staleAfter time.Duration) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orchestration_outbox_jobs
		SET status = $1, worker_id = NULL, next_run_at = now(), updated_at = now()
		WHERE status = $2 AND updated_at < $3`,
		string(models.OutboxPending), string(models.OutboxProcessing),
		time.Now().Add(-staleAfter))
	if err != nil {
		return 0, fmt.Errorf("failed to take back stale outbox jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return int(n), nil
}

// GetOutboxJob retrieves a job by id.
func (s *Store) GetOutboxJob(ctx context.Context, jobID string) (*models.OutboxJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+outboxColumns+` FROM orchestration_outbox_jobs WHERE id = $1`, jobID)
	job, err := scanOutboxJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// CountOutboxJobsByStatus returns the queue depth for the given status.
func (s *Store) CountOutboxJobsByStatus(ctx context.Context, status models.OutboxJobStatus) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM orchestration_outbox_jobs WHERE status = $1`,
		string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count outbox jobs: %w", err)
	}
	return n, nil
}

func scanOutboxJob(row rowScanner) (*models.OutboxJob, error) {
	var (
		job       models.OutboxJob
		status    string
		lastError sql.NullString
		workerID  sql.NullString
	)
	err := row.Scan(&job.ID, &job.OrchestrationID, &job.Type, &job.Payload, &status,
		&job.Attempts, &job.MaxAttempts, &job.NextRunAt, &lastError, &workerID,
		&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan outbox job: %w", err)
	}
	job.Status = models.OutboxJobStatus(status)
	job.LastError = stringPtr(lastError)
	job.WorkerID = stringPtr(workerID)
	return &job, nil
}
