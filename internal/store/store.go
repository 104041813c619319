// Package store is the sole owner of the scheduled_jobs table. Every
// state transition is a conditional update keyed on the expected source
// status, so concurrent scanners, executors, and coordinators only ever
// synchronize through the database row itself.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/postpilot/publish-scheduler/internal/domain"
)

// Store handles all database operations on scheduled jobs and publish
// attempts
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// New creates a new Store instance
func New(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

const jobColumns = `
	job_id, user_id, content_item_id, connected_account_id, platform,
	scheduled_at, status, retry_count, claimed_by, claimed_at,
	last_error_code, last_error_message, created_at, updated_at`

// CreateJob inserts a new job in PENDING status
func (s *Store) CreateJob(ctx context.Context, job *domain.ScheduledJob) error {
	query := `
		INSERT INTO scheduled_jobs (
			job_id, user_id, content_item_id, connected_account_id, platform,
			scheduled_at, status, retry_count, created_at, updated_at
		) VALUES (
			:job_id, :user_id, :content_item_id, :connected_account_id, :platform,
			:scheduled_at, :status, :retry_count, :created_at, :updated_at
		)
	`

	if _, err := s.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Info("Job created",
		slog.String("job_id", job.JobID),
		slog.String("platform", string(job.Platform)),
		slog.Time("scheduled_at", job.ScheduledAt),
	)

	return nil
}

// GetJob retrieves a job by its ID
func (s *Store) GetJob(ctx context.Context, jobID string) (*domain.ScheduledJob, error) {
	query := `SELECT` + jobColumns + `
		FROM scheduled_jobs WHERE job_id = $1`

	var job domain.ScheduledJob
	if err := s.db.GetContext(ctx, &job, query, jobID); err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

// ScanDue returns up to batchSize jobs that are claimable at the given
// instant: due PENDING jobs, plus CLAIMED or TRIGGERED jobs whose claim
// is older than ttl. A stale CLAIMED job lost its scanner before the
// broker hand-off; a stale TRIGGERED job lost it right after marking,
// before the request event went out. Both are re-claimed and re-emitted;
// the executor's attempt record makes the re-emission a dedupe no-op if
// the original request did reach the broker. Oldest scheduled_at first,
// so late jobs drain fairly.
func (s *Store) ScanDue(ctx context.Context, now time.Time, ttl time.Duration, batchSize int) ([]domain.ScheduledJob, error) {
	query := `
		SELECT` + jobColumns + `
		FROM scheduled_jobs
		WHERE (status = $1 AND scheduled_at <= $2)
		   OR (status IN ($3, $4) AND claimed_at < $5)
		ORDER BY scheduled_at ASC
		LIMIT $6
	`

	cutoff := now.Add(-ttl)

	var jobs []domain.ScheduledJob
	err := s.db.SelectContext(ctx, &jobs, query,
		domain.JobStatusPending, now,
		domain.JobStatusClaimed, domain.JobStatusTriggered, cutoff, batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to scan due jobs: %w", err)
	}

	return jobs, nil
}

// ClaimJob attempts to claim a job for this worker. The update matches
// only if the row is still PENDING and due, or CLAIMED/TRIGGERED with an
// expired claim, so exactly one of any number of racing scanners wins
// and a job re-armed for a later instant between scan and claim is left
// alone. Losing the race returns ErrClaimLost.
func (s *Store) ClaimJob(ctx context.Context, jobID, workerID string, now time.Time, ttl time.Duration) (*domain.ScheduledJob, error) {
	query := `
		UPDATE scheduled_jobs
		SET status = $1,
		    claimed_by = $2,
		    claimed_at = $3,
		    updated_at = $3
		WHERE job_id = $4
		  AND ((status = $5 AND scheduled_at <= $3)
		       OR (status IN ($1, $6) AND claimed_at < $7))
		RETURNING` + jobColumns

	cutoff := now.Add(-ttl)

	var job domain.ScheduledJob
	err := s.db.GetContext(ctx, &job, query,
		domain.JobStatusClaimed, workerID, now, jobID,
		domain.JobStatusPending, domain.JobStatusTriggered, cutoff)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrClaimLost
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	s.logger.Info("Job claimed",
		slog.String("job_id", jobID),
		slog.String("claimed_by", workerID),
		slog.Int("retry_count", job.RetryCount),
	)

	return &job, nil
}

// MarkTriggered moves a job this worker claimed to TRIGGERED, recording
// that a publish request was handed to the broker
func (s *Store) MarkTriggered(ctx context.Context, jobID, workerID string) error {
	query := `
		UPDATE scheduled_jobs
		SET status = $1, updated_at = NOW()
		WHERE job_id = $2 AND status = $3 AND claimed_by = $4
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.JobStatusTriggered, jobID, domain.JobStatusClaimed, workerID)
	if err != nil {
		return fmt.Errorf("failed to mark job triggered: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrStaleTransition
	}

	return nil
}

// ReleaseClaim returns a job this worker holds to PENDING after broker
// hand-off failed, clearing the claim so the next scan retries it
// immediately instead of waiting out the claim TTL.
func (s *Store) ReleaseClaim(ctx context.Context, jobID, workerID string) error {
	query := `
		UPDATE scheduled_jobs
		SET status = $1,
		    claimed_by = NULL,
		    claimed_at = NULL,
		    updated_at = NOW()
		WHERE job_id = $2 AND status IN ($3, $4) AND claimed_by = $5
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.JobStatusPending, jobID, domain.JobStatusClaimed, domain.JobStatusTriggered, workerID)
	if err != nil {
		return fmt.Errorf("failed to release claim: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrStaleTransition
	}

	s.logger.Warn("Claim released after hand-off failure",
		slog.String("job_id", jobID),
		slog.String("claimed_by", workerID),
	)

	return nil
}

// RecordOutcome moves a TRIGGERED job to SUCCEEDED or FAILED. The
// conditional source status makes redundant outcome updates (duplicate
// deliveries) no-ops rather than overwrites.
func (s *Store) RecordOutcome(ctx context.Context, jobID, status, errorCode, errorMessage string) error {
	if status != domain.JobStatusSucceeded && status != domain.JobStatusFailed {
		return fmt.Errorf("invalid outcome status %q", status)
	}

	query := `
		UPDATE scheduled_jobs
		SET status = $1,
		    last_error_code = NULLIF($2, ''),
		    last_error_message = NULLIF($3, ''),
		    updated_at = NOW()
		WHERE job_id = $4 AND status = $5
	`

	result, err := s.db.ExecContext(ctx, query,
		status, errorCode, errorMessage, jobID, domain.JobStatusTriggered)
	if err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrStaleTransition
	}

	s.logger.Info("Job outcome recorded",
		slog.String("job_id", jobID),
		slog.String("status", status),
	)

	return nil
}

// RearmForRetry moves a FAILED job back to PENDING for another attempt
// at nextAttemptAt. The retry_count guard in the WHERE clause is the
// hard ceiling: once retry_count reaches maxRetries no statement can
// re-arm the job, regardless of how many coordinators race on the same
// failure event.
func (s *Store) RearmForRetry(ctx context.Context, jobID string, nextAttemptAt time.Time, maxRetries int) (*domain.ScheduledJob, error) {
	query := `
		UPDATE scheduled_jobs
		SET status = $1,
		    retry_count = retry_count + 1,
		    scheduled_at = $2,
		    claimed_by = NULL,
		    claimed_at = NULL,
		    updated_at = NOW()
		WHERE job_id = $3 AND status = $4 AND retry_count < $5
		RETURNING` + jobColumns

	var job domain.ScheduledJob
	err := s.db.GetContext(ctx, &job, query,
		domain.JobStatusPending, nextAttemptAt, jobID, domain.JobStatusFailed, maxRetries)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrRetriesExhausted
		}
		return nil, fmt.Errorf("failed to re-arm job for retry: %w", err)
	}

	s.logger.Info("Job re-armed for retry",
		slog.String("job_id", jobID),
		slog.Int("retry_count", job.RetryCount),
		slog.Time("next_attempt_at", nextAttemptAt),
	)

	return &job, nil
}
