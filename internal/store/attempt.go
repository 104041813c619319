package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/postpilot/publish-scheduler/internal/domain"
)

// BeginAttempt records that this consumer is about to perform the
// external call for the given (job, platform, attempt) key. The insert
// is ON CONFLICT DO NOTHING: a redelivered request event finds the row
// already present and gets ErrDuplicateAttempt together with whatever
// the first consumer recorded, so no second platform call is made.
func (s *Store) BeginAttempt(ctx context.Context, jobID string, platform domain.Platform, attempt int, now time.Time) (*domain.PublishAttempt, error) {
	insert := `
		INSERT INTO publish_attempts (job_id, platform, attempt, attempted_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (job_id, platform, attempt) DO NOTHING
	`

	result, err := s.db.ExecContext(ctx, insert, jobID, platform, attempt, now)
	if err != nil {
		return nil, fmt.Errorf("failed to begin publish attempt: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows > 0 {
		// Fresh attempt, this consumer owns the external call
		return nil, nil
	}

	existing, err := s.getAttempt(ctx, jobID, platform, attempt)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Duplicate publish request detected, no external call",
		slog.String("job_id", jobID),
		slog.String("platform", string(platform)),
		slog.Int("attempt", attempt),
		slog.Bool("outcome_recorded", existing.Outcome.Valid),
	)

	return existing, domain.ErrDuplicateAttempt
}

// ReclaimAttempt takes over an attempt whose holder recorded no outcome
// within the dedupe window, presumably because it crashed mid-call. The
// conditional update makes exactly one redelivery consumer the new
// holder. Returns ErrDuplicateAttempt when the record is fresh or
// already resolved.
func (s *Store) ReclaimAttempt(ctx context.Context, jobID string, platform domain.Platform, attempt int, now time.Time, window time.Duration) error {
	query := `
		UPDATE publish_attempts
		SET attempted_at = $1
		WHERE job_id = $2 AND platform = $3 AND attempt = $4
		  AND outcome IS NULL AND attempted_at < $5
	`

	cutoff := now.Add(-window)

	result, err := s.db.ExecContext(ctx, query, now, jobID, platform, attempt, cutoff)
	if err != nil {
		return fmt.Errorf("failed to reclaim publish attempt: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrDuplicateAttempt
	}

	s.logger.Warn("Stale publish attempt reclaimed",
		slog.String("job_id", jobID),
		slog.String("platform", string(platform)),
		slog.Int("attempt", attempt),
	)

	return nil
}

// CompleteAttempt records the outcome of an attempt this consumer began.
// For failures the transient classification is persisted alongside the
// error code, so a replay of the record carries the same class the
// original call was given; on success the classification stays NULL.
func (s *Store) CompleteAttempt(ctx context.Context, jobID string, platform domain.Platform, attempt int, outcome, platformPostID, permalink, errorCode string, errorTransient bool) error {
	query := `
		UPDATE publish_attempts
		SET outcome = $1,
		    platform_post_id = NULLIF($2, ''),
		    permalink = NULLIF($3, ''),
		    error_code = NULLIF($4, ''),
		    error_transient = CASE WHEN NULLIF($4, '') IS NULL THEN NULL ELSE $5 END
		WHERE job_id = $6 AND platform = $7 AND attempt = $8
	`

	_, err := s.db.ExecContext(ctx, query,
		outcome, platformPostID, permalink, errorCode, errorTransient, jobID, platform, attempt)
	if err != nil {
		return fmt.Errorf("failed to complete publish attempt: %w", err)
	}

	return nil
}

func (s *Store) getAttempt(ctx context.Context, jobID string, platform domain.Platform, attempt int) (*domain.PublishAttempt, error) {
	query := `
		SELECT job_id, platform, attempt, outcome,
		       platform_post_id, permalink, error_code, error_transient, attempted_at
		FROM publish_attempts
		WHERE job_id = $1 AND platform = $2 AND attempt = $3
	`

	var rec domain.PublishAttempt
	if err := s.db.GetContext(ctx, &rec, query, jobID, platform, attempt); err != nil {
		if err == sql.ErrNoRows {
			// Insert conflicted but the row is gone: treat as fresh loss,
			// the redelivery will resolve on the next delivery
			return nil, fmt.Errorf("attempt record vanished for job %s: %w", jobID, err)
		}
		return nil, fmt.Errorf("failed to get publish attempt: %w", err)
	}

	return &rec, nil
}
