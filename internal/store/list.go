package store

import (
	"context"
	"fmt"
	"time"

	"github.com/postpilot/publish-scheduler/internal/domain"
)

// JobFilter narrows a job listing
type JobFilter struct {
	UserID   string
	Platform string
	Status   string
	PageSize int
	Cursor   *JobCursor
}

// JobCursor is the keyset pagination position: the (created_at, job_id)
// of the last job on the previous page
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// ListJobs returns up to PageSize+1 jobs matching the filter, newest
// first. The extra row tells the caller whether a next page exists.
func (s *Store) ListJobs(ctx context.Context, filter JobFilter) ([]domain.ScheduledJob, error) {
	query := `
		SELECT` + jobColumns + `
		FROM scheduled_jobs
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	if filter.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}

	if filter.Platform != "" {
		query += fmt.Sprintf(" AND platform = $%d", argIdx)
		args = append(args, filter.Platform)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	// (created_at, job_id) DESC keeps pagination stable across inserts
	query += " ORDER BY created_at DESC, job_id DESC"

	// Fetch one extra to determine if there are more results
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []domain.ScheduledJob
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}
