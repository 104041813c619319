package handler

import (
	"context"
	"log/slog"

	"github.com/postpilot/publish-scheduler/internal/api/dto"
	"github.com/postpilot/publish-scheduler/internal/domain"
	"github.com/postpilot/publish-scheduler/internal/store"
)

// JobStore is the slice of the store the handlers need
type JobStore interface {
	CreateJob(ctx context.Context, job *domain.ScheduledJob) error
	GetJob(ctx context.Context, jobID string) (*domain.ScheduledJob, error)
	ListJobs(ctx context.Context, filter store.JobFilter) ([]domain.ScheduledJob, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger *slog.Logger
	Store  JobStore
}

// SchedulerHandler handles scheduling HTTP requests
type SchedulerHandler struct {
	logger *slog.Logger
	store  JobStore
}

// NewSchedulerHandler creates a new SchedulerHandler instance
func NewSchedulerHandler(deps *Dependencies) *SchedulerHandler {
	return &SchedulerHandler{
		logger: deps.Logger,
		store:  deps.Store,
	}
}

func toJobDTO(job *domain.ScheduledJob) dto.JobDTO {
	out := dto.JobDTO{
		JobID:              job.JobID,
		UserID:             job.UserID,
		ContentItemID:      job.ContentItemID,
		ConnectedAccountID: job.ConnectedAccountID,
		Platform:           string(job.Platform),
		ScheduledAt:        job.ScheduledAt.Format(timeFormat),
		Status:             job.Status,
		RetryCount:         job.RetryCount,
		CreatedAt:          job.CreatedAt.Format(timeFormat),
		UpdatedAt:          job.UpdatedAt.Format(timeFormat),
	}
	if job.LastErrorCode.Valid {
		out.ErrorCode = job.LastErrorCode.String
	}
	if job.LastErrorMessage.Valid {
		out.ErrorMessage = job.LastErrorMessage.String
	}
	return out
}
