// Package retrier turns publish.failed outcomes into either a scheduled
// retry (re-arming the job store) or a terminal failure. It is one
// consumer group among the outcome fan-out and never gates the others.
package retrier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/postpilot/publish-scheduler/internal/domain"
	"github.com/postpilot/publish-scheduler/internal/event"
)

// JobStore is the slice of the store the coordinator needs
type JobStore interface {
	RearmForRetry(ctx context.Context, jobID string, nextAttemptAt time.Time, maxRetries int) (*domain.ScheduledJob, error)
}

// EventEmitter emits the coordinator's trace events
type EventEmitter interface {
	Emit(ctx context.Context, topic, causationID string, payload any) (string, error)
}

// Coordinator consumes publish.failed and decides retry vs terminal
type Coordinator struct {
	store   JobStore
	emitter EventEmitter
	policy  Policy
	logger  *slog.Logger
	clock   func() time.Time
}

// NewCoordinator creates a retry coordinator with the given policy
func NewCoordinator(store JobStore, emitter EventEmitter, policy Policy, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:   store,
		emitter: emitter,
		policy:  policy,
		logger:  logger,
		clock:   time.Now,
	}
}

// HandlePublishFailed is the dispatch handler for publish.failed
func (c *Coordinator) HandlePublishFailed(ctx context.Context, env *event.Envelope) error {
	var failed event.PublishFailed
	if err := env.Decode(&failed); err != nil {
		return err
	}
	if failed.JobID == "" {
		return domain.NewPermanentError(domain.ErrCodeMalformedRequest,
			fmt.Errorf("publish.failed event %s missing job_id", env.EventID))
	}

	if !failed.Transient {
		c.logger.Warn("Permanent publish failure, job is terminal",
			slog.String("job_id", failed.JobID),
			slog.String("error_code", failed.ErrorCode),
			slog.Int("attempt", failed.Attempt),
		)
		return nil
	}

	now := c.clock()
	nextAttemptAt := c.policy.NextAttemptAt(now, failed.Attempt)

	job, err := c.store.RearmForRetry(ctx, failed.JobID, nextAttemptAt, c.policy.MaxRetries)
	if err != nil {
		if errors.Is(err, domain.ErrRetriesExhausted) {
			// Either the ceiling is reached or a duplicate failure event
			// raced an earlier re-arm; both are safe to drop.
			c.logger.Warn("Retries exhausted, job is terminal",
				slog.String("job_id", failed.JobID),
				slog.String("error_code", failed.ErrorCode),
				slog.Int("max_retries", c.policy.MaxRetries),
			)
			return nil
		}
		return fmt.Errorf("failed to re-arm job %s: %w", failed.JobID, err)
	}

	c.logger.Info("Transient failure, retry scheduled",
		slog.String("job_id", failed.JobID),
		slog.String("error_code", failed.ErrorCode),
		slog.Int("retry_count", job.RetryCount),
		slog.Time("next_attempt_at", nextAttemptAt),
	)

	// Trace event only; the store re-arm above is the authoritative path
	// and the scanner picks the job up from there.
	retryEvent := event.PublishRetryRequested{
		JobID:         failed.JobID,
		Attempt:       job.RetryCount,
		NextAttemptAt: nextAttemptAt,
	}
	if _, err := c.emitter.Emit(ctx, event.TopicPublishRetryRequested, env.EventID, retryEvent); err != nil {
		c.logger.Error("Failed to emit retry trace event",
			slog.String("job_id", failed.JobID),
			slog.Any("error", err),
		)
	}

	return nil
}
