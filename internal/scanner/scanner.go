// Package scanner polls the job store for due jobs on a fixed interval,
// claims each one conditionally, and hands claimed jobs to the broker as
// publish.requested events. Any number of scanner instances may run
// concurrently; the store's conditional claim is the only coordination.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/postpilot/publish-scheduler/internal/domain"
	"github.com/postpilot/publish-scheduler/internal/event"
)

// JobStore is the slice of the store the scanner needs
type JobStore interface {
	ScanDue(ctx context.Context, now time.Time, ttl time.Duration, batchSize int) ([]domain.ScheduledJob, error)
	ClaimJob(ctx context.Context, jobID, workerID string, now time.Time, ttl time.Duration) (*domain.ScheduledJob, error)
	MarkTriggered(ctx context.Context, jobID, workerID string) error
	ReleaseClaim(ctx context.Context, jobID, workerID string) error
}

// EventEmitter publishes events to the broker
type EventEmitter interface {
	Emit(ctx context.Context, topic, causationID string, payload any) (string, error)
}

// Config holds scanner configuration
type Config struct {
	WorkerID     string
	ScanInterval time.Duration
	BatchSize    int
	ClaimTTL     time.Duration
}

// Scanner is the trigger scanner plus the publish request emitter
type Scanner struct {
	cfg     Config
	store   JobStore
	emitter EventEmitter
	logger  *slog.Logger
	clock   func() time.Time
}

// New creates a scanner instance
func New(cfg Config, store JobStore, emitter EventEmitter, logger *slog.Logger) *Scanner {
	return &Scanner{
		cfg:     cfg,
		store:   store,
		emitter: emitter,
		logger:  logger,
		clock:   time.Now,
	}
}

// Run polls until ctx is canceled. A failed cycle is logged and the next
// tick retries; store connectivity problems never corrupt claim state
// because every claim is a single conditional statement.
func (s *Scanner) Run(ctx context.Context) error {
	s.logger.Info("Trigger scanner started",
		slog.String("worker_id", s.cfg.WorkerID),
		slog.Duration("scan_interval", s.cfg.ScanInterval),
		slog.Int("batch_size", s.cfg.BatchSize),
		slog.Duration("claim_ttl", s.cfg.ClaimTTL),
	)

	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Trigger scanner stopped")
			return nil
		case <-ticker.C:
			if err := s.ScanAndClaim(ctx); err != nil {
				s.logger.Error("Scan cycle failed",
					slog.Any("error", err),
				)
			}
		}
	}
}

// ScanAndClaim runs one scan cycle: select due jobs oldest first, then
// claim and trigger each one. Claim losses are skipped silently.
func (s *Scanner) ScanAndClaim(ctx context.Context) error {
	now := s.clock()

	due, err := s.store.ScanDue(ctx, now, s.cfg.ClaimTTL, s.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to scan due jobs: %w", err)
	}

	if len(due) == 0 {
		return nil
	}

	s.logger.Debug("Due jobs found",
		slog.Int("count", len(due)),
	)

	for _, candidate := range due {
		job, err := s.store.ClaimJob(ctx, candidate.JobID, s.cfg.WorkerID, now, s.cfg.ClaimTTL)
		if err != nil {
			if errors.Is(err, domain.ErrClaimLost) {
				// Another scanner won; not a failure
				continue
			}
			return fmt.Errorf("failed to claim job %s: %w", candidate.JobID, err)
		}

		if err := s.trigger(ctx, job); err != nil {
			s.logger.Error("Failed to trigger claimed job",
				slog.String("job_id", job.JobID),
				slog.Any("error", err),
			)
		}
	}

	return nil
}

// trigger marks the claimed job TRIGGERED and emits publish.requested.
// If broker hand-off fails after all publish retries, the claim is
// released so the next scan picks the job up again; the claim TTL
// covers a crash between the two steps.
func (s *Scanner) trigger(ctx context.Context, job *domain.ScheduledJob) error {
	if err := s.store.MarkTriggered(ctx, job.JobID, s.cfg.WorkerID); err != nil {
		return fmt.Errorf("failed to mark job triggered: %w", err)
	}

	request := event.PublishRequested{
		JobID:              job.JobID,
		UserID:             job.UserID,
		ContentItemID:      job.ContentItemID,
		ConnectedAccountID: job.ConnectedAccountID,
		Platform:           job.Platform,
		Attempt:            job.RetryCount,
	}

	eventID, err := s.emitter.Emit(ctx, event.TopicPublishRequested, "", request)
	if err != nil {
		if releaseErr := s.store.ReleaseClaim(ctx, job.JobID, s.cfg.WorkerID); releaseErr != nil {
			s.logger.Error("Failed to release claim after emission failure",
				slog.String("job_id", job.JobID),
				slog.Any("error", releaseErr),
			)
		}
		return fmt.Errorf("failed to emit publish request: %w", err)
	}

	s.logger.Info("Publish request emitted",
		slog.String("job_id", job.JobID),
		slog.String("event_id", eventID),
		slog.String("platform", string(job.Platform)),
		slog.Int("attempt", job.RetryCount),
	)

	return nil
}
