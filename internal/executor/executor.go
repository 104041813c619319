// Package executor consumes publish.requested events, performs the
// external platform call exactly once per attempt, and emits the
// outcome. Broker redelivery is expected; the attempt record keyed on
// (job, platform, attempt) is what keeps the external side effect
// single.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/postpilot/publish-scheduler/internal/domain"
	"github.com/postpilot/publish-scheduler/internal/event"
	"github.com/postpilot/publish-scheduler/internal/platform"
)

// JobStore is the slice of the store the executor needs
type JobStore interface {
	BeginAttempt(ctx context.Context, jobID string, p domain.Platform, attempt int, now time.Time) (*domain.PublishAttempt, error)
	ReclaimAttempt(ctx context.Context, jobID string, p domain.Platform, attempt int, now time.Time, window time.Duration) error
	CompleteAttempt(ctx context.Context, jobID string, p domain.Platform, attempt int, outcome, platformPostID, permalink, errorCode string, errorTransient bool) error
	RecordOutcome(ctx context.Context, jobID, status, errorCode, errorMessage string) error
}

// EventEmitter publishes outcome events to the broker
type EventEmitter interface {
	Emit(ctx context.Context, topic, causationID string, payload any) (string, error)
}

// Config holds executor configuration
type Config struct {
	PublishTimeout time.Duration
	DedupeWindow   time.Duration
}

// Executor performs publish attempts
type Executor struct {
	cfg      Config
	store    JobStore
	registry *platform.Registry
	content  platform.ContentFetcher
	emitter  EventEmitter
	logger   *slog.Logger
	clock    func() time.Time
}

// New creates an executor
func New(cfg Config, store JobStore, registry *platform.Registry, content platform.ContentFetcher, emitter EventEmitter, logger *slog.Logger) *Executor {
	return &Executor{
		cfg:      cfg,
		store:    store,
		registry: registry,
		content:  content,
		emitter:  emitter,
		logger:   logger,
		clock:    time.Now,
	}
}

// HandlePublishRequested is the dispatch handler for publish.requested
func (e *Executor) HandlePublishRequested(ctx context.Context, env *event.Envelope) error {
	var req event.PublishRequested
	if err := env.Decode(&req); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return domain.NewPermanentError(domain.ErrCodeMalformedRequest, err)
	}

	now := e.clock()

	existing, err := e.store.BeginAttempt(ctx, req.JobID, req.Platform, req.Attempt, now)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateAttempt) {
			return e.resolveDuplicate(ctx, env, &req, existing, now)
		}
		return fmt.Errorf("failed to begin attempt for job %s: %w", req.JobID, err)
	}

	result, callErr := e.performCall(ctx, &req)
	if callErr != nil {
		return e.recordFailure(ctx, env, &req, callErr)
	}
	return e.recordSuccess(ctx, env, &req, result)
}

// performCall resolves the content and makes the bounded platform call
func (e *Executor) performCall(ctx context.Context, req *event.PublishRequested) (*platform.PostResult, error) {
	pub, err := e.registry.Lookup(req.Platform)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, e.cfg.PublishTimeout)
	defer cancel()

	content, err := e.content.Fetch(callCtx, req.ContentItemID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, domain.NewTransientError(domain.ErrCodeTimeout, err)
		}
		if domain.IsTransient(err) && domain.ErrorCode(err) == domain.ErrCodeInternal {
			return nil, domain.NewTransientError(domain.ErrCodeAssetFetch, err)
		}
		return nil, err
	}

	result, err := pub.Publish(callCtx, &platform.PublishRequest{
		JobID:              req.JobID,
		UserID:             req.UserID,
		ContentItemID:      req.ContentItemID,
		ConnectedAccountID: req.ConnectedAccountID,
		Platform:           req.Platform,
		Content:            content,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, domain.NewTransientError(domain.ErrCodeTimeout, err)
		}
		return nil, err
	}

	return result, nil
}

// recordSuccess completes the attempt, moves the job to SUCCEEDED, and
// emits publish.succeeded caused by the consumed request event
func (e *Executor) recordSuccess(ctx context.Context, env *event.Envelope, req *event.PublishRequested, result *platform.PostResult) error {
	if err := e.store.CompleteAttempt(ctx, req.JobID, req.Platform, req.Attempt,
		domain.AttemptOutcomeSucceeded, result.PlatformPostID, result.Permalink, "", false); err != nil {
		return fmt.Errorf("failed to complete attempt for job %s: %w", req.JobID, err)
	}

	if err := e.store.RecordOutcome(ctx, req.JobID, domain.JobStatusSucceeded, "", ""); err != nil {
		if !errors.Is(err, domain.ErrStaleTransition) {
			return fmt.Errorf("failed to record success for job %s: %w", req.JobID, err)
		}
	}

	succeeded := event.PublishSucceeded{
		JobID:          req.JobID,
		UserID:         req.UserID,
		Platform:       req.Platform,
		PlatformPostID: result.PlatformPostID,
		Permalink:      result.Permalink,
		PublishedAt:    result.PublishedAt,
	}
	if _, err := e.emitter.Emit(ctx, event.TopicPublishSucceeded, env.EventID, succeeded); err != nil {
		// The outcome is durable in the attempt record; a redelivery of
		// the request will re-emit from there
		return fmt.Errorf("failed to emit publish.succeeded for job %s: %w", req.JobID, err)
	}

	e.logger.Info("Publish succeeded",
		slog.String("job_id", req.JobID),
		slog.String("platform", string(req.Platform)),
		slog.String("platform_post_id", result.PlatformPostID),
		slog.Int("attempt", req.Attempt),
	)

	return nil
}

// recordFailure completes the attempt, moves the job to FAILED, and
// emits publish.failed with the transient/permanent classification
func (e *Executor) recordFailure(ctx context.Context, env *event.Envelope, req *event.PublishRequested, callErr error) error {
	code := domain.ErrorCode(callErr)
	transient := domain.IsTransient(callErr)

	if err := e.store.CompleteAttempt(ctx, req.JobID, req.Platform, req.Attempt,
		domain.AttemptOutcomeFailed, "", "", code, transient); err != nil {
		return fmt.Errorf("failed to complete attempt for job %s: %w", req.JobID, err)
	}

	if err := e.store.RecordOutcome(ctx, req.JobID, domain.JobStatusFailed, code, callErr.Error()); err != nil {
		if !errors.Is(err, domain.ErrStaleTransition) {
			return fmt.Errorf("failed to record failure for job %s: %w", req.JobID, err)
		}
	}

	failed := event.PublishFailed{
		JobID:     req.JobID,
		UserID:    req.UserID,
		Platform:  req.Platform,
		Attempt:   req.Attempt,
		ErrorCode: code,
		Message:   callErr.Error(),
		Transient: transient,
	}
	if _, err := e.emitter.Emit(ctx, event.TopicPublishFailed, env.EventID, failed); err != nil {
		return fmt.Errorf("failed to emit publish.failed for job %s: %w", req.JobID, err)
	}

	e.logger.Warn("Publish failed",
		slog.String("job_id", req.JobID),
		slog.String("platform", string(req.Platform)),
		slog.String("error_code", code),
		slog.Bool("transient", transient),
		slog.Int("attempt", req.Attempt),
	)

	// The failure is recorded and emitted; the delivery itself is done
	return nil
}

// resolveDuplicate handles a redelivered request without a new external
// call. A recorded outcome is replayed so downstream consumers still see
// it even if the first holder crashed before emitting; an unresolved
// attempt inside the dedupe window is a no-op, outside the window this
// consumer takes the attempt over and retries the call.
func (e *Executor) resolveDuplicate(ctx context.Context, env *event.Envelope, req *event.PublishRequested, existing *domain.PublishAttempt, now time.Time) error {
	if existing != nil && existing.Outcome.Valid {
		return e.replayOutcome(ctx, env, req, existing)
	}

	err := e.store.ReclaimAttempt(ctx, req.JobID, req.Platform, req.Attempt, now, e.cfg.DedupeWindow)
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateAttempt) {
			// Still in flight with another consumer; nothing to do
			e.logger.Info("Duplicate request still in flight, ignoring",
				slog.String("job_id", req.JobID),
				slog.Int("attempt", req.Attempt),
			)
			return nil
		}
		return fmt.Errorf("failed to reclaim attempt for job %s: %w", req.JobID, err)
	}

	result, callErr := e.performCall(ctx, req)
	if callErr != nil {
		return e.recordFailure(ctx, env, req, callErr)
	}
	return e.recordSuccess(ctx, env, req, result)
}

// replayOutcome re-emits the recorded outcome of an already-resolved
// attempt and applies it to the job row in case the first holder died
// between recording and emitting
func (e *Executor) replayOutcome(ctx context.Context, env *event.Envelope, req *event.PublishRequested, rec *domain.PublishAttempt) error {
	switch rec.Outcome.String {
	case domain.AttemptOutcomeSucceeded:
		if err := e.store.RecordOutcome(ctx, req.JobID, domain.JobStatusSucceeded, "", ""); err != nil && !errors.Is(err, domain.ErrStaleTransition) {
			return fmt.Errorf("failed to replay success for job %s: %w", req.JobID, err)
		}

		succeeded := event.PublishSucceeded{
			JobID:          req.JobID,
			UserID:         req.UserID,
			Platform:       req.Platform,
			PlatformPostID: rec.PlatformPostID.String,
			Permalink:      rec.Permalink.String,
			PublishedAt:    rec.AttemptedAt,
		}
		if _, err := e.emitter.Emit(ctx, event.TopicPublishSucceeded, env.EventID, succeeded); err != nil {
			return fmt.Errorf("failed to re-emit publish.succeeded for job %s: %w", req.JobID, err)
		}

	case domain.AttemptOutcomeFailed:
		code := rec.ErrorCode.String
		if err := e.store.RecordOutcome(ctx, req.JobID, domain.JobStatusFailed, code, "replayed from attempt record"); err != nil && !errors.Is(err, domain.ErrStaleTransition) {
			return fmt.Errorf("failed to replay failure for job %s: %w", req.JobID, err)
		}

		// The original call's classification rides on the record; a record
		// without one retries like any unclassified failure
		transient := true
		if rec.ErrorTransient.Valid {
			transient = rec.ErrorTransient.Bool
		}

		failed := event.PublishFailed{
			JobID:     req.JobID,
			UserID:    req.UserID,
			Platform:  req.Platform,
			Attempt:   req.Attempt,
			ErrorCode: code,
			Message:   "replayed from attempt record",
			Transient: transient,
		}
		if _, err := e.emitter.Emit(ctx, event.TopicPublishFailed, env.EventID, failed); err != nil {
			return fmt.Errorf("failed to re-emit publish.failed for job %s: %w", req.JobID, err)
		}

	default:
		return domain.NewPermanentError(domain.ErrCodeInternal,
			fmt.Errorf("attempt record for job %s has unknown outcome %q", req.JobID, rec.Outcome.String))
	}

	e.logger.Info("Recorded outcome replayed for duplicate request",
		slog.String("job_id", req.JobID),
		slog.String("outcome", rec.Outcome.String),
		slog.Int("attempt", req.Attempt),
	)

	return nil
}
