// Package reactor holds the best-effort downstream consumers of publish
// outcomes: the analytics ingest trigger and the notification
// dispatcher. They emit follow-on request events for external services
// and never touch the job store, so their failures cannot affect the
// saga.
package reactor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/postpilot/publish-scheduler/internal/event"
)

// EventEmitter publishes follow-on request events
type EventEmitter interface {
	Emit(ctx context.Context, topic, causationID string, payload any) (string, error)
}

// AnalyticsTrigger reacts to successful publishes by requesting
// analytics ingestion for the new platform post
type AnalyticsTrigger struct {
	emitter EventEmitter
	logger  *slog.Logger
}

// NewAnalyticsTrigger creates the analytics reactor
func NewAnalyticsTrigger(emitter EventEmitter, logger *slog.Logger) *AnalyticsTrigger {
	return &AnalyticsTrigger{
		emitter: emitter,
		logger:  logger,
	}
}

// HandlePublishSucceeded is the dispatch handler for publish.succeeded
func (a *AnalyticsTrigger) HandlePublishSucceeded(ctx context.Context, env *event.Envelope) error {
	var succeeded event.PublishSucceeded
	if err := env.Decode(&succeeded); err != nil {
		return err
	}

	ingest := event.AnalyticsIngestRequested{
		JobID:          succeeded.JobID,
		UserID:         succeeded.UserID,
		Platform:       succeeded.Platform,
		PlatformPostID: succeeded.PlatformPostID,
	}

	eventID, err := a.emitter.Emit(ctx, event.TopicAnalyticsIngest, env.EventID, ingest)
	if err != nil {
		return fmt.Errorf("failed to request analytics ingest for job %s: %w", succeeded.JobID, err)
	}

	a.logger.Info("Analytics ingest requested",
		slog.String("job_id", succeeded.JobID),
		slog.String("platform_post_id", succeeded.PlatformPostID),
		slog.String("event_id", eventID),
	)

	return nil
}

// NotificationDispatcher reacts to both publish outcomes by requesting a
// user-facing notification
type NotificationDispatcher struct {
	emitter EventEmitter
	logger  *slog.Logger
}

// NewNotificationDispatcher creates the notification reactor
func NewNotificationDispatcher(emitter EventEmitter, logger *slog.Logger) *NotificationDispatcher {
	return &NotificationDispatcher{
		emitter: emitter,
		logger:  logger,
	}
}

// HandlePublishSucceeded is the dispatch handler for publish.succeeded
func (n *NotificationDispatcher) HandlePublishSucceeded(ctx context.Context, env *event.Envelope) error {
	var succeeded event.PublishSucceeded
	if err := env.Decode(&succeeded); err != nil {
		return err
	}

	send := event.NotificationSendRequested{
		UserID:    succeeded.UserID,
		EventType: event.NotificationPublishSucceeded,
		Metadata: map[string]string{
			"job_id":    succeeded.JobID,
			"platform":  string(succeeded.Platform),
			"permalink": succeeded.Permalink,
		},
	}

	return n.send(ctx, env.EventID, succeeded.JobID, send)
}

// HandlePublishFailed is the dispatch handler for publish.failed
func (n *NotificationDispatcher) HandlePublishFailed(ctx context.Context, env *event.Envelope) error {
	var failed event.PublishFailed
	if err := env.Decode(&failed); err != nil {
		return err
	}

	send := event.NotificationSendRequested{
		UserID:    failed.UserID,
		EventType: event.NotificationPublishFailed,
		Metadata: map[string]string{
			"job_id":     failed.JobID,
			"platform":   string(failed.Platform),
			"error_code": failed.ErrorCode,
			"message":    failed.Message,
		},
	}

	return n.send(ctx, env.EventID, failed.JobID, send)
}

func (n *NotificationDispatcher) send(ctx context.Context, causationID, jobID string, send event.NotificationSendRequested) error {
	eventID, err := n.emitter.Emit(ctx, event.TopicNotificationSend, causationID, send)
	if err != nil {
		return fmt.Errorf("failed to request notification for job %s: %w", jobID, err)
	}

	n.logger.Info("Notification requested",
		slog.String("job_id", jobID),
		slog.String("event_type", send.EventType),
		slog.String("event_id", eventID),
	)

	return nil
}
