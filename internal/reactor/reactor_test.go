package reactor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/postpilot/publish-scheduler/internal/domain"
	"github.com/postpilot/publish-scheduler/internal/event"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordedEvent struct {
	topic       string
	causationID string
	payload     any
}

type fakeEmitter struct {
	events []recordedEvent
	err    error
}

func (f *fakeEmitter) Emit(ctx context.Context, topic, causationID string, payload any) (string, error) {
	f.events = append(f.events, recordedEvent{topic: topic, causationID: causationID, payload: payload})
	if f.err != nil {
		return "", f.err
	}
	return "emitted-id", nil
}

func envelope(t *testing.T, eventID string, payload any) *event.Envelope {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return &event.Envelope{
		EventID:    eventID,
		OccurredAt: time.Now().UTC(),
		Payload:    body,
	}
}

func TestAnalyticsTrigger_HandlePublishSucceeded(t *testing.T) {
	emitter := &fakeEmitter{}
	a := NewAnalyticsTrigger(emitter, testLogger())

	env := envelope(t, "success-event-id", event.PublishSucceeded{
		JobID:          "job-1",
		UserID:         "user-1",
		Platform:       domain.PlatformInstagram,
		PlatformPostID: "ig-42",
	})

	require.NoError(t, a.HandlePublishSucceeded(context.Background(), env))

	require.Len(t, emitter.events, 1)
	assert.Equal(t, event.TopicAnalyticsIngest, emitter.events[0].topic)
	assert.Equal(t, "success-event-id", emitter.events[0].causationID)

	ingest, ok := emitter.events[0].payload.(event.AnalyticsIngestRequested)
	require.True(t, ok)
	assert.Equal(t, "job-1", ingest.JobID)
	assert.Equal(t, "ig-42", ingest.PlatformPostID)
	assert.Equal(t, domain.PlatformInstagram, ingest.Platform)
}

func TestAnalyticsTrigger_EmitFailure(t *testing.T) {
	emitter := &fakeEmitter{err: errors.New("broker down")}
	a := NewAnalyticsTrigger(emitter, testLogger())

	env := envelope(t, "success-event-id", event.PublishSucceeded{JobID: "job-1"})

	err := a.HandlePublishSucceeded(context.Background(), env)
	require.Error(t, err)
	// Requeue and retry; analytics ingest is at-least-once too
	assert.True(t, domain.IsTransient(err))
}

func TestNotificationDispatcher_HandlePublishSucceeded(t *testing.T) {
	emitter := &fakeEmitter{}
	n := NewNotificationDispatcher(emitter, testLogger())

	env := envelope(t, "success-event-id", event.PublishSucceeded{
		JobID:     "job-1",
		UserID:    "user-1",
		Platform:  domain.PlatformLinkedIn,
		Permalink: "https://linkedin.com/posts/li-123",
	})

	require.NoError(t, n.HandlePublishSucceeded(context.Background(), env))

	require.Len(t, emitter.events, 1)
	assert.Equal(t, event.TopicNotificationSend, emitter.events[0].topic)
	assert.Equal(t, "success-event-id", emitter.events[0].causationID)

	send, ok := emitter.events[0].payload.(event.NotificationSendRequested)
	require.True(t, ok)
	assert.Equal(t, "user-1", send.UserID)
	assert.Equal(t, event.NotificationPublishSucceeded, send.EventType)
	assert.Equal(t, "https://linkedin.com/posts/li-123", send.Metadata["permalink"])
}

func TestNotificationDispatcher_HandlePublishFailed(t *testing.T) {
	emitter := &fakeEmitter{}
	n := NewNotificationDispatcher(emitter, testLogger())

	env := envelope(t, "failed-event-id", event.PublishFailed{
		JobID:     "job-1",
		UserID:    "user-1",
		Platform:  domain.PlatformYouTube,
		ErrorCode: domain.ErrCodePolicyRejected,
		Message:   "content rejected",
	})

	require.NoError(t, n.HandlePublishFailed(context.Background(), env))

	require.Len(t, emitter.events, 1)
	assert.Equal(t, "failed-event-id", emitter.events[0].causationID)

	send, ok := emitter.events[0].payload.(event.NotificationSendRequested)
	require.True(t, ok)
	assert.Equal(t, event.NotificationPublishFailed, send.EventType)
	assert.Equal(t, domain.ErrCodePolicyRejected, send.Metadata["error_code"])
	assert.Equal(t, "content rejected", send.Metadata["message"])
}

func TestNotificationDispatcher_MalformedPayload(t *testing.T) {
	n := NewNotificationDispatcher(&fakeEmitter{}, testLogger())

	env := &event.Envelope{
		EventID: "evt-1",
		Payload: json.RawMessage(`{"job_id":`),
	}

	err := n.HandlePublishFailed(context.Background(), env)
	require.Error(t, err)
	assert.False(t, domain.IsTransient(err))
}
