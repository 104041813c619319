package executor

import (
	"context"
	"database/sql"
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
	"github.com/postpilot/publish-scheduler/internal/platform"
)

const testJobID = "6fa2f7ef-24fc-4e0c-9c68-5c72f1a5b5dd"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStore struct {
	beginExisting *domain.PublishAttempt
	beginErr      error
	reclaimErr    error
	completeErr   error
	outcomeErr    error

	beginCalls    int
	reclaimCalls  int
	completed     []string // recorded outcomes, in order
	jobOutcomes   []string
	lastErrorCode string
	lastTransient bool
}

func (f *fakeStore) BeginAttempt(ctx context.Context, jobID string, p domain.Platform, attempt int, now time.Time) (*domain.PublishAttempt, error) {
	f.beginCalls++
	return f.beginExisting, f.beginErr
}

func (f *fakeStore) ReclaimAttempt(ctx context.Context, jobID string, p domain.Platform, attempt int, now time.Time, window time.Duration) error {
	f.reclaimCalls++
	return f.reclaimErr
}

func (f *fakeStore) CompleteAttempt(ctx context.Context, jobID string, p domain.Platform, attempt int, outcome, platformPostID, permalink, errorCode string, errorTransient bool) error {
	f.completed = append(f.completed, outcome)
	f.lastErrorCode = errorCode
	f.lastTransient = errorTransient
	return f.completeErr
}

func (f *fakeStore) RecordOutcome(ctx context.Context, jobID, status, errorCode, errorMessage string) error {
	f.jobOutcomes = append(f.jobOutcomes, status)
	return f.outcomeErr
}

type fakePublisher struct {
	calls  int
	result *platform.PostResult
	err    error
}

func (f *fakePublisher) Publish(ctx context.Context, req *platform.PublishRequest) (*platform.PostResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeFetcher struct {
	content *platform.Content
	err     error
}

func (f *fakeFetcher) Fetch(ctx context.Context, contentItemID string) (*platform.Content, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.content, nil
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

func requestEnvelope(t *testing.T, req event.PublishRequested) *event.Envelope {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	return &event.Envelope{
		EventID:    "request-event-id",
		OccurredAt: time.Now().UTC(),
		Payload:    body,
	}
}

func newTestExecutor(store *fakeStore, pub *fakePublisher, fetcher *fakeFetcher, emitter *fakeEmitter) *Executor {
	registry := platform.NewRegistry(map[domain.Platform]platform.Publisher{
		domain.PlatformLinkedIn: pub,
	})
	return New(Config{
		PublishTimeout: time.Second,
		DedupeWindow:   2 * time.Minute,
	}, store, registry, fetcher, emitter, testLogger())
}

func validRequest() event.PublishRequested {
	return event.PublishRequested{
		JobID:              testJobID,
		UserID:             "user-1",
		ContentItemID:      "content-1",
		ConnectedAccountID: "account-1",
		Platform:           domain.PlatformLinkedIn,
		Attempt:            0,
	}
}

func TestExecutor_HandlePublishRequested_Success(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{result: &platform.PostResult{
		PlatformPostID: "li-123",
		Permalink:      "https://linkedin.com/posts/li-123",
		PublishedAt:    time.Now().UTC(),
	}}
	fetcher := &fakeFetcher{content: &platform.Content{ContentItemID: "content-1", Title: "hi"}}
	emitter := &fakeEmitter{}

	e := newTestExecutor(store, pub, fetcher, emitter)
	env := requestEnvelope(t, validRequest())

	require.NoError(t, e.HandlePublishRequested(context.Background(), env))

	assert.Equal(t, 1, pub.calls)
	assert.Equal(t, []string{domain.AttemptOutcomeSucceeded}, store.completed)
	assert.Equal(t, []string{domain.JobStatusSucceeded}, store.jobOutcomes)

	require.Len(t, emitter.events, 1)
	assert.Equal(t, event.TopicPublishSucceeded, emitter.events[0].topic)
	// The outcome is caused by the request event it answers
	assert.Equal(t, "request-event-id", emitter.events[0].causationID)

	succeeded, ok := emitter.events[0].payload.(event.PublishSucceeded)
	require.True(t, ok)
	assert.Equal(t, "li-123", succeeded.PlatformPostID)
}

func TestExecutor_HandlePublishRequested_TransientFailure(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{err: domain.NewTransientError(domain.ErrCodeRateLimited, errors.New("429"))}
	fetcher := &fakeFetcher{content: &platform.Content{}}
	emitter := &fakeEmitter{}

	e := newTestExecutor(store, pub, fetcher, emitter)
	env := requestEnvelope(t, validRequest())

	// A recorded failure is a handled delivery, not a handler error
	require.NoError(t, e.HandlePublishRequested(context.Background(), env))

	assert.Equal(t, []string{domain.AttemptOutcomeFailed}, store.completed)
	assert.Equal(t, domain.ErrCodeRateLimited, store.lastErrorCode)
	assert.True(t, store.lastTransient)
	assert.Equal(t, []string{domain.JobStatusFailed}, store.jobOutcomes)

	require.Len(t, emitter.events, 1)
	assert.Equal(t, event.TopicPublishFailed, emitter.events[0].topic)

	failed, ok := emitter.events[0].payload.(event.PublishFailed)
	require.True(t, ok)
	assert.True(t, failed.Transient)
	assert.Equal(t, domain.ErrCodeRateLimited, failed.ErrorCode)
}

func TestExecutor_HandlePublishRequested_PermanentFailure(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{err: domain.NewPermanentError(domain.ErrCodeBadCredentials, errors.New("401"))}
	fetcher := &fakeFetcher{content: &platform.Content{}}
	emitter := &fakeEmitter{}

	e := newTestExecutor(store, pub, fetcher, emitter)
	env := requestEnvelope(t, validRequest())

	require.NoError(t, e.HandlePublishRequested(context.Background(), env))

	assert.False(t, store.lastTransient)

	failed, ok := emitter.events[0].payload.(event.PublishFailed)
	require.True(t, ok)
	assert.False(t, failed.Transient)
	assert.Equal(t, domain.ErrCodeBadCredentials, failed.ErrorCode)
}

func TestExecutor_HandlePublishRequested_ContentFetchFailure(t *testing.T) {
	store := &fakeStore{}
	pub := &fakePublisher{}
	fetcher := &fakeFetcher{err: errors.New("connection refused")}
	emitter := &fakeEmitter{}

	e := newTestExecutor(store, pub, fetcher, emitter)
	env := requestEnvelope(t, validRequest())

	require.NoError(t, e.HandlePublishRequested(context.Background(), env))

	// No platform call without content
	assert.Zero(t, pub.calls)
	assert.Equal(t, domain.ErrCodeAssetFetch, store.lastErrorCode)

	failed, ok := emitter.events[0].payload.(event.PublishFailed)
	require.True(t, ok)
	assert.True(t, failed.Transient)
}

func TestExecutor_HandlePublishRequested_MalformedRequest(t *testing.T) {
	store := &fakeStore{}
	e := newTestExecutor(store, &fakePublisher{}, &fakeFetcher{}, &fakeEmitter{})

	env := requestEnvelope(t, event.PublishRequested{
		JobID:    "not-a-uuid",
		Platform: domain.PlatformLinkedIn,
	})

	err := e.HandlePublishRequested(context.Background(), env)
	require.Error(t, err)
	assert.False(t, domain.IsTransient(err))
	assert.Zero(t, store.beginCalls)
}

func TestExecutor_HandlePublishRequested_UnknownPlatformInRegistry(t *testing.T) {
	store := &fakeStore{}
	emitter := &fakeEmitter{}
	e := newTestExecutor(store, &fakePublisher{}, &fakeFetcher{content: &platform.Content{}}, emitter)

	req := validRequest()
	req.Platform = domain.PlatformTikTok // valid platform, no registered client
	env := requestEnvelope(t, req)

	require.NoError(t, e.HandlePublishRequested(context.Background(), env))

	failed, ok := emitter.events[0].payload.(event.PublishFailed)
	require.True(t, ok)
	assert.False(t, failed.Transient)
}

func TestExecutor_DuplicateWithRecordedSuccess(t *testing.T) {
	attemptedAt := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{
		beginErr: domain.ErrDuplicateAttempt,
		beginExisting: &domain.PublishAttempt{
			JobID:          testJobID,
			Platform:       domain.PlatformLinkedIn,
			Attempt:        0,
			Outcome:        sql.NullString{String: domain.AttemptOutcomeSucceeded, Valid: true},
			PlatformPostID: sql.NullString{String: "li-123", Valid: true},
			Permalink:      sql.NullString{String: "https://linkedin.com/posts/li-123", Valid: true},
			AttemptedAt:    attemptedAt,
		},
	}
	pub := &fakePublisher{}
	emitter := &fakeEmitter{}

	e := newTestExecutor(store, pub, &fakeFetcher{}, emitter)
	env := requestEnvelope(t, validRequest())

	require.NoError(t, e.HandlePublishRequested(context.Background(), env))

	// The recorded outcome is replayed without a second platform call
	assert.Zero(t, pub.calls)
	assert.Empty(t, store.completed)
	assert.Equal(t, []string{domain.JobStatusSucceeded}, store.jobOutcomes)

	require.Len(t, emitter.events, 1)
	succeeded, ok := emitter.events[0].payload.(event.PublishSucceeded)
	require.True(t, ok)
	assert.Equal(t, "li-123", succeeded.PlatformPostID)
	assert.Equal(t, attemptedAt, succeeded.PublishedAt)
}

func TestExecutor_DuplicateWithRecordedFailure(t *testing.T) {
	tests := []struct {
		name          string
		errorCode     string
		transient     sql.NullBool
		wantTransient bool
	}{
		{
			name:          "permanent policy rejection",
			errorCode:     domain.ErrCodePolicyRejected,
			transient:     sql.NullBool{Bool: false, Valid: true},
			wantTransient: false,
		},
		{
			// Asset fetch failures classify either way; the replay must
			// carry the class the original call recorded, not re-derive
			// it from the code
			name:          "permanent asset fetch failure",
			errorCode:     domain.ErrCodeAssetFetch,
			transient:     sql.NullBool{Bool: false, Valid: true},
			wantTransient: false,
		},
		{
			name:          "transient rate limit",
			errorCode:     domain.ErrCodeRateLimited,
			transient:     sql.NullBool{Bool: true, Valid: true},
			wantTransient: true,
		},
		{
			name:          "record without classification",
			errorCode:     domain.ErrCodeInternal,
			transient:     sql.NullBool{},
			wantTransient: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{
				beginErr: domain.ErrDuplicateAttempt,
				beginExisting: &domain.PublishAttempt{
					JobID:          testJobID,
					Outcome:        sql.NullString{String: domain.AttemptOutcomeFailed, Valid: true},
					ErrorCode:      sql.NullString{String: tt.errorCode, Valid: true},
					ErrorTransient: tt.transient,
				},
			}
			pub := &fakePublisher{}
			emitter := &fakeEmitter{}

			e := newTestExecutor(store, pub, &fakeFetcher{}, emitter)
			env := requestEnvelope(t, validRequest())

			require.NoError(t, e.HandlePublishRequested(context.Background(), env))

			assert.Zero(t, pub.calls)
			failed, ok := emitter.events[0].payload.(event.PublishFailed)
			require.True(t, ok)
			assert.Equal(t, tt.errorCode, failed.ErrorCode)
			assert.Equal(t, tt.wantTransient, failed.Transient)
		})
	}
}

func TestExecutor_DuplicateStillInFlight(t *testing.T) {
	store := &fakeStore{
		beginErr: domain.ErrDuplicateAttempt,
		beginExisting: &domain.PublishAttempt{
			JobID: testJobID, // no outcome yet
		},
		reclaimErr: domain.ErrDuplicateAttempt, // inside the dedupe window
	}
	pub := &fakePublisher{}
	emitter := &fakeEmitter{}

	e := newTestExecutor(store, pub, &fakeFetcher{}, emitter)
	env := requestEnvelope(t, validRequest())

	require.NoError(t, e.HandlePublishRequested(context.Background(), env))

	assert.Equal(t, 1, store.reclaimCalls)
	assert.Zero(t, pub.calls)
	assert.Empty(t, emitter.events)
}

func TestExecutor_DuplicateReclaimedAfterWindow(t *testing.T) {
	store := &fakeStore{
		beginErr: domain.ErrDuplicateAttempt,
		beginExisting: &domain.PublishAttempt{
			JobID: testJobID, // holder crashed mid-call, no outcome
		},
	}
	pub := &fakePublisher{result: &platform.PostResult{PlatformPostID: "li-456"}}
	fetcher := &fakeFetcher{content: &platform.Content{}}
	emitter := &fakeEmitter{}

	e := newTestExecutor(store, pub, fetcher, emitter)
	env := requestEnvelope(t, validRequest())

	require.NoError(t, e.HandlePublishRequested(context.Background(), env))

	// This consumer took the attempt over and retried the call
	assert.Equal(t, 1, store.reclaimCalls)
	assert.Equal(t, 1, pub.calls)
	assert.Equal(t, []string{domain.AttemptOutcomeSucceeded}, store.completed)
}

func TestExecutor_StoreErrorRequeues(t *testing.T) {
	store := &fakeStore{beginErr: errors.New("connection refused")}
	e := newTestExecutor(store, &fakePublisher{}, &fakeFetcher{}, &fakeEmitter{})

	env := requestEnvelope(t, validRequest())
	err := e.HandlePublishRequested(context.Background(), env)
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
}
