// Package event defines the broker contracts of the publish saga: topic
// names, the envelope with its causation chain, and the typed payloads.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/postpilot/publish-scheduler/internal/domain"
)

// Broker topics. The topic doubles as the routing key on the exchange.
const (
	TopicPublishRequested      = "publish.requested"
	TopicPublishSucceeded      = "publish.succeeded"
	TopicPublishFailed         = "publish.failed"
	TopicPublishRetryRequested = "publish.retry.requested"
	TopicAnalyticsIngest       = "analytics.ingest.requested"
	TopicNotificationSend      = "notification.send.requested"
)

// Consumer-group queues. The shipped configs declare these with their
// topic bindings; consumers reference them by name.
const (
	QueuePublishRequests   = "publish.requests"
	QueueOutcomesRetry     = "publish.outcomes.retry"
	QueueOutcomesAnalytics = "publish.outcomes.analytics"
	QueueOutcomesNotify    = "publish.outcomes.notify"
)

// Envelope wraps every payload on the wire. EventID is fresh per
// emission; CausationID carries the EventID of the event that caused
// this one, empty at the root of a chain (the scanner's trigger).
type Envelope struct {
	EventID     string          `json:"event_id"`
	CausationID string          `json:"causation_id,omitempty"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Payload     json.RawMessage `json:"payload"`
}

// NewEnvelope wraps payload with a fresh event id
func NewEnvelope(causationID string, payload any) (*Envelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	return &Envelope{
		EventID:     uuid.New().String(),
		CausationID: causationID,
		OccurredAt:  time.Now().UTC(),
		Payload:     body,
	}, nil
}

// MarshalBody serializes the envelope for the wire
func (e *Envelope) MarshalBody() ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return body, nil
}

// Decode unmarshals the envelope payload into dest. A payload that does
// not parse is permanent: redelivery cannot fix a malformed message, so
// consumers drop it instead of requeueing.
func (e *Envelope) Decode(dest any) error {
	if err := json.Unmarshal(e.Payload, dest); err != nil {
		return domain.NewPermanentError(domain.ErrCodeMalformedRequest,
			fmt.Errorf("failed to decode event payload: %w", err))
	}
	return nil
}

// PublishRequested asks the executor to perform one publish attempt.
// Attempt is the job's retry ordinal at emission time; it keys the
// executor's idempotency record.
type PublishRequested struct {
	JobID              string          `json:"job_id"`
	UserID             string          `json:"user_id"`
	ContentItemID      string          `json:"content_item_id"`
	ConnectedAccountID string          `json:"connected_account_id"`
	Platform           domain.Platform `json:"platform"`
	Attempt            int             `json:"attempt"`
}

// Validate checks the fields the executor cannot proceed without
func (p *PublishRequested) Validate() error {
	if _, err := uuid.Parse(p.JobID); err != nil {
		return fmt.Errorf("invalid job_id %q: %w", p.JobID, err)
	}
	if !p.Platform.IsValid() {
		return fmt.Errorf("unknown platform %q", p.Platform)
	}
	return nil
}

// PublishSucceeded records a completed external publish
type PublishSucceeded struct {
	JobID          string          `json:"job_id"`
	UserID         string          `json:"user_id"`
	Platform       domain.Platform `json:"platform"`
	PlatformPostID string          `json:"platform_post_id"`
	Permalink      string          `json:"permalink"`
	PublishedAt    time.Time       `json:"published_at"`
}

// PublishFailed records a failed external publish with its classification
type PublishFailed struct {
	JobID     string          `json:"job_id"`
	UserID    string          `json:"user_id"`
	Platform  domain.Platform `json:"platform"`
	Attempt   int             `json:"attempt"`
	ErrorCode string          `json:"error_code"`
	Message   string          `json:"message"`
	Transient bool            `json:"transient"`
}

// PublishRetryRequested traces a re-arm decision of the retry
// coordinator. The store re-arm is the authoritative path; this event is
// observational.
type PublishRetryRequested struct {
	JobID         string    `json:"job_id"`
	Attempt       int       `json:"attempt"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
}

// AnalyticsIngestRequested asks the analytics service to start tracking
// a published post
type AnalyticsIngestRequested struct {
	JobID          string          `json:"job_id"`
	UserID         string          `json:"user_id"`
	Platform       domain.Platform `json:"platform"`
	PlatformPostID string          `json:"platform_post_id"`
}

// Notification event types
const (
	NotificationPublishSucceeded = "PUBLISH_SUCCEEDED"
	NotificationPublishFailed    = "PUBLISH_FAILED"
)

// NotificationSendRequested asks the notification service to inform the
// user about a publish outcome
type NotificationSendRequested struct {
	UserID    string            `json:"user_id"`
	EventType string            `json:"event_type"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}
