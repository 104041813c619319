package event

import (
	"context"
	"fmt"
	"log/slog"
)

// BrokerPublisher is the slice of the broker client the emitter needs
type BrokerPublisher interface {
	PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// Emitter marshals payloads into envelopes and publishes them on the
// exchange with the topic as routing key. It is the single place where
// causation ids are attached.
type Emitter struct {
	broker BrokerPublisher
	logger *slog.Logger
}

// NewEmitter creates an Emitter over the broker client
func NewEmitter(broker BrokerPublisher, logger *slog.Logger) *Emitter {
	return &Emitter{
		broker: broker,
		logger: logger,
	}
}

// Emit publishes payload on topic, linking it to the causing event.
// causationID is empty at the root of a chain. Returns the fresh event id.
func (e *Emitter) Emit(ctx context.Context, topic, causationID string, payload any) (string, error) {
	env, err := NewEnvelope(causationID, payload)
	if err != nil {
		return "", err
	}

	body, err := env.MarshalBody()
	if err != nil {
		return "", err
	}

	if err := e.broker.PublishWithRetry(ctx, topic, body, "application/json"); err != nil {
		return "", fmt.Errorf("failed to emit %s: %w", topic, err)
	}

	e.logger.Debug("Event emitted",
		slog.String("topic", topic),
		slog.String("event_id", env.EventID),
		slog.String("causation_id", env.CausationID),
	)

	return env.EventID, nil
}
