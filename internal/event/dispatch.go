package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/postpilot/publish-scheduler/internal/domain"
)

// HandlerFunc processes one delivered envelope. Returning an error nacks
// the delivery; Requeue(err) decides whether the broker retries it.
type HandlerFunc func(ctx context.Context, env *Envelope) error

// Dispatcher maps topics (delivery routing keys) to typed handlers. The
// dispatch boundary is where envelope deserialization happens; payload
// validation belongs to each handler since the payload type is per topic.
type Dispatcher struct {
	handlers map[string]HandlerFunc
	logger   *slog.Logger
}

// NewDispatcher creates an empty dispatch table
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
	}
}

// Register binds a handler to a topic. Registering a topic twice is a
// wiring bug and panics at startup rather than silently replacing.
func (d *Dispatcher) Register(topic string, handler HandlerFunc) {
	if _, exists := d.handlers[topic]; exists {
		panic(fmt.Sprintf("handler already registered for topic %s", topic))
	}
	d.handlers[topic] = handler
}

// Topics returns every registered topic, for queue binding declarations
func (d *Dispatcher) Topics() []string {
	topics := make([]string, 0, len(d.handlers))
	for topic := range d.handlers {
		topics = append(topics, topic)
	}
	return topics
}

// Dispatch decodes the raw delivery body and routes it by topic
func (d *Dispatcher) Dispatch(ctx context.Context, topic string, body []byte) error {
	handler, ok := d.handlers[topic]
	if !ok {
		// A queue binding delivered a topic nothing consumes; requeueing
		// cannot fix the wiring
		return domain.NewPermanentError(domain.ErrCodeMalformedRequest,
			fmt.Errorf("no handler registered for topic %s", topic))
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return domain.NewPermanentError(domain.ErrCodeMalformedRequest,
			fmt.Errorf("malformed envelope on %s: %w", topic, err))
	}
	if env.EventID == "" {
		return domain.NewPermanentError(domain.ErrCodeMalformedRequest,
			fmt.Errorf("envelope on %s missing event_id", topic))
	}

	d.logger.Debug("Dispatching event",
		slog.String("topic", topic),
		slog.String("event_id", env.EventID),
	)

	return handler(ctx, &env)
}
