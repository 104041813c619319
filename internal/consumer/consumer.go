// Package consumer runs a worker pool over one RabbitMQ queue and feeds
// each delivery through an event dispatch table. The routing key of the
// delivery selects the handler; the handler's error classification
// decides ack, requeue, or drop.
package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/postpilot/publish-scheduler/internal/domain"
	"github.com/postpilot/publish-scheduler/internal/event"
	"github.com/postpilot/publish-scheduler/shared/rabbitmq"
)

// Config holds consumer configuration
type Config struct {
	QueueName     string
	ConsumerTag   string
	Concurrency   int
	PrefetchCount int
}

// Consumer dispatches deliveries from one queue to a worker pool
type Consumer struct {
	cfg        Config
	rabbit     *rabbitmq.Client
	dispatcher *event.Dispatcher
	logger     *slog.Logger
	wg         sync.WaitGroup
}

// New creates a consumer over the given queue and dispatch table
func New(cfg Config, rabbit *rabbitmq.Client, dispatcher *event.Dispatcher, logger *slog.Logger) *Consumer {
	return &Consumer{
		cfg:        cfg,
		rabbit:     rabbit,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Run consumes until ctx is canceled and all in-flight deliveries have
// been acked or nacked
func (c *Consumer) Run(ctx context.Context) error {
	channel := c.rabbit.GetChannel()
	if channel == nil {
		return fmt.Errorf("rabbitmq channel is nil")
	}

	// Prefetch bounds unacked deliveries per consumer so one slow
	// instance does not starve the others
	if err := channel.Qos(c.cfg.PrefetchCount, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := c.rabbit.Consume(c.cfg.QueueName, c.cfg.ConsumerTag)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("Consumer started",
		slog.String("queue", c.cfg.QueueName),
		slog.String("consumer_tag", c.cfg.ConsumerTag),
		slog.Int("concurrency", c.cfg.Concurrency),
		slog.Int("prefetch_count", c.cfg.PrefetchCount),
	)

	for i := 0; i < c.cfg.Concurrency; i++ {
		c.wg.Add(1)
		go c.workerLoop(ctx, i, deliveries)
	}

	<-ctx.Done()
	c.wg.Wait()

	c.logger.Info("Consumer stopped",
		slog.String("queue", c.cfg.QueueName),
	)

	return nil
}

// workerLoop is the processing loop for one worker goroutine
func (c *Consumer) workerLoop(ctx context.Context, workerNum int, deliveries <-chan amqp.Delivery) {
	defer c.wg.Done()

	workerName := fmt.Sprintf("%s-%d", c.cfg.ConsumerTag, workerNum)

	for {
		select {
		case <-ctx.Done():
			return

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("RabbitMQ delivery channel closed",
					slog.String("worker_name", workerName),
				)
				return
			}

			c.handleDelivery(ctx, workerName, delivery)
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, workerName string, delivery amqp.Delivery) {
	topic := delivery.RoutingKey

	err := c.dispatcher.Dispatch(ctx, topic, delivery.Body)
	if err == nil {
		if ackErr := delivery.Ack(false); ackErr != nil {
			c.logger.Error("Failed to ACK message",
				slog.String("worker_name", workerName),
				slog.String("topic", topic),
				slog.Any("error", ackErr),
			)
		}
		return
	}

	// Transient handler failures go back to the queue; permanent ones
	// (malformed payloads, wiring errors) are dropped toward the DLQ
	requeue := domain.IsTransient(err)

	c.logger.Error("Delivery handling failed",
		slog.String("worker_name", workerName),
		slog.String("topic", topic),
		slog.Bool("requeue", requeue),
		slog.Any("error", err),
	)

	if nackErr := delivery.Nack(false, requeue); nackErr != nil {
		c.logger.Error("Failed to NACK message",
			slog.String("worker_name", workerName),
			slog.String("topic", topic),
			slog.Any("error", nackErr),
		)
	}
}
