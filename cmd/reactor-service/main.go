package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/postpilot/publish-scheduler/internal/config"
	"github.com/postpilot/publish-scheduler/internal/consumer"
	"github.com/postpilot/publish-scheduler/internal/event"
	"github.com/postpilot/publish-scheduler/internal/reactor"
	"github.com/postpilot/publish-scheduler/internal/retrier"
	"github.com/postpilot/publish-scheduler/internal/store"
	"github.com/postpilot/publish-scheduler/shared/logger"
	"github.com/postpilot/publish-scheduler/shared/postgresql"
	"github.com/postpilot/publish-scheduler/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("REACTOR_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/reactor-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateReactorConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting reactor service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	appLogger.Info("Database connection established")

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}

	appLogger.Info("RabbitMQ connection established")

	jobStore := store.New(dbClient.GetDB(), appLogger.Logger)
	emitter := event.NewEmitter(rabbitClient, appLogger.Logger)

	coordinator := retrier.NewCoordinator(jobStore, emitter, retrier.Policy{
		Base:       cfg.Retry.BaseDelay,
		Cap:        cfg.Retry.MaxDelay,
		Jitter:     cfg.Retry.Jitter,
		MaxRetries: cfg.Retry.MaxRetries,
	}, appLogger.Logger)

	analytics := reactor.NewAnalyticsTrigger(emitter, appLogger.Logger)
	notifications := reactor.NewNotificationDispatcher(emitter, appLogger.Logger)

	// Each consumer group reacts to the outcome stream independently:
	// the retry coordinator never gates the downstream fan-out
	retryDispatcher := event.NewDispatcher(appLogger.Logger)
	retryDispatcher.Register(event.TopicPublishFailed, coordinator.HandlePublishFailed)

	analyticsDispatcher := event.NewDispatcher(appLogger.Logger)
	analyticsDispatcher.Register(event.TopicPublishSucceeded, analytics.HandlePublishSucceeded)

	notifyDispatcher := event.NewDispatcher(appLogger.Logger)
	notifyDispatcher.Register(event.TopicPublishSucceeded, notifications.HandlePublishSucceeded)
	notifyDispatcher.Register(event.TopicPublishFailed, notifications.HandlePublishFailed)

	tag := consumerTag()
	consumers := []*consumer.Consumer{
		consumer.New(consumer.Config{
			QueueName:     event.QueueOutcomesRetry,
			ConsumerTag:   tag + "-retry",
			Concurrency:   cfg.Consumer.Concurrency,
			PrefetchCount: cfg.Consumer.PrefetchCount,
		}, rabbitClient, retryDispatcher, appLogger.Logger),
		consumer.New(consumer.Config{
			QueueName:     event.QueueOutcomesAnalytics,
			ConsumerTag:   tag + "-analytics",
			Concurrency:   cfg.Consumer.Concurrency,
			PrefetchCount: cfg.Consumer.PrefetchCount,
		}, rabbitClient, analyticsDispatcher, appLogger.Logger),
		consumer.New(consumer.Config{
			QueueName:     event.QueueOutcomesNotify,
			ConsumerTag:   tag + "-notify",
			Concurrency:   cfg.Consumer.Concurrency,
			PrefetchCount: cfg.Consumer.PrefetchCount,
		}, rabbitClient, notifyDispatcher, appLogger.Logger),
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, len(consumers))
	for _, c := range consumers {
		c := c
		go func() {
			if err := c.Run(ctx); err != nil {
				errChan <- err
			}
		}()
	}

	appLogger.Info("Reactor service started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Consumer error",
			slog.Any("error", err),
		)
		return err
	}

	cancel()

	// Cleanup function to close all resources
	cleanup := func() {
		if dbClient != nil {
			dbClient.Close()
		}
		if rabbitClient != nil {
			rabbitClient.Close()
		}
	}
	cleanup()

	appLogger.Info("Reactor service shutdown complete")
	return nil
}

// consumerTag builds a consumer identity unique to this process instance
func consumerTag() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "reactor"
	}
	return fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8])
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	queues := make([]rabbitmq.QueueSpec, len(cfg.Queues))
	for i, q := range cfg.Queues {
		queues[i] = rabbitmq.QueueSpec{
			Name:       q.Name,
			Bindings:   q.Bindings,
			Durable:    q.Durable,
			AutoDelete: q.AutoDelete,
			Exclusive:  q.Exclusive,
		}
	}

	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		Queues:             queues,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}
