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
	"github.com/postpilot/publish-scheduler/internal/domain"
	"github.com/postpilot/publish-scheduler/internal/event"
	"github.com/postpilot/publish-scheduler/internal/executor"
	"github.com/postpilot/publish-scheduler/internal/platform"
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
	defaultConfigPath := os.Getenv("PUBLISHER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/publisher-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateExecutorConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting publisher service",
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

	// Every platform routes through the connector gateway, which owns
	// the third-party protocols and credentials
	gatewayPublisher := platform.NewGatewayPublisher(platform.GatewayConfig{
		BaseURL: cfg.Executor.GatewayBaseURL,
		Timeout: cfg.Executor.PublishTimeout,
	}, appLogger.Logger)

	publishers := make(map[domain.Platform]platform.Publisher, len(domain.KnownPlatforms))
	for _, p := range domain.KnownPlatforms {
		publishers[p] = gatewayPublisher
	}
	registry := platform.NewRegistry(publishers)

	contentFetcher := platform.NewGatewayContentFetcher(platform.GatewayConfig{
		BaseURL: cfg.Executor.ContentBaseURL,
		Timeout: cfg.Executor.PublishTimeout,
	})

	exec := executor.New(executor.Config{
		PublishTimeout: cfg.Executor.PublishTimeout,
		DedupeWindow:   cfg.Executor.DedupeWindow,
	}, jobStore, registry, contentFetcher, emitter, appLogger.Logger)

	dispatcher := event.NewDispatcher(appLogger.Logger)
	dispatcher.Register(event.TopicPublishRequested, exec.HandlePublishRequested)

	consumerInstance := consumer.New(consumer.Config{
		QueueName:     event.QueuePublishRequests,
		ConsumerTag:   consumerTag(),
		Concurrency:   cfg.Consumer.Concurrency,
		PrefetchCount: cfg.Consumer.PrefetchCount,
	}, rabbitClient, dispatcher, appLogger.Logger)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		if err := consumerInstance.Run(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Publisher service started successfully")

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

	appLogger.Info("Publisher service shutdown complete")
	return nil
}

// consumerTag builds a consumer identity unique to this process instance
func consumerTag() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "publisher"
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
