package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration. Each service
// reads the sections it needs; the broker and database sections are
// shared so the services agree on the topology.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Logging   LoggingConfig   `yaml:"logging"`
	App       AppConfig       `yaml:"app"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Retry     RetryConfig     `yaml:"retry"`
	Consumer  ConsumerConfig  `yaml:"consumer"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and topology configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queues     []QueueConfig    `yaml:"queues"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds the topic exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds one consumer-group queue and its topic bindings
type QueueConfig struct {
	Name       string   `yaml:"name"`
	Bindings   []string `yaml:"bindings"`
	Durable    bool     `yaml:"durable"`
	AutoDelete bool     `yaml:"auto_delete"`
	Exclusive  bool     `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"`
	Output           string `yaml:"output"`
	EnableCaller     bool   `yaml:"enable_caller"`
	EnableStackTrace bool   `yaml:"enable_stack_trace"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// SchedulerConfig holds trigger scanner configuration
type SchedulerConfig struct {
	ScanInterval time.Duration `yaml:"scan_interval"`
	BatchSize    int           `yaml:"batch_size"`
	ClaimTTL     time.Duration `yaml:"claim_ttl"`
}

// ExecutorConfig holds publish executor configuration
type ExecutorConfig struct {
	PublishTimeout time.Duration `yaml:"publish_timeout"`
	DedupeWindow   time.Duration `yaml:"dedupe_window"`
	GatewayBaseURL string        `yaml:"gateway_base_url"`
	ContentBaseURL string        `yaml:"content_base_url"`
}

// RetryConfig holds retry coordinator configuration
type RetryConfig struct {
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
	Jitter     float64       `yaml:"jitter"`
	MaxRetries int           `yaml:"max_retries"`
}

// ConsumerConfig holds broker consumer settings
type ConsumerConfig struct {
	Concurrency   int `yaml:"concurrency"`
	PrefetchCount int `yaml:"prefetch_count"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// validateDatabase checks the PostgreSQL section
func (c *Config) validateDatabase() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}

// validateBroker checks the RabbitMQ section
func (c *Config) validateBroker() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	return nil
}

// validateShared checks the sections every broker-facing service needs
func (c *Config) validateShared() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}
	return c.validateBroker()
}

// ValidateAPIConfig checks the configuration of the API service. The API
// only writes PENDING rows; it does not talk to the broker.
func (c *Config) ValidateAPIConfig() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}

	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	return nil
}

// ValidateSchedulerConfig checks the configuration of the scheduler service
func (c *Config) ValidateSchedulerConfig() error {
	if err := c.validateShared(); err != nil {
		return err
	}

	if c.Scheduler.ScanInterval <= 0 {
		return fmt.Errorf("scheduler scan_interval must be greater than 0")
	}

	if c.Scheduler.BatchSize <= 0 {
		return fmt.Errorf("scheduler batch_size must be greater than 0")
	}

	if c.Scheduler.ClaimTTL <= c.Scheduler.ScanInterval {
		return fmt.Errorf("scheduler claim_ttl must be greater than scan_interval")
	}

	return nil
}

// ValidateExecutorConfig checks the configuration of the publisher service
func (c *Config) ValidateExecutorConfig() error {
	if err := c.validateShared(); err != nil {
		return err
	}

	if c.Executor.PublishTimeout <= 0 {
		return fmt.Errorf("executor publish_timeout must be greater than 0")
	}

	if c.Executor.DedupeWindow <= c.Executor.PublishTimeout {
		return fmt.Errorf("executor dedupe_window must be greater than publish_timeout")
	}

	if c.Executor.GatewayBaseURL == "" {
		return fmt.Errorf("executor gateway_base_url is required")
	}

	if c.Executor.ContentBaseURL == "" {
		return fmt.Errorf("executor content_base_url is required")
	}

	return c.validateConsumer()
}

// ValidateReactorConfig checks the configuration of the reactor service
func (c *Config) ValidateReactorConfig() error {
	if err := c.validateShared(); err != nil {
		return err
	}

	if c.Retry.BaseDelay <= 0 {
		return fmt.Errorf("retry base_delay must be greater than 0")
	}

	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry max_delay must not be less than base_delay")
	}

	if c.Retry.Jitter < 0 || c.Retry.Jitter >= 1 {
		return fmt.Errorf("retry jitter must be in [0, 1)")
	}

	if c.Retry.MaxRetries <= 0 {
		return fmt.Errorf("retry max_retries must be greater than 0")
	}

	return c.validateConsumer()
}

func (c *Config) validateConsumer() error {
	if c.Consumer.Concurrency <= 0 {
		return fmt.Errorf("consumer concurrency must be greater than 0")
	}

	if c.Consumer.PrefetchCount <= 0 {
		return fmt.Errorf("consumer prefetch_count must be greater than 0")
	}

	return nil
}
