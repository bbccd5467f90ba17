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

// Config represents the complete application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	RabbitMQ    RabbitMQConfig    `yaml:"rabbitmq"`
	Redis       RedisConfig       `yaml:"redis"`
	Ledgers     LedgersConfig     `yaml:"ledgers"`
	Metadata    MetadataConfig    `yaml:"metadata"`
	AnchorRetry AnchorRetryConfig `yaml:"anchor_retry"`
	Auth        AuthConfig        `yaml:"auth"`
	Logging     LoggingConfig     `yaml:"logging"`
	App         AppConfig         `yaml:"app"`
	Worker      WorkerConfig      `yaml:"worker"`
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

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queues     QueuesConfig     `yaml:"queues"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Durable bool   `yaml:"durable"`
}

// QueuesConfig names the issuance queues and their routing keys
type QueuesConfig struct {
	Batch       QueueBinding `yaml:"batch"`
	AnchorRetry QueueBinding `yaml:"anchor_retry"`
	AnchorWait  QueueBinding `yaml:"anchor_wait"`
}

// QueueBinding pairs a queue name with its routing key
type QueueBinding struct {
	Name       string `yaml:"name"`
	RoutingKey string `yaml:"routing_key"`
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

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// RedisConfig holds Redis connection configuration for event fan-out
type RedisConfig struct {
	Address      string `yaml:"address"`
	Password     string `yaml:"password"`
	DB           int    `yaml:"db"`
	PoolSize     int    `yaml:"pool_size"`
	MinIdleConns int    `yaml:"min_idle_conns"`
}

// LedgersConfig holds the primary mint ledger and the secondary anchor ledgers
type LedgersConfig struct {
	Primary     LedgerConfig   `yaml:"primary"`
	Secondaries []LedgerConfig `yaml:"secondaries"`
}

// LedgerConfig holds one ledger gateway endpoint
type LedgerConfig struct {
	Name       string        `yaml:"name"`
	GatewayURL string        `yaml:"gateway_url"`
	APIKey     string        `yaml:"api_key"`
	Network    string        `yaml:"network"`
	Timeout    time.Duration `yaml:"timeout"`
}

// MetadataConfig holds the content-addressed storage (pinning) service settings
type MetadataConfig struct {
	PinURL  string        `yaml:"pin_url"`
	APIKey  string        `yaml:"api_key"`
	Gateway string        `yaml:"gateway"`
	Timeout time.Duration `yaml:"timeout"`
}

// AnchorRetryConfig holds backoff settings for secondary-ledger anchor retries
type AnchorRetryConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
	Jitter      float64       `yaml:"jitter"`
}

// AuthConfig holds JWT verification settings
type AuthConfig struct {
	JWTSigningKey string `yaml:"jwt_signing_key"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency       int           `yaml:"concurrency"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	LeaseTimeout      time.Duration `yaml:"lease_timeout"`
	ReclaimInterval   time.Duration `yaml:"reclaim_interval"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	MetricsPort       int           `yaml:"metrics_port"`
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

// ValidateAPIConfig checks the configuration needed by the API service
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Auth.JWTSigningKey == "" {
		return fmt.Errorf("auth jwt_signing_key is required")
	}

	return c.validateShared()
}

// ValidateWorkerConfig checks the configuration needed by the worker service
func (c *Config) ValidateWorkerConfig() error {
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.HeartbeatInterval <= 0 {
		return fmt.Errorf("worker heartbeat_interval must be greater than 0")
	}

	if c.Worker.LeaseTimeout <= c.Worker.HeartbeatInterval {
		return fmt.Errorf("worker lease_timeout must be greater than heartbeat_interval")
	}

	if c.Ledgers.Primary.Name == "" || c.Ledgers.Primary.GatewayURL == "" {
		return fmt.Errorf("primary ledger name and gateway_url are required")
	}

	for i, l := range c.Ledgers.Secondaries {
		if l.Name == "" || l.GatewayURL == "" {
			return fmt.Errorf("secondary ledger %d: name and gateway_url are required", i)
		}
	}

	if c.AnchorRetry.MaxAttempts <= 0 {
		return fmt.Errorf("anchor_retry max_attempts must be greater than 0")
	}

	if c.AnchorRetry.BaseDelay <= 0 || c.AnchorRetry.MaxDelay < c.AnchorRetry.BaseDelay {
		return fmt.Errorf("anchor_retry base_delay must be positive and max_delay >= base_delay")
	}

	return c.validateShared()
}

// validateShared checks the configuration both services depend on
func (c *Config) validateShared() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queues.Batch.Name == "" || c.RabbitMQ.Queues.AnchorRetry.Name == "" || c.RabbitMQ.Queues.AnchorWait.Name == "" {
		return fmt.Errorf("rabbitmq queue names are required")
	}

	return nil
}
