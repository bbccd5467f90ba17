package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Config holds RabbitMQ connection configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	VHost    string

	ExchangeName string
	ExchangeType string

	// BatchQueue receives issuance jobs, RetryQueue receives anchor retry
	// jobs. Each has its own consumers so retries never starve batches.
	BatchQueue      string
	BatchRoutingKey string
	RetryQueue      string
	RetryRoutingKey string

	// RetryWaitQueue holds delayed retry messages. It has no consumers:
	// messages expire per-message and are dead-lettered back onto
	// RetryRoutingKey, which implements backoff broker-side.
	RetryWaitQueue      string
	RetryWaitRoutingKey string

	Durable bool

	RetryAttempts     int
	RetryInterval     time.Duration
	Heartbeat         time.Duration
	ConnectionTimeout time.Duration

	PublishRetries     int
	PublishRetryDelay  time.Duration
	PublishBackoffMult float64
}

// Client represents a RabbitMQ client
type Client struct {
	config      *Config
	conn        *amqp.Connection
	channel     *amqp.Channel
	logger      *slog.Logger
	closeChan   chan *amqp.Error
	isConnected bool
}

// NewClient creates a new RabbitMQ client
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	client := &Client{
		config: config,
		logger: logger,
	}

	if err := client.connect(); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}

	return client, nil
}

// connect establishes connection to RabbitMQ with retry logic
func (c *Client) connect() error {
	var err error

	dsn := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		c.config.User,
		c.config.Password,
		c.config.Host,
		c.config.Port,
		c.config.VHost,
	)

	amqpConfig := amqp.Config{
		Heartbeat: c.config.Heartbeat,
		Locale:    "en_US",
	}

	for attempt := 1; attempt <= c.config.RetryAttempts; attempt++ {
		c.logger.Info("Connecting to RabbitMQ",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", c.config.RetryAttempts),
		)

		c.conn, err = amqp.DialConfig(dsn, amqpConfig)
		if err == nil {
			break
		}

		c.logger.Error("Failed to connect to RabbitMQ",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
		)

		if attempt < c.config.RetryAttempts {
			time.Sleep(c.config.RetryInterval)
		}
	}

	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", c.config.RetryAttempts, err)
	}

	// Create channel
	c.channel, err = c.conn.Channel()
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	// Setup exchange and queues
	if err := c.setup(); err != nil {
		c.channel.Close()
		c.conn.Close()
		return fmt.Errorf("failed to setup exchange and queues: %w", err)
	}

	// Monitor connection
	c.closeChan = make(chan *amqp.Error)
	c.channel.NotifyClose(c.closeChan)
	c.isConnected = true

	c.logger.Info("RabbitMQ client initialized",
		slog.String("exchange", c.config.ExchangeName),
		slog.String("batch_queue", c.config.BatchQueue),
		slog.String("retry_queue", c.config.RetryQueue),
	)

	return nil
}

// setup declares the exchange, the two work queues, and the retry wait queue
func (c *Client) setup() error {
	err := c.channel.ExchangeDeclare(
		c.config.ExchangeName, // name
		c.config.ExchangeType, // type
		c.config.Durable,      // durable
		false,                 // auto-deleted
		false,                 // internal
		false,                 // no-wait
		nil,                   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if err := c.declareAndBind(c.config.BatchQueue, c.config.BatchRoutingKey, nil); err != nil {
		return err
	}

	if err := c.declareAndBind(c.config.RetryQueue, c.config.RetryRoutingKey, nil); err != nil {
		return err
	}

	// Messages sitting in the wait queue are dead-lettered back to the
	// retry queue once their per-message TTL expires.
	waitArgs := amqp.Table{
		"x-dead-letter-exchange":    c.config.ExchangeName,
		"x-dead-letter-routing-key": c.config.RetryRoutingKey,
	}
	if err := c.declareAndBind(c.config.RetryWaitQueue, c.config.RetryWaitRoutingKey, waitArgs); err != nil {
		return err
	}

	return nil
}

func (c *Client) declareAndBind(queue, routingKey string, args amqp.Table) error {
	_, err := c.channel.QueueDeclare(
		queue,            // name
		c.config.Durable, // durable
		false,            // auto-delete
		false,            // exclusive
		false,            // no-wait
		args,             // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}

	err = c.channel.QueueBind(
		queue,                 // queue name
		routingKey,            // routing key
		c.config.ExchangeName, // exchange
		false,                 // no-wait
		nil,                   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", queue, err)
	}

	return nil
}

// Publish publishes a persistent message with the given routing key
func (c *Client) Publish(ctx context.Context, routingKey string, body []byte) error {
	if !c.isConnected {
		return fmt.Errorf("not connected to RabbitMQ")
	}

	err := c.channel.PublishWithContext(
		ctx,
		c.config.ExchangeName, // exchange
		routingKey,            // routing key
		false,                 // mandatory
		false,                 // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)

	if err != nil {
		c.logger.Error("Failed to publish message to RabbitMQ",
			slog.Any("error", err),
			slog.String("routing_key", routingKey),
		)
		return fmt.Errorf("failed to publish message: %w", err)
	}

	c.logger.Debug("Message published to RabbitMQ",
		slog.Int("body_size", len(body)),
		slog.String("routing_key", routingKey),
	)

	return nil
}

// PublishDelayed parks a message on the wait queue with a per-message TTL.
// After delay it is dead-lettered onto the retry routing key for consumption.
func (c *Client) PublishDelayed(ctx context.Context, body []byte, delay time.Duration) error {
	if !c.isConnected {
		return fmt.Errorf("not connected to RabbitMQ")
	}

	err := c.channel.PublishWithContext(
		ctx,
		c.config.ExchangeName,
		c.config.RetryWaitRoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Expiration:   fmt.Sprintf("%d", delay.Milliseconds()),
		},
	)

	if err != nil {
		c.logger.Error("Failed to publish delayed message to RabbitMQ",
			slog.Any("error", err),
			slog.Duration("delay", delay),
		)
		return fmt.Errorf("failed to publish delayed message: %w", err)
	}

	c.logger.Debug("Delayed message published to RabbitMQ",
		slog.Int("body_size", len(body)),
		slog.Duration("delay", delay),
	)

	return nil
}

// PublishWithRetry publishes a message with retry logic and exponential backoff
func (c *Client) PublishWithRetry(ctx context.Context, routingKey string, body []byte) error {
	maxRetries := c.config.PublishRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	baseDelay := c.config.PublishRetryDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}

	backoffMult := c.config.PublishBackoffMult
	if backoffMult <= 0 {
		backoffMult = 2.0
	}

	var lastErr error
	delay := baseDelay
	for attempt := 0; attempt <= maxRetries; attempt++ {
		lastErr = c.Publish(ctx, routingKey, body)
		if lastErr == nil {
			return nil
		}

		if attempt < maxRetries {
			c.logger.Warn("Publish failed, retrying",
				slog.Int("attempt", attempt+1),
				slog.Duration("delay", delay),
				slog.Any("error", lastErr),
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay = time.Duration(float64(delay) * backoffMult)
		}
	}

	return fmt.Errorf("failed to publish after %d attempts: %w", maxRetries+1, lastErr)
}

// Consume starts consuming messages from the named queue
func (c *Client) Consume(queue, consumerTag string) (<-chan amqp.Delivery, error) {
	if !c.isConnected {
		return nil, fmt.Errorf("not connected to RabbitMQ")
	}

	messages, err := c.channel.Consume(
		queue,       // queue
		consumerTag, // consumer tag
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume messages: %w", err)
	}

	c.logger.Info("Started consuming messages from RabbitMQ",
		slog.String("queue", queue),
		slog.String("consumer_tag", consumerTag),
	)

	return messages, nil
}

// Close closes the RabbitMQ connection
func (c *Client) Close() error {
	c.logger.Info("Closing RabbitMQ connection")

	c.isConnected = false

	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			c.logger.Error("Failed to close RabbitMQ channel",
				slog.Any("error", err),
			)
		}
	}

	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Error("Failed to close RabbitMQ connection",
				slog.Any("error", err),
			)
			return err
		}
	}

	return nil
}

// IsConnected returns the connection status
func (c *Client) IsConnected() bool {
	return c.isConnected && c.conn != nil && !c.conn.IsClosed()
}

// GetChannel returns the channel for advanced operations
func (c *Client) GetChannel() *amqp.Channel {
	return c.channel
}

// BatchQueue returns the configured batch issuance queue name
func (c *Client) BatchQueue() string {
	return c.config.BatchQueue
}

// BatchRoutingKey returns the routing key for batch issuance jobs
func (c *Client) BatchRoutingKey() string {
	return c.config.BatchRoutingKey
}

// RetryQueue returns the configured anchor retry queue name
func (c *Client) RetryQueue() string {
	return c.config.RetryQueue
}

// RetryRoutingKey returns the routing key for anchor retry jobs
func (c *Client) RetryRoutingKey() string {
	return c.config.RetryRoutingKey
}
