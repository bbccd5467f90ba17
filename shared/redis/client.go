package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration
type Config struct {
	Address      string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
}

// Client wraps the go-redis client used for event fan-out
type Client struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewClient creates a new Redis client and verifies the connection
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	poolSize := config.PoolSize
	if poolSize <= 0 {
		poolSize = 10
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         config.Address,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     poolSize,
		MinIdleConns: config.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info("Successfully connected to Redis",
		slog.String("address", config.Address),
		slog.Int("db", config.DB),
	)

	return &Client{rdb: rdb, logger: logger}, nil
}

// GetClient returns the underlying *redis.Client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Ping tests the Redis connection
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	c.logger.Info("Closing Redis connection")
	if c.rdb != nil {
		return c.rdb.Close()
	}
	return nil
}
