package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/academicchain/issuance-be/internal/config"
	"github.com/academicchain/issuance-be/internal/events"
	"github.com/academicchain/issuance-be/internal/ledger"
	"github.com/academicchain/issuance-be/internal/metadata"
	"github.com/academicchain/issuance-be/internal/metrics"
	"github.com/academicchain/issuance-be/internal/worker"
	"github.com/academicchain/issuance-be/internal/worker/storage"
	"github.com/academicchain/issuance-be/shared/logger"
	"github.com/academicchain/issuance-be/shared/postgresql"
	"github.com/academicchain/issuance-be/shared/rabbitmq"
	"github.com/academicchain/issuance-be/shared/redis"
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
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting worker service",
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

	// Initialize the ledger gateway registry
	registry, err := ledger.NewRegistry(cfg.Ledgers)
	if err != nil {
		return fmt.Errorf("failed to initialize ledger registry: %w", err)
	}

	appLogger.Info("Ledger registry initialized",
		slog.String("primary", cfg.Ledgers.Primary.Name),
		slog.Int("secondaries", len(cfg.Ledgers.Secondaries)),
	)

	// Initialize the event broadcaster
	broadcaster, redisClient, err := initBroadcaster(&cfg.Redis, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize event broadcaster: %w", err)
	}

	// Initialize metrics and its HTTP listener
	workerMetrics := metrics.New()
	metricsSrv := startMetricsServer(cfg.Worker.MetricsPort, appLogger.Logger)

	store := storage.NewStorage(dbClient.GetDB(), appLogger.Logger)

	scheduler := worker.NewAnchorScheduler(
		appLogger.Logger,
		store,
		rabbitClient,
		registry,
		workerMetrics,
		cfg.AnchorRetry,
	)

	// Create worker instance
	workerInstance := worker.NewWorker(&worker.Config{
		Logger:            appLogger.Logger,
		Store:             store,
		RabbitClient:      rabbitClient,
		Registry:          registry,
		Publisher:         metadata.NewPinPublisher(cfg.Metadata),
		Broadcaster:       broadcaster,
		Scheduler:         scheduler,
		Metrics:           workerMetrics,
		Concurrency:       cfg.Worker.Concurrency,
		PrefetchCount:     cfg.RabbitMQ.Consumer.PrefetchCount,
		JobTimeout:        cfg.Worker.JobTimeout,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		LeaseTimeout:      cfg.Worker.LeaseTimeout,
		ReclaimInterval:   cfg.Worker.ReclaimInterval,
	})

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start worker in a goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Worker error",
			slog.Any("error", err),
		)
		return err
	}

	// Cancel context to stop worker
	cancel()

	// Give worker time to shutdown gracefully
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	// Stop worker
	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	// Cleanup function to close all resources
	cleanup := func() {
		if metricsSrv != nil {
			metricsSrv.Shutdown(shutdownCtx)
		}
		broadcaster.Close()
		if redisClient != nil {
			redisClient.Close()
		}
		if dbClient != nil {
			dbClient.Close()
		}
		if rabbitClient != nil {
			rabbitClient.Close()
		}
	}
	cleanup()

	appLogger.Info("Worker service shutdown complete")
	return nil
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
	rabbitConfig := &rabbitmq.Config{
		Host:                cfg.Host,
		Port:                cfg.Port,
		User:                cfg.User,
		Password:            cfg.Password,
		VHost:               cfg.VHost,
		ExchangeName:        cfg.Exchange.Name,
		ExchangeType:        cfg.Exchange.Type,
		BatchQueue:          cfg.Queues.Batch.Name,
		BatchRoutingKey:     cfg.Queues.Batch.RoutingKey,
		RetryQueue:          cfg.Queues.AnchorRetry.Name,
		RetryRoutingKey:     cfg.Queues.AnchorRetry.RoutingKey,
		RetryWaitQueue:      cfg.Queues.AnchorWait.Name,
		RetryWaitRoutingKey: cfg.Queues.AnchorWait.RoutingKey,
		Durable:             cfg.Exchange.Durable,
		RetryAttempts:       cfg.Connection.RetryAttempts,
		RetryInterval:       cfg.Connection.RetryInterval,
		Heartbeat:           cfg.Connection.Heartbeat,
		ConnectionTimeout:   cfg.Connection.ConnectionTimeout,
		PublishRetries:      cfg.Publish.RetryAttempts,
		PublishRetryDelay:   cfg.Publish.RetryInterval,
		PublishBackoffMult:  cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initBroadcaster picks the event broadcaster backend. An empty Redis address
// falls back to the in-process broadcaster; progress events then never reach
// the API service, so Redis should always be configured in real deployments.
func initBroadcaster(cfg *config.RedisConfig, logger *slog.Logger) (events.Broadcaster, *redis.Client, error) {
	if cfg.Address == "" {
		logger.Warn("Redis address not configured, using in-process event broadcaster")
		return events.NewMemoryBroadcaster(), nil, nil
	}

	redisClient, err := redis.NewClient(&redis.Config{
		Address:      cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	return events.NewRedisBroadcaster(redisClient.GetClient(), logger), redisClient, nil
}

// startMetricsServer exposes Prometheus metrics and a liveness endpoint
func startMetricsServer(port int, logger *slog.Logger) *http.Server {
	if port <= 0 {
		logger.Warn("Metrics port not configured, metrics endpoint disabled")
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		logger.Info("Starting metrics server", slog.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", slog.Any("error", err))
		}
	}()

	return srv
}
