package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/academicchain/issuance-be/internal/events"
	"github.com/academicchain/issuance-be/internal/ledger"
	"github.com/academicchain/issuance-be/internal/metadata"
	"github.com/academicchain/issuance-be/internal/metrics"
	"github.com/academicchain/issuance-be/internal/worker/domain"
	"github.com/academicchain/issuance-be/shared/rabbitmq"
)

// Config holds worker configuration
type Config struct {
	Logger            *slog.Logger
	Store             Store
	RabbitClient      *rabbitmq.Client
	Registry          *ledger.Registry
	Publisher         metadata.Publisher
	Broadcaster       events.Broadcaster
	Scheduler         *AnchorScheduler
	Metrics           *metrics.Metrics
	Concurrency       int
	PrefetchCount     int
	JobTimeout        time.Duration
	HeartbeatInterval time.Duration
	LeaseTimeout      time.Duration
	ReclaimInterval   time.Duration
}

// Worker consumes issuance jobs from RabbitMQ and processes them
type Worker struct {
	logger            *slog.Logger
	store             Store
	rabbitClient      *rabbitmq.Client
	issuer            *Issuer
	scheduler         *AnchorScheduler
	metrics           *metrics.Metrics
	workerID          string
	concurrency       int
	prefetchCount     int
	jobTimeout        time.Duration
	heartbeatInterval time.Duration
	leaseTimeout      time.Duration
	reclaimInterval   time.Duration
	jobsChan          chan *domain.JobMessage
	wg                sync.WaitGroup
	stopChan          chan struct{}
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	hostname, _ := os.Hostname()
	workerID := fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8])

	issuer := NewIssuer(&IssuerConfig{
		Logger:      cfg.Logger,
		Store:       cfg.Store,
		Registry:    cfg.Registry,
		Publisher:   cfg.Publisher,
		Broadcaster: cfg.Broadcaster,
		Scheduler:   cfg.Scheduler,
		Metrics:     cfg.Metrics,
	})

	return &Worker{
		logger:            cfg.Logger,
		store:             cfg.Store,
		rabbitClient:      cfg.RabbitClient,
		issuer:            issuer,
		scheduler:         cfg.Scheduler,
		metrics:           cfg.Metrics,
		workerID:          workerID,
		concurrency:       cfg.Concurrency,
		prefetchCount:     cfg.PrefetchCount,
		jobTimeout:        cfg.JobTimeout,
		heartbeatInterval: cfg.HeartbeatInterval,
		leaseTimeout:      cfg.LeaseTimeout,
		reclaimInterval:   cfg.ReclaimInterval,
		jobsChan:          make(chan *domain.JobMessage),
		stopChan:          make(chan struct{}),
	}
}

// Start begins consuming and processing jobs. It blocks until the context is
// canceled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	batchDeliveries, err := w.setupConsumer(w.rabbitClient.BatchQueue(), "batch")
	if err != nil {
		return fmt.Errorf("failed to set up batch consumer: %w", err)
	}

	retryDeliveries, err := w.setupConsumer(w.rabbitClient.RetryQueue(), "retry")
	if err != nil {
		return fmt.Errorf("failed to set up retry consumer: %w", err)
	}

	w.spawnWorkerPool(ctx)

	w.wg.Add(2)
	go func() {
		defer w.wg.Done()
		w.startMessageDispatcher(ctx, batchDeliveries)
	}()
	go func() {
		defer w.wg.Done()
		w.startMessageDispatcher(ctx, retryDeliveries)
	}()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.runReclaimer(ctx)
	}()

	<-ctx.Done()
	w.logger.Info("Worker context canceled, stopping...")
	return nil
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}

// runReclaimer periodically returns jobs with expired leases to PENDING and
// republishes them so another worker can pick them up
func (w *Worker) runReclaimer(ctx context.Context) {
	ticker := time.NewTicker(w.reclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			jobIDs, err := w.store.ReclaimStalled(ctx, w.leaseTimeout)
			if err != nil {
				w.logger.Error("Failed to reclaim stalled jobs",
					slog.String("error", err.Error()),
				)
				continue
			}

			for _, jobID := range jobIDs {
				job, err := w.store.GetJobByID(ctx, jobID)
				if err != nil {
					w.logger.Error("Failed to load reclaimed job",
						slog.String("job_id", jobID),
						slog.String("error", err.Error()),
					)
					continue
				}

				routingKey := w.rabbitClient.BatchRoutingKey()
				if job.JobType == domain.JobTypeRetryAnchor {
					routingKey = w.rabbitClient.RetryRoutingKey()
				}

				body := []byte(fmt.Sprintf(`{"job_id":%q}`, jobID))
				if err := w.rabbitClient.PublishWithRetry(ctx, routingKey, body); err != nil {
					w.logger.Error("Failed to republish reclaimed job",
						slog.String("job_id", jobID),
						slog.String("error", err.Error()),
					)
					continue
				}

				w.logger.Warn("Republished stalled job",
					slog.String("job_id", jobID),
					slog.String("job_type", job.JobType),
				)
			}
		}
	}
}
