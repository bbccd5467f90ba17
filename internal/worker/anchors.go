package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/academicchain/issuance-be/internal/config"
	"github.com/academicchain/issuance-be/internal/ledger"
	"github.com/academicchain/issuance-be/internal/metrics"
	"github.com/academicchain/issuance-be/internal/worker/domain"
)

// RetryPublisher publishes delayed retry messages. Satisfied by the shared
// RabbitMQ client; tests supply a recording fake.
type RetryPublisher interface {
	PublishDelayed(ctx context.Context, body []byte, delay time.Duration) error
}

// AnchorScheduler owns the anchor retry policy: exponential backoff with
// jitter, a hard attempt cap, and broker-side delays via the wait queue.
type AnchorScheduler struct {
	logger    *slog.Logger
	store     Store
	publisher RetryPublisher
	registry  *ledger.Registry
	metrics   *metrics.Metrics
	cfg       config.AnchorRetryConfig
}

// NewAnchorScheduler creates a scheduler with the given retry policy
func NewAnchorScheduler(logger *slog.Logger, store Store, publisher RetryPublisher, registry *ledger.Registry, m *metrics.Metrics, cfg config.AnchorRetryConfig) *AnchorScheduler {
	return &AnchorScheduler{
		logger:    logger,
		store:     store,
		publisher: publisher,
		registry:  registry,
		metrics:   m,
		cfg:       cfg,
	}
}

// Backoff computes the delay before the given attempt. Attempt 2 waits the
// base delay, each further attempt doubles it up to the cap, and jitter
// spreads retries so a recovering ledger is not hit by a thundering herd.
func (s *AnchorScheduler) Backoff(attempt int) time.Duration {
	exp := float64(s.cfg.BaseDelay) * math.Pow(2, float64(attempt-2))
	capped := math.Min(exp, float64(s.cfg.MaxDelay))

	if s.cfg.Jitter > 0 {
		spread := capped * s.cfg.Jitter
		capped = capped - spread + rand.Float64()*2*spread
	}

	if capped < 0 {
		capped = 0
	}
	return time.Duration(capped)
}

// ScheduleRetry creates a RETRY_ANCHOR job for the given attempt and parks it
// on the wait queue. When the attempt budget is spent the anchor is marked
// FAILED for good and no job is created.
func (s *AnchorScheduler) ScheduleRetry(ctx context.Context, institutionID, uniqueHash, ledgerName string, attempt int) error {
	if attempt > s.cfg.MaxAttempts {
		s.metrics.ObserveAnchor(ledgerName, "exhausted")
		s.logger.Warn("Anchor retries exhausted",
			slog.String("unique_hash", uniqueHash),
			slog.String("ledger", ledgerName),
			slog.Int("max_attempts", s.cfg.MaxAttempts),
		)
		return nil
	}

	payload, err := json.Marshal(domain.RetryAnchorPayload{
		UniqueHash: uniqueHash,
		Ledger:     ledgerName,
		Attempt:    attempt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal retry payload: %w", err)
	}

	jobID := uuid.New().String()
	if err := s.store.CreateJob(ctx, jobID, domain.JobTypeRetryAnchor, institutionID, string(payload), 1); err != nil {
		return fmt.Errorf("failed to create retry job: %w", err)
	}

	body, err := json.Marshal(domain.JobMessage{JobID: jobID})
	if err != nil {
		return fmt.Errorf("failed to marshal retry message: %w", err)
	}

	delay := s.Backoff(attempt)
	if err := s.publisher.PublishDelayed(ctx, body, delay); err != nil {
		return fmt.Errorf("failed to publish delayed retry: %w", err)
	}

	s.logger.Info("Anchor retry scheduled",
		slog.String("job_id", jobID),
		slog.String("unique_hash", uniqueHash),
		slog.String("ledger", ledgerName),
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay),
	)

	return nil
}

// RunRetry executes one RETRY_ANCHOR job: a single anchor attempt against one
// ledger. On failure the next attempt is scheduled before the job is failed,
// so the retry chain survives individual job failures.
func (s *AnchorScheduler) RunRetry(ctx context.Context, job *domain.Job) error {
	payload, err := domain.ParseRetryAnchorPayload(job.Payload)
	if err != nil {
		return err
	}

	log := s.logger.With(
		slog.String("job_id", job.JobID),
		slog.String("unique_hash", payload.UniqueHash),
		slog.String("ledger", payload.Ledger),
		slog.Int("attempt", payload.Attempt),
	)

	anchor, err := s.store.GetAnchor(ctx, payload.UniqueHash, payload.Ledger)
	if err == nil && anchor.Status == domain.AnchorStatusConfirmed {
		log.Info("Anchor already confirmed, nothing to retry")
		return nil
	}

	anchorer, err := s.registry.Secondary(payload.Ledger)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}

	start := time.Now()
	result, anchorErr := anchorer.Anchor(ctx, payload.UniqueHash)
	s.metrics.ObserveLedgerCall(payload.Ledger, "anchor", time.Since(start))

	if anchorErr != nil {
		s.metrics.ObserveAnchor(payload.Ledger, "failed")
		if upErr := s.store.UpsertAnchor(ctx, &domain.Anchor{
			UniqueHash: payload.UniqueHash,
			Ledger:     payload.Ledger,
			Status:     domain.AnchorStatusFailed,
			Attempts:   payload.Attempt,
			LastError:  anchorErr.Error(),
		}); upErr != nil {
			log.Error("Failed to record anchor failure", slog.String("error", upErr.Error()))
		}

		if schedErr := s.ScheduleRetry(ctx, job.InstitutionID, payload.UniqueHash, payload.Ledger, payload.Attempt+1); schedErr != nil {
			log.Error("Failed to schedule next anchor retry", slog.String("error", schedErr.Error()))
		}

		if payload.Attempt >= s.cfg.MaxAttempts {
			return fmt.Errorf("%w: %s attempt %d: %v", domain.ErrAnchorRetriesExhausted, payload.Ledger, payload.Attempt, anchorErr)
		}
		return fmt.Errorf("anchor attempt %d on %s failed: %w", payload.Attempt, payload.Ledger, anchorErr)
	}

	s.metrics.ObserveAnchor(payload.Ledger, "confirmed")
	if err := s.store.UpsertAnchor(ctx, &domain.Anchor{
		UniqueHash: payload.UniqueHash,
		Ledger:     payload.Ledger,
		TxID:       result.TxID,
		Status:     domain.AnchorStatusConfirmed,
		Attempts:   payload.Attempt,
	}); err != nil {
		return fmt.Errorf("failed to record confirmed anchor: %w", err)
	}

	log.Info("Anchor confirmed on retry", slog.String("tx_id", result.TxID))
	return nil
}
