package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/academicchain/issuance-be/internal/events"
	"github.com/academicchain/issuance-be/internal/worker/domain"
)

// processJob claims a job, runs it under a timeout with heartbeats, and
// records the final status
func (w *Worker) processJob(ctx context.Context, msg *domain.JobMessage) error {
	w.logger.Info("Processing job",
		slog.String("job_id", msg.JobID),
		slog.String("worker_id", w.workerID),
	)

	job, err := w.store.ClaimJob(ctx, msg.JobID, w.workerID)
	if err != nil {
		if errors.Is(err, domain.ErrJobAlreadyClaimed) {
			w.logger.Warn("Job already claimed, skipping",
				slog.String("job_id", msg.JobID),
			)
			return fmt.Errorf("job already claimed: %w", err)
		}
		return &transientError{err: fmt.Errorf("failed to claim job: %w", err)}
	}

	if w.metrics != nil {
		w.metrics.JobsInFlight.Inc()
		defer w.metrics.JobsInFlight.Dec()
	}
	started := time.Now()

	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	heartbeatDone := make(chan struct{})
	go w.sendJobHeartbeat(jobCtx, job.JobID, heartbeatDone)
	defer close(heartbeatDone)

	err = w.executeJob(jobCtx, job)

	status := domain.JobStatusCompleted
	errorMsg := ""
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, errJobCanceled) {
			status = domain.JobStatusCanceled
			errorMsg = "canceled by request"
			err = nil
		} else {
			status = domain.JobStatusFailed
			errorMsg = err.Error()
		}
	}

	if updateErr := w.store.UpdateJobStatus(ctx, job.JobID, status, errorMsg); updateErr != nil {
		w.logger.Error("Failed to update job status",
			slog.String("job_id", job.JobID),
			slog.String("status", status),
			slog.String("error", updateErr.Error()),
		)
	} else if job.JobType == domain.JobTypeBatchIssue {
		// terminal events go out after the status write so a client that
		// resyncs on the event reads the terminal row, not RUNNING
		switch status {
		case domain.JobStatusCompleted:
			w.issuer.publishTerminal(ctx, job, events.TypeJobCompleted, "")
		case domain.JobStatusFailed:
			w.issuer.publishTerminal(ctx, job, events.TypeJobFailed, errorMsg)
		}
	}

	w.metrics.ObserveJob(job.JobType, status, time.Since(started))

	if err != nil {
		w.logger.Error("Job execution failed",
			slog.String("job_id", job.JobID),
			slog.String("job_type", job.JobType),
			slog.String("error", err.Error()),
		)
		return err
	}

	w.logger.Info("Job finished",
		slog.String("job_id", job.JobID),
		slog.String("job_type", job.JobType),
		slog.String("status", status),
	)
	return nil
}

// executeJob dispatches to the handler for the job type
func (w *Worker) executeJob(ctx context.Context, job *domain.Job) error {
	switch job.JobType {
	case domain.JobTypeBatchIssue:
		return w.issuer.RunBatch(ctx, job)
	case domain.JobTypeRetryAnchor:
		return w.scheduler.RunRetry(ctx, job)
	default:
		return fmt.Errorf("%w: unknown job type %q", domain.ErrInvalidPayload, job.JobType)
	}
}

// sendJobHeartbeat periodically updates the job's heartbeat timestamp so the
// reclaimer can tell live jobs from stalled ones
func (w *Worker) sendJobHeartbeat(ctx context.Context, jobID string, done <-chan struct{}) {
	interval := w.heartbeatInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.UpdateJobHeartbeat(ctx, jobID); err != nil {
				w.logger.Warn("Failed to update job heartbeat",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
