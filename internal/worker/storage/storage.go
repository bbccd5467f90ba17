package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/academicchain/issuance-be/internal/worker/domain"
)

// Storage handles all database operations for the worker
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// GetJobByID retrieves a job from the database by its ID
func (s *Storage) GetJobByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `
		SELECT job_id, job_type, institution_id, payload, status, worker_id,
		       total_count, processed_count, failure_count
		FROM jobs
		WHERE job_id = $1
	`

	var job domain.Job
	var workerID sql.NullString

	err := s.db.QueryRowContext(ctx, query, jobID).Scan(
		&job.JobID,
		&job.JobType,
		&job.InstitutionID,
		&job.Payload,
		&job.Status,
		&workerID,
		&job.TotalCount,
		&job.ProcessedCount,
		&job.FailedCount,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	if workerID.Valid {
		job.WorkerID = workerID.String
	}

	return &job, nil
}

// ClaimJob attempts to claim a job using optimistic locking.
// Returns full job details on success, error if job is already claimed or doesn't exist.
func (s *Storage) ClaimJob(ctx context.Context, jobID, workerID string) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    worker_id = $2,
		    started_at = NOW(),
		    last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $3
		  AND status = $4
		RETURNING job_id, job_type, institution_id, payload, total_count, processed_count, failure_count
	`

	var job domain.Job
	err := s.db.QueryRowContext(ctx, query, domain.JobStatusRunning, workerID, jobID, domain.JobStatusPending).Scan(
		&job.JobID,
		&job.JobType,
		&job.InstitutionID,
		&job.Payload,
		&job.TotalCount,
		&job.ProcessedCount,
		&job.FailedCount,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("Failed to claim job - already claimed or not found",
				slog.String("job_id", jobID),
				slog.String("worker_id", workerID),
			)
			return nil, domain.ErrJobAlreadyClaimed
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	job.Status = domain.JobStatusRunning
	job.WorkerID = workerID

	s.logger.Info("Job claimed successfully",
		slog.String("job_id", jobID),
		slog.String("worker_id", workerID),
		slog.String("job_type", job.JobType),
	)

	return &job, nil
}

// UpdateJobStatus updates the job status and optionally sets the error message
func (s *Storage) UpdateJobStatus(ctx context.Context, jobID, status, errorMsg string) error {
	query := `
		UPDATE jobs
		SET status = $1::text,
			error_message = NULLIF($2, ''),
			completed_at = CASE
				WHEN $1::text IN ($3::text, $4::text) THEN NOW()
				ELSE NULL
			END,
			updated_at = NOW()
		WHERE job_id = $5
	`

	_, err := s.db.ExecContext(ctx, query, status, errorMsg, domain.JobStatusCompleted, domain.JobStatusFailed, jobID)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("status", status),
	)

	return nil
}

// UpdateJobProgress advances the persisted progress counters. Counters only
// move forward, so a stale write after a reclaim cannot rewind progress.
func (s *Storage) UpdateJobProgress(ctx context.Context, jobID string, processed, failed int) (*domain.Progress, error) {
	query := `
		UPDATE jobs
		SET processed_count = GREATEST(processed_count, $1),
		    failure_count = GREATEST(failure_count, $2),
		    updated_at = NOW()
		WHERE job_id = $3
		RETURNING institution_id, total_count, processed_count, failure_count, updated_at
	`

	var p domain.Progress
	p.JobID = jobID
	err := s.db.QueryRowContext(ctx, query, processed, failed, jobID).Scan(
		&p.InstitutionID,
		&p.TotalCount,
		&p.ProcessedCount,
		&p.FailedCount,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to update job progress: %w", err)
	}

	return &p, nil
}

// UpdateJobHeartbeat updates the last_heartbeat_at timestamp for a running job
func (s *Storage) UpdateJobHeartbeat(ctx context.Context, jobID string) error {
	query := `
		UPDATE jobs
		SET last_heartbeat_at = NOW(),
		    updated_at = NOW()
		WHERE job_id = $1 AND status = $2
	`

	result, err := s.db.ExecContext(ctx, query, jobID, domain.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to update job heartbeat: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		s.logger.Warn("Job heartbeat update - no rows affected (job may not be running)",
			slog.String("job_id", jobID),
		)
	}

	return nil
}

// GetJobStatus returns only the current status of a job
func (s *Storage) GetJobStatus(ctx context.Context, jobID string) (string, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE job_id = $1`, jobID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.ErrJobNotFound
		}
		return "", fmt.Errorf("failed to get job status: %w", err)
	}
	return status, nil
}

// ReclaimStalled flips RUNNING jobs whose lease expired back to PENDING and
// returns their ids so the caller can republish them
func (s *Storage) ReclaimStalled(ctx context.Context, leaseTimeout time.Duration) ([]string, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    worker_id = NULL,
		    updated_at = NOW()
		WHERE status = $2
		  AND last_heartbeat_at < NOW() - ($3 * INTERVAL '1 second')
		RETURNING job_id
	`

	rows, err := s.db.QueryContext(ctx, query, domain.JobStatusPending, domain.JobStatusRunning, int(leaseTimeout.Seconds()))
	if err != nil {
		return nil, fmt.Errorf("failed to reclaim stalled jobs: %w", err)
	}
	defer rows.Close()

	var jobIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan reclaimed job id: %w", err)
		}
		jobIDs = append(jobIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reclaimed jobs: %w", err)
	}

	if len(jobIDs) > 0 {
		s.logger.Warn("Reclaimed stalled jobs", slog.Int("count", len(jobIDs)))
	}

	return jobIDs, nil
}

// CreateJob inserts a new job row. The worker uses this to schedule
// RETRY_ANCHOR follow-up jobs.
func (s *Storage) CreateJob(ctx context.Context, jobID, jobType, institutionID, payload string, totalCount int) error {
	query := `
		INSERT INTO jobs (job_id, job_type, institution_id, payload, status, total_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
	`

	_, err := s.db.ExecContext(ctx, query, jobID, jobType, institutionID, payload, domain.JobStatusPending, totalCount)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}
