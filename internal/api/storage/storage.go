package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/academicchain/issuance-be/internal/api/domain"
	"github.com/academicchain/issuance-be/internal/api/model"
	"github.com/academicchain/issuance-be/shared/postgresql"
)

type Storage struct {
	db *sqlx.DB
}

func NewStorage(pg *postgresql.Client) *Storage {
	return &Storage{
		db: pg.GetDB(),
	}
}

func (s *Storage) CreateJob(ctx context.Context, job *model.Job) error {
	query := `
		INSERT INTO jobs (
			job_id, job_type, institution_id, payload,
			status, total_count, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		job.JobID,
		job.JobType,
		job.InstitutionID,
		job.Payload,
		job.Status,
		job.TotalCount,
		job.CreatedAt,
		job.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetJob reads one job scoped to its owning institution. A job owned by a
// different institution looks exactly like a missing job.
func (s *Storage) GetJob(ctx context.Context, jobID, institutionID string) (*model.Job, error) {
	var job model.Job
	query := `
		SELECT
			job_id, job_type, institution_id, payload, status,
			total_count, processed_count, failure_count,
			error_message, created_at, updated_at, completed_at
		FROM jobs
		WHERE job_id = $1 AND institution_id = $2
	`

	err := s.db.GetContext(ctx, &job, query, jobID, institutionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

type JobFilter struct {
	InstitutionID string
	JobType       string
	Status        string
	PageSize      int
	Cursor        *JobCursor
}

type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

func (s *Storage) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `
        SELECT
            job_id, job_type, institution_id, payload, status,
            total_count, processed_count, failure_count,
            error_message, created_at, updated_at, completed_at
        FROM jobs
        WHERE institution_id = $1
    `
	args := []interface{}{filter.InstitutionID}
	argIdx := 2

	if filter.JobType != "" {
		query += fmt.Sprintf(" AND job_type = $%d", argIdx)
		args = append(args, filter.JobType)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, job_id DESC"

	// one extra row tells us whether a next page exists
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []model.Job
	err := s.db.SelectContext(ctx, &jobs, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}

// CancelJob marks a PENDING or RUNNING job CANCELED. The worker checks the
// status between items, so a running batch stops at the next item boundary.
func (s *Storage) CancelJob(ctx context.Context, jobID, institutionID string) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    updated_at = NOW()
		WHERE job_id = $2
		  AND institution_id = $3
		  AND status IN ($4, $5)
	`

	result, err := s.db.ExecContext(ctx, query,
		domain.JobStatusCanceled, jobID, institutionID,
		domain.JobStatusPending, domain.JobStatusRunning,
	)
	if err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		if _, getErr := s.GetJob(ctx, jobID, institutionID); getErr != nil {
			return getErr
		}
		return domain.ErrJobNotCancelable
	}

	return nil
}

// GetCredential looks a credential up by its public identifier, either the
// caller-supplied credential id or the unique hash. Verification is public,
// so there is no institution scope here.
func (s *Storage) GetCredential(ctx context.Context, id string) (*model.Credential, error) {
	var cred model.Credential
	query := `
		SELECT unique_hash, credential_id, institution_id, student_name, student_email,
		       degree_name, token_id, serial_number, metadata_uri, status, revoked,
		       created_at, updated_at
		FROM credentials
		WHERE credential_id = $1 OR unique_hash = $1
	`

	err := s.db.GetContext(ctx, &cred, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	return &cred, nil
}

// GetAnchors returns the anchor rows for a credential in ledger order
func (s *Storage) GetAnchors(ctx context.Context, uniqueHash string) ([]model.Anchor, error) {
	query := `
		SELECT unique_hash, ledger, tx_id, status, attempts, last_error, updated_at
		FROM credential_anchors
		WHERE unique_hash = $1
		ORDER BY ledger
	`

	var anchors []model.Anchor
	err := s.db.SelectContext(ctx, &anchors, query, uniqueHash)
	if err != nil {
		return nil, fmt.Errorf("failed to get anchors: %w", err)
	}

	return anchors, nil
}
