package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/academicchain/issuance-be/internal/worker/domain"
	"github.com/academicchain/issuance-be/shared/logger"
)

func newMockStorage(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sqlxDB := sqlx.NewDb(db, "sqlmock")
	return NewStorage(sqlxDB, logger.NewDefault().Logger), mock
}

func TestClaimJob(t *testing.T) {
	s, mock := newMockStorage(t)

	rows := sqlmock.NewRows([]string{"job_id", "job_type", "institution_id", "payload", "total_count", "processed_count", "failure_count"}).
		AddRow("job-1", domain.JobTypeBatchIssue, "inst-1", `{"items":[]}`, 10, 0, 0)

	mock.ExpectQuery("UPDATE jobs").
		WithArgs(domain.JobStatusRunning, "worker-1", "job-1", domain.JobStatusPending).
		WillReturnRows(rows)

	job, err := s.ClaimJob(context.Background(), "job-1", "worker-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRunning, job.Status)
	assert.Equal(t, "worker-1", job.WorkerID)
	assert.Equal(t, 10, job.TotalCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimJob_AlreadyClaimed(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectQuery("UPDATE jobs").
		WithArgs(domain.JobStatusRunning, "worker-1", "job-1", domain.JobStatusPending).
		WillReturnRows(sqlmock.NewRows([]string{"job_id"}))

	_, err := s.ClaimJob(context.Background(), "job-1", "worker-1")
	assert.ErrorIs(t, err, domain.ErrJobAlreadyClaimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateJobProgress(t *testing.T) {
	s, mock := newMockStorage(t)

	rows := sqlmock.NewRows([]string{"institution_id", "total_count", "processed_count", "failure_count", "updated_at"}).
		AddRow("inst-1", 10, 4, 1, time.Now())

	mock.ExpectQuery("UPDATE jobs").
		WithArgs(4, 1, "job-1").
		WillReturnRows(rows)

	p, err := s.UpdateJobProgress(context.Background(), "job-1", 4, 1)
	require.NoError(t, err)
	assert.Equal(t, 4, p.ProcessedCount)
	assert.Equal(t, 1, p.FailedCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetCredentialToken_AlreadyAssignedDifferentToken(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectExec("UPDATE credentials").
		WithArgs("0.0.9999", int64(7), domain.ItemStatusIssued, "hash-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	credRows := sqlmock.NewRows([]string{
		"unique_hash", "credential_id", "institution_id", "student_name", "student_email",
		"degree_name", "token_id", "serial_number", "metadata_uri", "status", "revoked",
		"created_at", "updated_at",
	}).AddRow("hash-1", "cred-1", "inst-1", "Ada", "ada@example.edu",
		"BSc", "0.0.5005", int64(42), "", domain.ItemStatusIssued, false,
		time.Now(), time.Now())

	mock.ExpectQuery("SELECT .+ FROM credentials").
		WithArgs("hash-1").
		WillReturnRows(credRows)

	err := s.SetCredentialToken(context.Background(), "hash-1", "0.0.9999", 7)
	assert.ErrorIs(t, err, domain.ErrTokenAlreadyAssigned)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetCredentialToken_IdempotentSameToken(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectExec("UPDATE credentials").
		WithArgs("0.0.5005", int64(42), domain.ItemStatusIssued, "hash-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	credRows := sqlmock.NewRows([]string{
		"unique_hash", "credential_id", "institution_id", "student_name", "student_email",
		"degree_name", "token_id", "serial_number", "metadata_uri", "status", "revoked",
		"created_at", "updated_at",
	}).AddRow("hash-1", "cred-1", "inst-1", "Ada", "ada@example.edu",
		"BSc", "0.0.5005", int64(42), "", domain.ItemStatusIssued, false,
		time.Now(), time.Now())

	mock.ExpectQuery("SELECT .+ FROM credentials").
		WithArgs("hash-1").
		WillReturnRows(credRows)

	err := s.SetCredentialToken(context.Background(), "hash-1", "0.0.5005", 42)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReclaimStalled(t *testing.T) {
	s, mock := newMockStorage(t)

	rows := sqlmock.NewRows([]string{"job_id"}).AddRow("job-1").AddRow("job-2")
	mock.ExpectQuery("UPDATE jobs").
		WithArgs(domain.JobStatusPending, domain.JobStatusRunning, 60).
		WillReturnRows(rows)

	ids, err := s.ReclaimStalled(context.Background(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []string{"job-1", "job-2"}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertAnchor(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectExec("INSERT INTO credential_anchors").
		WithArgs("hash-1", "algorand", "ALGO-TX-1", domain.AnchorStatusConfirmed, 2, "").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.UpsertAnchor(context.Background(), &domain.Anchor{
		UniqueHash: "hash-1",
		Ledger:     "algorand",
		TxID:       "ALGO-TX-1",
		Status:     domain.AnchorStatusConfirmed,
		Attempts:   2,
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
