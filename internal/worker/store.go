package worker

import (
	"context"
	"time"

	"github.com/academicchain/issuance-be/internal/worker/domain"
)

// Store is the persistence surface the worker needs. The Postgres
// implementation lives in internal/worker/storage; an in-memory
// implementation backs unit tests.
type Store interface {
	GetJobByID(ctx context.Context, jobID string) (*domain.Job, error)
	ClaimJob(ctx context.Context, jobID, workerID string) (*domain.Job, error)
	UpdateJobStatus(ctx context.Context, jobID, status, errorMsg string) error
	UpdateJobProgress(ctx context.Context, jobID string, processed, failed int) (*domain.Progress, error)
	UpdateJobHeartbeat(ctx context.Context, jobID string) error
	GetJobStatus(ctx context.Context, jobID string) (string, error)
	ReclaimStalled(ctx context.Context, leaseTimeout time.Duration) ([]string, error)
	CreateJob(ctx context.Context, jobID, jobType, institutionID, payload string, totalCount int) error

	GetCredentialByHash(ctx context.Context, uniqueHash string) (*domain.Credential, error)
	EnsureCredential(ctx context.Context, cred *domain.Credential) (*domain.Credential, error)
	SetCredentialToken(ctx context.Context, uniqueHash, tokenID string, serialNumber int64) error
	SetCredentialMetadataURI(ctx context.Context, uniqueHash, metadataURI string) error
	SetCredentialStatus(ctx context.Context, uniqueHash, status string) error
	UpsertAnchor(ctx context.Context, anchor *domain.Anchor) error
	GetAnchor(ctx context.Context, uniqueHash, ledger string) (*domain.Anchor, error)
}
