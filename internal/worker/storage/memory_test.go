package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/academicchain/issuance-be/internal/worker/domain"
)

func TestMemoryStorage_ClaimIsExclusive(t *testing.T) {
	m := NewMemoryStorage()
	m.PutJob(&domain.Job{JobID: "job-1", Status: domain.JobStatusPending})

	ctx := context.Background()
	job, err := m.ClaimJob(ctx, "job-1", "worker-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRunning, job.Status)

	_, err = m.ClaimJob(ctx, "job-1", "worker-2")
	assert.ErrorIs(t, err, domain.ErrJobAlreadyClaimed)
}

func TestMemoryStorage_ProgressNeverRewinds(t *testing.T) {
	m := NewMemoryStorage()
	m.PutJob(&domain.Job{JobID: "job-1", Status: domain.JobStatusRunning, TotalCount: 10})

	ctx := context.Background()
	p, err := m.UpdateJobProgress(ctx, "job-1", 5, 1)
	require.NoError(t, err)
	assert.Equal(t, 5, p.ProcessedCount)

	// a stale write with lower counters must not rewind
	p, err = m.UpdateJobProgress(ctx, "job-1", 3, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, p.ProcessedCount)
	assert.Equal(t, 1, p.FailedCount)
}

func TestMemoryStorage_TokenAtMostOnce(t *testing.T) {
	m := NewMemoryStorage()
	ctx := context.Background()

	_, err := m.EnsureCredential(ctx, &domain.Credential{UniqueHash: "hash-1", InstitutionID: "inst-1"})
	require.NoError(t, err)

	require.NoError(t, m.SetCredentialToken(ctx, "hash-1", "0.0.5005", 42))

	// same token is an idempotent no-op
	assert.NoError(t, m.SetCredentialToken(ctx, "hash-1", "0.0.5005", 42))

	// a different token fails loudly
	err = m.SetCredentialToken(ctx, "hash-1", "0.0.9999", 7)
	assert.ErrorIs(t, err, domain.ErrTokenAlreadyAssigned)

	cred, err := m.GetCredentialByHash(ctx, "hash-1")
	require.NoError(t, err)
	assert.Equal(t, "0.0.5005", cred.TokenID)
}

func TestMemoryStorage_EnsureCredentialKeepsExisting(t *testing.T) {
	m := NewMemoryStorage()
	ctx := context.Background()

	_, err := m.EnsureCredential(ctx, &domain.Credential{UniqueHash: "hash-1", StudentName: "Ada"})
	require.NoError(t, err)
	require.NoError(t, m.SetCredentialToken(ctx, "hash-1", "0.0.5005", 42))

	// replayed batch sees the already-issued record
	cred, err := m.EnsureCredential(ctx, &domain.Credential{UniqueHash: "hash-1", StudentName: "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "0.0.5005", cred.TokenID)
}

func TestMemoryStorage_ReclaimStalled(t *testing.T) {
	m := NewMemoryStorage()
	m.PutJob(&domain.Job{JobID: "job-1", Status: domain.JobStatusRunning})
	m.PutJob(&domain.Job{JobID: "job-2", Status: domain.JobStatusRunning})

	ctx := context.Background()
	m.mu.Lock()
	m.heartbeats["job-1"] = time.Now().Add(-2 * time.Minute)
	m.mu.Unlock()

	ids, err := m.ReclaimStalled(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []string{"job-1"}, ids)

	status, err := m.GetJobStatus(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, status)

	status, err = m.GetJobStatus(ctx, "job-2")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRunning, status)
}

func TestMemoryStorage_UpsertAnchorKeepsTxID(t *testing.T) {
	m := NewMemoryStorage()
	ctx := context.Background()

	require.NoError(t, m.UpsertAnchor(ctx, &domain.Anchor{
		UniqueHash: "hash-1", Ledger: "xrpl", TxID: "XRP-TX-1", Status: domain.AnchorStatusConfirmed, Attempts: 1,
	}))

	// a later status-only write must not erase the recorded transaction
	require.NoError(t, m.UpsertAnchor(ctx, &domain.Anchor{
		UniqueHash: "hash-1", Ledger: "xrpl", Status: domain.AnchorStatusConfirmed, Attempts: 2,
	}))

	anchor, err := m.GetAnchor(ctx, "hash-1", "xrpl")
	require.NoError(t, err)
	assert.Equal(t, "XRP-TX-1", anchor.TxID)
	assert.Equal(t, 2, anchor.Attempts)
}
