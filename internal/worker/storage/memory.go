package storage

import (
	"context"
	"sync"
	"time"

	"github.com/academicchain/issuance-be/internal/worker/domain"
)

// MemoryStorage is an in-memory Store used by unit tests. Behavior mirrors
// the Postgres implementation, including the at-most-once token rule and
// forward-only progress counters.
type MemoryStorage struct {
	mu          sync.Mutex
	jobs        map[string]*domain.Job
	heartbeats  map[string]time.Time
	credentials map[string]*domain.Credential
	anchors     map[string]*domain.Anchor // key: uniqueHash + "|" + ledger
}

// NewMemoryStorage creates an empty in-memory store
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		jobs:        make(map[string]*domain.Job),
		heartbeats:  make(map[string]time.Time),
		credentials: make(map[string]*domain.Credential),
		anchors:     make(map[string]*domain.Anchor),
	}
}

// Jobs returns a snapshot of all job rows, for test assertions
func (m *MemoryStorage) Jobs() []*domain.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		cp := *job
		out = append(out, &cp)
	}
	return out
}

// PutJob seeds a job row for tests
func (m *MemoryStorage) PutJob(job *domain.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.JobID] = &cp
	m.heartbeats[job.JobID] = time.Now()
}

func (m *MemoryStorage) GetJobByID(_ context.Context, jobID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (m *MemoryStorage) ClaimJob(_ context.Context, jobID, workerID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.Status != domain.JobStatusPending {
		return nil, domain.ErrJobAlreadyClaimed
	}
	job.Status = domain.JobStatusRunning
	job.WorkerID = workerID
	m.heartbeats[jobID] = time.Now()
	cp := *job
	return &cp, nil
}

func (m *MemoryStorage) UpdateJobStatus(_ context.Context, jobID, status, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrJobNotFound
	}
	job.Status = status
	return nil
}

func (m *MemoryStorage) UpdateJobProgress(_ context.Context, jobID string, processed, failed int) (*domain.Progress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if processed > job.ProcessedCount {
		job.ProcessedCount = processed
	}
	if failed > job.FailedCount {
		job.FailedCount = failed
	}
	return &domain.Progress{
		JobID:          jobID,
		InstitutionID:  job.InstitutionID,
		TotalCount:     job.TotalCount,
		ProcessedCount: job.ProcessedCount,
		FailedCount:    job.FailedCount,
		UpdatedAt:      time.Now(),
	}, nil
}

func (m *MemoryStorage) UpdateJobHeartbeat(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[jobID]; !ok {
		return domain.ErrJobNotFound
	}
	m.heartbeats[jobID] = time.Now()
	return nil
}

func (m *MemoryStorage) GetJobStatus(_ context.Context, jobID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return "", domain.ErrJobNotFound
	}
	return job.Status, nil
}

func (m *MemoryStorage) ReclaimStalled(_ context.Context, leaseTimeout time.Duration) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var reclaimed []string
	cutoff := time.Now().Add(-leaseTimeout)
	for id, job := range m.jobs {
		if job.Status == domain.JobStatusRunning && m.heartbeats[id].Before(cutoff) {
			job.Status = domain.JobStatusPending
			job.WorkerID = ""
			reclaimed = append(reclaimed, id)
		}
	}
	return reclaimed, nil
}

func (m *MemoryStorage) CreateJob(_ context.Context, jobID, jobType, institutionID, payload string, totalCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[jobID] = &domain.Job{
		JobID:         jobID,
		JobType:       jobType,
		InstitutionID: institutionID,
		Payload:       payload,
		Status:        domain.JobStatusPending,
		TotalCount:    totalCount,
	}
	m.heartbeats[jobID] = time.Now()
	return nil
}

func (m *MemoryStorage) GetCredentialByHash(_ context.Context, uniqueHash string) (*domain.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cred, ok := m.credentials[uniqueHash]
	if !ok {
		return nil, domain.ErrCredentialNotFound
	}
	cp := *cred
	return &cp, nil
}

func (m *MemoryStorage) EnsureCredential(_ context.Context, cred *domain.Credential) (*domain.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.credentials[cred.UniqueHash]
	if !ok {
		cp := *cred
		cp.Status = domain.ItemStatusPending
		cp.CreatedAt = time.Now()
		cp.UpdatedAt = cp.CreatedAt
		m.credentials[cred.UniqueHash] = &cp
		existing = &cp
	}
	out := *existing
	return &out, nil
}

func (m *MemoryStorage) SetCredentialToken(_ context.Context, uniqueHash, tokenID string, serialNumber int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cred, ok := m.credentials[uniqueHash]
	if !ok {
		return domain.ErrCredentialNotFound
	}
	if cred.TokenID != "" {
		if cred.TokenID == tokenID {
			return nil
		}
		return domain.ErrTokenAlreadyAssigned
	}
	cred.TokenID = tokenID
	cred.SerialNumber = serialNumber
	cred.Status = domain.ItemStatusIssued
	cred.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStorage) SetCredentialMetadataURI(_ context.Context, uniqueHash, metadataURI string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cred, ok := m.credentials[uniqueHash]
	if !ok {
		return domain.ErrCredentialNotFound
	}
	cred.MetadataURI = metadataURI
	cred.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStorage) SetCredentialStatus(_ context.Context, uniqueHash, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cred, ok := m.credentials[uniqueHash]
	if !ok {
		return domain.ErrCredentialNotFound
	}
	cred.Status = status
	cred.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStorage) UpsertAnchor(_ context.Context, anchor *domain.Anchor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := anchor.UniqueHash + "|" + anchor.Ledger
	existing, ok := m.anchors[key]
	if ok && anchor.TxID == "" {
		anchor.TxID = existing.TxID
	}
	cp := *anchor
	cp.UpdatedAt = time.Now()
	m.anchors[key] = &cp
	return nil
}

func (m *MemoryStorage) GetAnchor(_ context.Context, uniqueHash, ledger string) (*domain.Anchor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	anchor, ok := m.anchors[uniqueHash+"|"+ledger]
	if !ok {
		return nil, domain.ErrCredentialNotFound
	}
	cp := *anchor
	return &cp, nil
}
