package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Job represents a job row claimed by a worker
type Job struct {
	JobID          string
	JobType        string
	InstitutionID  string
	Payload        string // JSON string
	Status         string
	WorkerID       string
	TotalCount     int
	ProcessedCount int
	FailedCount    int
}

// JobMessage represents a job message from RabbitMQ
type JobMessage struct {
	JobID       string `json:"job_id"`
	DeliveryTag uint64 `json:"-"`
}

// BatchIssuePayload is the payload of a BATCH_ISSUE job
type BatchIssuePayload struct {
	Items []IssueItem `json:"items"`
}

// IssueItem describes one credential to issue within a batch
type IssueItem struct {
	CredentialID       string            `json:"credential_id"`
	StudentName        string            `json:"student_name"`
	StudentEmail       string            `json:"student_email"`
	DegreeName         string            `json:"degree_name"`
	GraduationDate     string            `json:"graduation_date"`
	RecipientAccountID string            `json:"recipient_account_id,omitempty"`
	Extra              map[string]string `json:"extra,omitempty"`
}

// RetryAnchorPayload is the payload of a RETRY_ANCHOR job
type RetryAnchorPayload struct {
	UniqueHash string `json:"unique_hash"`
	Ledger     string `json:"ledger"`
	Attempt    int    `json:"attempt"`
}

// ParseBatchIssuePayload decodes a BATCH_ISSUE payload from the job row
func ParseBatchIssuePayload(raw string) (*BatchIssuePayload, error) {
	var p BatchIssuePayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if len(p.Items) == 0 {
		return nil, fmt.Errorf("%w: batch has no items", ErrInvalidPayload)
	}
	return &p, nil
}

// ParseRetryAnchorPayload decodes a RETRY_ANCHOR payload from the job row
func ParseRetryAnchorPayload(raw string) (*RetryAnchorPayload, error) {
	var p RetryAnchorPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if p.UniqueHash == "" || p.Ledger == "" {
		return nil, fmt.Errorf("%w: unique_hash and ledger are required", ErrInvalidPayload)
	}
	return &p, nil
}

// Progress is a snapshot of batch progress used for persistence and fan-out
type Progress struct {
	JobID          string
	InstitutionID  string
	TotalCount     int
	ProcessedCount int
	FailedCount    int
	UpdatedAt      time.Time
}
