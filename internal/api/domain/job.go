package domain

import (
	"errors"
)

const (
	JobStatusPending   = "PENDING"
	JobStatusRunning   = "RUNNING"
	JobStatusCompleted = "COMPLETED"
	JobStatusFailed    = "FAILED"
	JobStatusCanceled  = "CANCELED"
)

const (
	JobTypeBatchIssue  = "BATCH_ISSUE"
	JobTypeRetryAnchor = "RETRY_ANCHOR"
)

var (
	// ErrJobNotFound covers both a missing job and a job owned by another
	// institution. Callers cannot tell the two apart.
	ErrJobNotFound = errors.New("job not found")

	// ErrCredentialNotFound is returned when no credential matches the lookup
	ErrCredentialNotFound = errors.New("credential not found")

	// ErrJobNotCancelable is returned when the job is already in a terminal state
	ErrJobNotCancelable = errors.New("job is not in a cancelable state")
)
