package domain

// Job status constants
const (
	JobStatusPending   = "PENDING"
	JobStatusRunning   = "RUNNING"
	JobStatusCompleted = "COMPLETED"
	JobStatusFailed    = "FAILED"
	JobStatusCanceled  = "CANCELED"
)

// Job type constants
const (
	JobTypeBatchIssue  = "BATCH_ISSUE"
	JobTypeRetryAnchor = "RETRY_ANCHOR"
)

// Credential item status constants
const (
	ItemStatusPending = "PENDING"
	ItemStatusIssued  = "ISSUED"
	ItemStatusFailed  = "FAILED"
	ItemStatusSkipped = "SKIPPED"
)

// Anchor status constants
const (
	AnchorStatusPending   = "PENDING"
	AnchorStatusConfirmed = "CONFIRMED"
	AnchorStatusFailed    = "FAILED"
)
