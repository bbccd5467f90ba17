package dto

type CredentialInput struct {
	CredentialID       string            `json:"credential_id"`
	StudentName        string            `json:"student_name" binding:"required"`
	StudentEmail       string            `json:"student_email" binding:"required,email"`
	DegreeName         string            `json:"degree_name" binding:"required"`
	GraduationDate     string            `json:"graduation_date" binding:"required"`
	RecipientAccountID string            `json:"recipient_account_id"`
	Extra              map[string]string `json:"extra"`
}

type IssueBulkRequest struct {
	Credentials []CredentialInput `json:"credentials" binding:"required,min=1,max=500,dive"`
}

type IssueBulkResponse struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	StatusURL string `json:"status_url"`
	Total     int    `json:"total"`
}

type JobStatusResponse struct {
	JobID          string `json:"job_id"`
	JobType        string `json:"job_type"`
	Status         string `json:"status"`
	TotalCount     int    `json:"total_count"`
	ProcessedCount int    `json:"processed_count"`
	FailedCount    int    `json:"failed_count"`
	ErrorMessage   string `json:"error_message,omitempty"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
	CompletedAt    string `json:"completed_at,omitempty"`
}

type ListJobsRequest struct {
	JobType  string `form:"job_type"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobStatusResponse `json:"jobs"`
	NextCursor string              `json:"next_cursor,omitempty"`
}

type AnchorDTO struct {
	Ledger   string `json:"ledger"`
	Status   string `json:"status"`
	TxID     string `json:"tx_id,omitempty"`
	Attempts int    `json:"attempts"`
}

type VerifyResponse struct {
	Valid        bool        `json:"valid"`
	CredentialID string      `json:"credential_id,omitempty"`
	TokenID      string      `json:"token_id,omitempty"`
	SerialNumber int64       `json:"serial_number,omitempty"`
	MetadataURI  string      `json:"metadata_uri,omitempty"`
	Revoked      bool        `json:"revoked"`
	Anchors      []AnchorDTO `json:"anchors,omitempty"`
}
