package model

import (
	"database/sql"
	"time"
)

type Job struct {
	JobID          string         `db:"job_id"`
	JobType        string         `db:"job_type"`
	InstitutionID  string         `db:"institution_id"`
	Payload        string         `db:"payload"`
	Status         string         `db:"status"`
	TotalCount     int            `db:"total_count"`
	ProcessedCount int            `db:"processed_count"`
	FailedCount    int            `db:"failure_count"`
	ErrorMessage   sql.NullString `db:"error_message"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
	CompletedAt    sql.NullTime   `db:"completed_at"`
}

type Credential struct {
	UniqueHash    string         `db:"unique_hash"`
	CredentialID  string         `db:"credential_id"`
	InstitutionID string         `db:"institution_id"`
	StudentName   string         `db:"student_name"`
	StudentEmail  string         `db:"student_email"`
	DegreeName    string         `db:"degree_name"`
	TokenID       sql.NullString `db:"token_id"`
	SerialNumber  sql.NullInt64  `db:"serial_number"`
	MetadataURI   sql.NullString `db:"metadata_uri"`
	Status        string         `db:"status"`
	Revoked       bool           `db:"revoked"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

type Anchor struct {
	UniqueHash string         `db:"unique_hash"`
	Ledger     string         `db:"ledger"`
	TxID       sql.NullString `db:"tx_id"`
	Status     string         `db:"status"`
	Attempts   int            `db:"attempts"`
	LastError  sql.NullString `db:"last_error"`
	UpdatedAt  time.Time      `db:"updated_at"`
}
