package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Credential represents an issued (or in-flight) credential record.
// UniqueHash is the idempotency key: one hash maps to at most one token.
type Credential struct {
	UniqueHash    string
	CredentialID  string
	InstitutionID string
	StudentName   string
	StudentEmail  string
	DegreeName    string
	TokenID       string
	SerialNumber  int64
	MetadataURI   string
	Status        string
	Revoked       bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Anchor records the state of one credential on one secondary ledger
type Anchor struct {
	UniqueHash string
	Ledger     string
	TxID       string
	Status     string
	Attempts   int
	LastError  string
	UpdatedAt  time.Time
}

// UniqueHash derives the deterministic idempotency key for a credential.
// The same institution, student and degree always produce the same hash,
// so replayed batches resolve to the already-issued record.
func UniqueHash(institutionID string, item IssueItem) string {
	canonical := strings.Join([]string{
		institutionID,
		strings.ToLower(strings.TrimSpace(item.StudentEmail)),
		strings.TrimSpace(item.StudentName),
		strings.TrimSpace(item.DegreeName),
		strings.TrimSpace(item.GraduationDate),
	}, "|")
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// Valid reports whether the credential verifies: the token must exist on the
// primary ledger and the record must not be revoked. Anchor state on
// secondary ledgers never affects validity.
func (c *Credential) Valid() bool {
	return c.TokenID != "" && !c.Revoked
}
