package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUniqueHash(t *testing.T) {
	item := IssueItem{
		StudentName:    "Ada Lovelace",
		StudentEmail:   "ada@example.edu",
		DegreeName:     "BSc Mathematics",
		GraduationDate: "2026-06-15",
	}

	h1 := UniqueHash("inst-1", item)
	h2 := UniqueHash("inst-1", item)
	assert.Equal(t, h1, h2, "hash must be deterministic")
	assert.Len(t, h1, 64)

	// email normalization
	upper := item
	upper.StudentEmail = "  ADA@Example.edu "
	assert.Equal(t, h1, UniqueHash("inst-1", upper))

	// different institution yields a different credential
	assert.NotEqual(t, h1, UniqueHash("inst-2", item))

	// different degree yields a different credential
	other := item
	other.DegreeName = "MSc Mathematics"
	assert.NotEqual(t, h1, UniqueHash("inst-1", other))
}

func TestCredentialValid(t *testing.T) {
	tests := []struct {
		name string
		cred Credential
		want bool
	}{
		{"minted and not revoked", Credential{TokenID: "0.0.1234", Revoked: false}, true},
		{"minted but revoked", Credential{TokenID: "0.0.1234", Revoked: true}, false},
		{"never minted", Credential{TokenID: ""}, false},
		{"failed anchors do not matter", Credential{TokenID: "0.0.1234", Status: ItemStatusIssued}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cred.Valid())
		})
	}
}

func TestParseBatchIssuePayload(t *testing.T) {
	p, err := ParseBatchIssuePayload(`{"items":[{"student_name":"Ada","student_email":"ada@example.edu","degree_name":"BSc"}]}`)
	require.NoError(t, err)
	require.Len(t, p.Items, 1)
	assert.Equal(t, "Ada", p.Items[0].StudentName)

	_, err = ParseBatchIssuePayload(`{"items":[]}`)
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = ParseBatchIssuePayload(`not json`)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestParseRetryAnchorPayload(t *testing.T) {
	p, err := ParseRetryAnchorPayload(`{"unique_hash":"abc","ledger":"algorand","attempt":2}`)
	require.NoError(t, err)
	assert.Equal(t, "abc", p.UniqueHash)
	assert.Equal(t, 2, p.Attempt)

	_, err = ParseRetryAnchorPayload(`{"ledger":"algorand"}`)
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestErrorClassification(t *testing.T) {
	base := errors.New("boom")

	itemErr := NewItemError(base)
	assert.True(t, IsItemError(itemErr))
	assert.False(t, IsAdapterError(itemErr))
	assert.ErrorIs(t, itemErr, base)

	adapterErr := NewAdapterError("hedera", base)
	assert.True(t, IsAdapterError(adapterErr))
	assert.False(t, IsItemError(adapterErr))
	assert.Contains(t, adapterErr.Error(), "hedera")

	// wrapping keeps the classification visible
	wrapped := fmt.Errorf("processing item: %w", itemErr)
	assert.True(t, IsItemError(wrapped))
}
