package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/academicchain/issuance-be/internal/worker/domain"
)

// GetCredentialByHash retrieves a credential record by its unique hash
func (s *Storage) GetCredentialByHash(ctx context.Context, uniqueHash string) (*domain.Credential, error) {
	query := `
		SELECT unique_hash, credential_id, institution_id, student_name, student_email,
		       degree_name, COALESCE(token_id, ''), COALESCE(serial_number, 0),
		       COALESCE(metadata_uri, ''), status, revoked, created_at, updated_at
		FROM credentials
		WHERE unique_hash = $1
	`

	var cred domain.Credential
	err := s.db.QueryRowContext(ctx, query, uniqueHash).Scan(
		&cred.UniqueHash,
		&cred.CredentialID,
		&cred.InstitutionID,
		&cred.StudentName,
		&cred.StudentEmail,
		&cred.DegreeName,
		&cred.TokenID,
		&cred.SerialNumber,
		&cred.MetadataURI,
		&cred.Status,
		&cred.Revoked,
		&cred.CreatedAt,
		&cred.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to get credential: %w", err)
	}

	return &cred, nil
}

// EnsureCredential inserts the credential record if it does not exist yet and
// returns the current row either way. Concurrent inserts for the same hash
// collapse onto one row.
func (s *Storage) EnsureCredential(ctx context.Context, cred *domain.Credential) (*domain.Credential, error) {
	query := `
		INSERT INTO credentials (unique_hash, credential_id, institution_id, student_name,
		                         student_email, degree_name, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (unique_hash) DO NOTHING
	`

	_, err := s.db.ExecContext(ctx, query,
		cred.UniqueHash,
		cred.CredentialID,
		cred.InstitutionID,
		cred.StudentName,
		cred.StudentEmail,
		cred.DegreeName,
		domain.ItemStatusPending,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure credential: %w", err)
	}

	return s.GetCredentialByHash(ctx, cred.UniqueHash)
}

// SetCredentialToken records the minted token for a credential. The token is
// written at most once: if the row already carries a different token the call
// fails with ErrTokenAlreadyAssigned instead of overwriting it.
func (s *Storage) SetCredentialToken(ctx context.Context, uniqueHash, tokenID string, serialNumber int64) error {
	query := `
		UPDATE credentials
		SET token_id = $1,
		    serial_number = $2,
		    status = $3,
		    updated_at = NOW()
		WHERE unique_hash = $4 AND token_id IS NULL
	`

	result, err := s.db.ExecContext(ctx, query, tokenID, serialNumber, domain.ItemStatusIssued, uniqueHash)
	if err != nil {
		return fmt.Errorf("failed to set credential token: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		existing, getErr := s.GetCredentialByHash(ctx, uniqueHash)
		if getErr != nil {
			return getErr
		}
		if existing.TokenID == tokenID {
			return nil
		}
		s.logger.Error("Refusing to overwrite credential token",
			slog.String("unique_hash", uniqueHash),
			slog.String("existing_token", existing.TokenID),
			slog.String("new_token", tokenID),
		)
		return domain.ErrTokenAlreadyAssigned
	}

	return nil
}

// SetCredentialMetadataURI caches the pinned metadata URI on the credential
func (s *Storage) SetCredentialMetadataURI(ctx context.Context, uniqueHash, metadataURI string) error {
	query := `
		UPDATE credentials
		SET metadata_uri = $1,
		    updated_at = NOW()
		WHERE unique_hash = $2
	`

	_, err := s.db.ExecContext(ctx, query, metadataURI, uniqueHash)
	if err != nil {
		return fmt.Errorf("failed to set credential metadata uri: %w", err)
	}
	return nil
}

// SetCredentialStatus updates the item-level status of a credential
func (s *Storage) SetCredentialStatus(ctx context.Context, uniqueHash, status string) error {
	query := `
		UPDATE credentials
		SET status = $1,
		    updated_at = NOW()
		WHERE unique_hash = $2
	`

	_, err := s.db.ExecContext(ctx, query, status, uniqueHash)
	if err != nil {
		return fmt.Errorf("failed to set credential status: %w", err)
	}
	return nil
}

// UpsertAnchor records the latest state of one credential on one secondary ledger
func (s *Storage) UpsertAnchor(ctx context.Context, anchor *domain.Anchor) error {
	query := `
		INSERT INTO credential_anchors (unique_hash, ledger, tx_id, status, attempts, last_error, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, NULLIF($6, ''), NOW())
		ON CONFLICT (unique_hash, ledger) DO UPDATE
		SET tx_id = COALESCE(NULLIF(EXCLUDED.tx_id, ''), credential_anchors.tx_id),
		    status = EXCLUDED.status,
		    attempts = EXCLUDED.attempts,
		    last_error = EXCLUDED.last_error,
		    updated_at = NOW()
	`

	_, err := s.db.ExecContext(ctx, query,
		anchor.UniqueHash,
		anchor.Ledger,
		anchor.TxID,
		anchor.Status,
		anchor.Attempts,
		anchor.LastError,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert anchor: %w", err)
	}
	return nil
}

// GetAnchor retrieves the anchor row for one credential on one ledger
func (s *Storage) GetAnchor(ctx context.Context, uniqueHash, ledger string) (*domain.Anchor, error) {
	query := `
		SELECT unique_hash, ledger, COALESCE(tx_id, ''), status, attempts, COALESCE(last_error, ''), updated_at
		FROM credential_anchors
		WHERE unique_hash = $1 AND ledger = $2
	`

	var anchor domain.Anchor
	err := s.db.QueryRowContext(ctx, query, uniqueHash, ledger).Scan(
		&anchor.UniqueHash,
		&anchor.Ledger,
		&anchor.TxID,
		&anchor.Status,
		&anchor.Attempts,
		&anchor.LastError,
		&anchor.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrCredentialNotFound
		}
		return nil, fmt.Errorf("failed to get anchor: %w", err)
	}

	return &anchor, nil
}
