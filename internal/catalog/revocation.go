package catalog

import (
	"context"
	"fmt"

	"github.com/nilbase/nildb/internal/database"
)

// Revoke records tokenID in the durable revocation journal (spec §4.3 step
// 7's "root token id must not appear in the revocation journal"). Re-revoking
// an already-revoked id is a no-op.
func (s *Store) Revoke(ctx context.Context, tokenID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO revoked_tokens (token_id, revoked_at) VALUES (?, ?)
		 ON CONFLICT (token_id) DO NOTHING`,
		tokenID, database.Now())
	if err != nil {
		return fmt.Errorf("revoking token %s: %w", tokenID, err)
	}
	return nil
}

// IsRevoked implements internal/nuc.Journal, the durable source of truth
// internal/nuc.RevocationCache falls back to on a cache miss.
func (s *Store) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM revoked_tokens WHERE token_id = ?`, tokenID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking revocation for %s: %w", tokenID, err)
	}
	return count > 0, nil
}
