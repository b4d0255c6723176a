// ABOUTME: Refresh-token rotation ledger backed by SQLite
// ABOUTME: Rotation is transactional so concurrent refreshes of one token resolve to a single winner

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/sparrowpad/sparrow-server/internal/auth"
)

// CreateRefreshToken records a newly issued refresh token.
func (s *SQLiteStore) CreateRefreshToken(ctx context.Context, rec *auth.RefreshTokenRecord) error {
	query := `
		INSERT INTO refresh_tokens (id, username, vault, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.Username,
		rec.Vault,
		rec.ExpiresAt.UTC().Format(time.RFC3339),
		rec.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting refresh token: %w", err)
	}

	s.logger.Debug("recorded refresh token", "id", rec.ID, "vault", rec.Vault)
	return nil
}

// RotateRefreshToken atomically invalidates oldID and records next. If
// oldID is no longer in the ledger the rotation loses: the transaction is
// rolled back and auth.ErrTokenRotated returned. SQLite serializes the two
// writes, so of two concurrent rotations of the same token exactly one
// deletes the row and commits.
func (s *SQLiteStore) RotateRefreshToken(ctx context.Context, oldID string, next *auth.RefreshTokenRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning rotation transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE id = ?`, oldID)
	if err != nil {
		return fmt.Errorf("deleting rotated token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rotation result: %w", err)
	}
	if affected == 0 {
		return auth.ErrTokenRotated
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO refresh_tokens (id, username, vault, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		next.ID,
		next.Username,
		next.Vault,
		next.ExpiresAt.UTC().Format(time.RFC3339),
		next.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting rotated token: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing rotation: %w", err)
	}

	s.logger.Debug("rotated refresh token", "old_id", oldID, "new_id", next.ID)
	return nil
}

// DeleteRefreshToken removes a refresh token from the ledger. Deleting an
// absent token is a no-op.
func (s *SQLiteStore) DeleteRefreshToken(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting refresh token: %w", err)
	}
	return nil
}

// DeleteExpiredRefreshTokens drops ledger rows past their expiry. Run
// periodically; correctness doesn't depend on it since verification checks
// expiry first.
func (s *SQLiteStore) DeleteExpiredRefreshTokens(ctx context.Context) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at <= ?`,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("purging expired refresh tokens: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.logger.Debug("purged expired refresh tokens", "count", n)
	}
	return nil
}
