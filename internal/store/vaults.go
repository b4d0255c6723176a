// ABOUTME: Vault registry store methods
// ABOUTME: Tracks known vaults, their on-disk paths, and per-vault auth mode

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateVault registers a new vault. Returns ErrVaultExists if the name is
// already taken.
func (s *SQLiteStore) CreateVault(ctx context.Context, vault *Vault) error {
	if vault.ID == "" {
		vault.ID = uuid.New().String()
	}
	if vault.AuthMode == "" {
		vault.AuthMode = AuthModeEnforced
	}
	if vault.CreatedAt.IsZero() {
		vault.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO vaults (id, name, path, auth_mode, created_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		vault.ID,
		vault.Name,
		vault.Path,
		vault.AuthMode,
		vault.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrVaultExists
		}
		return fmt.Errorf("inserting vault: %w", err)
	}

	s.logger.Debug("registered vault", "id", vault.ID, "name", vault.Name, "path", vault.Path)
	return nil
}

// GetVault retrieves a vault by name.
// Returns ErrNotFound if the vault doesn't exist.
func (s *SQLiteStore) GetVault(ctx context.Context, name string) (*Vault, error) {
	query := `
		SELECT id, name, path, auth_mode, created_at
		FROM vaults
		WHERE name = ?
	`

	var vault Vault
	var createdAt string

	err := s.db.QueryRowContext(ctx, query, name).Scan(
		&vault.ID,
		&vault.Name,
		&vault.Path,
		&vault.AuthMode,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying vault: %w", err)
	}

	vault.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &vault, nil
}

// ListVaults returns all registered vaults ordered by name.
func (s *SQLiteStore) ListVaults(ctx context.Context) ([]*Vault, error) {
	query := `
		SELECT id, name, path, auth_mode, created_at
		FROM vaults
		ORDER BY name
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying vaults: %w", err)
	}
	defer rows.Close()

	var vaults []*Vault
	for rows.Next() {
		var vault Vault
		var createdAt string
		if err := rows.Scan(&vault.ID, &vault.Name, &vault.Path, &vault.AuthMode, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning vault: %w", err)
		}
		vault.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		vaults = append(vaults, &vault)
	}
	return vaults, rows.Err()
}

// SetVaultAuthMode updates a vault's auth mode in the registry.
func (s *SQLiteStore) SetVaultAuthMode(ctx context.Context, name, mode string) error {
	if mode != AuthModeEnforced && mode != AuthModeDisabled {
		return fmt.Errorf("unknown auth mode %q", mode)
	}

	res, err := s.db.ExecContext(ctx, `UPDATE vaults SET auth_mode = ? WHERE name = ?`, mode, name)
	if err != nil {
		return fmt.Errorf("updating vault auth mode: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return ErrNotFound
	}
	return nil
}
