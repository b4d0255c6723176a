// ABOUTME: Per-vault credential store persisting the single admin account as auth.json
// ABOUTME: bcrypt-hashed passwords, timing-safe verification, atomic first-time setup

package creds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/sparrowpad/sparrow-server/internal/auth"
)

// recordFile is the credential record's filename inside a vault directory.
// Each vault owns exactly one record; it never lives in shared state.
const recordFile = "auth.json"

// dummyHash is a bcrypt hash compared against when no record or no matching
// user exists, so failed lookups take as long as failed passwords.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// Record is the persisted credential record for a vault's admin account.
type Record struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store reads and writes per-vault credential records. A vault without a
// record is in the setup state: login is impossible until Setup runs.
type Store struct {
	logger *slog.Logger
}

// NewStore creates a credential store.
func NewStore(logger *slog.Logger) *Store {
	return &Store{logger: logger.With("component", "creds")}
}

// Configured reports whether the vault has a credential record.
func (s *Store) Configured(vaultDir string) bool {
	_, err := os.Stat(filepath.Join(vaultDir, recordFile))
	return err == nil
}

// Setup creates the vault's first and only admin account. It fails with
// auth.ErrAlreadyConfigured if a record already exists; O_EXCL makes two
// racing setups resolve to exactly one winner.
func (s *Store) Setup(ctx context.Context, vaultDir, username, password string) (*auth.Principal, error) {
	if username == "" || password == "" {
		return nil, fmt.Errorf("username and password are required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	now := time.Now().UTC()
	rec := Record{
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	f, err := os.OpenFile(filepath.Join(vaultDir, recordFile), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, auth.ErrAlreadyConfigured
		}
		return nil, fmt.Errorf("creating credential record: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(&rec); err != nil {
		return nil, fmt.Errorf("writing credential record: %w", err)
	}

	s.logger.Info("vault admin account created", "vault_dir", vaultDir, "username", username)
	return &auth.Principal{Username: username, IsAdmin: true}, nil
}

// Verify checks a username/password pair against the vault's record. An
// unknown user and a wrong password are indistinguishable in both the
// returned error and the time taken, to avoid user enumeration.
func (s *Store) Verify(ctx context.Context, vaultDir, username, password string) (*auth.Principal, error) {
	rec, err := s.load(vaultDir)
	if err != nil || rec.Username != username {
		_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
		return nil, auth.ErrUnauthenticated
	}

	if err := bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(password)); err != nil {
		return nil, auth.ErrUnauthenticated
	}
	return &auth.Principal{Username: rec.Username, IsAdmin: true}, nil
}

// ChangePassword replaces the account's password after verifying the old
// one. A failed verification is auth.ErrUnauthenticated.
func (s *Store) ChangePassword(ctx context.Context, vaultDir, username, oldPassword, newPassword string) error {
	if newPassword == "" {
		return fmt.Errorf("new password is required")
	}
	if _, err := s.Verify(ctx, vaultDir, username, oldPassword); err != nil {
		return err
	}

	rec, err := s.load(vaultDir)
	if err != nil {
		return auth.ErrUnauthenticated
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	rec.PasswordHash = string(hash)
	rec.UpdatedAt = time.Now().UTC()

	if err := s.write(vaultDir, rec); err != nil {
		return err
	}
	s.logger.Info("vault admin password changed", "vault_dir", vaultDir, "username", username)
	return nil
}

func (s *Store) load(vaultDir string) (*Record, error) {
	data, err := os.ReadFile(filepath.Join(vaultDir, recordFile))
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing credential record: %w", err)
	}
	return &rec, nil
}

// write replaces the record via rename so a crash mid-write never leaves a
// truncated record behind.
func (s *Store) write(vaultDir string, rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding credential record: %w", err)
	}

	tmp := filepath.Join(vaultDir, recordFile+".tmp")
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing credential record: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(vaultDir, recordFile)); err != nil {
		return fmt.Errorf("replacing credential record: %w", err)
	}
	return nil
}
