// ABOUTME: Store interface and shared types for sparrow-server persistence
// ABOUTME: Covers the vault registry and the refresh-token rotation ledger

package store

import (
	"context"
	"errors"
	"time"

	"github.com/sparrowpad/sparrow-server/internal/auth"
)

// ErrNotFound is returned when a requested record doesn't exist.
var ErrNotFound = errors.New("not found")

// ErrVaultExists is returned when creating a vault whose name is taken.
var ErrVaultExists = errors.New("vault already exists")

// Vault auth modes as persisted in the registry.
const (
	AuthModeEnforced = "enforced"
	AuthModeDisabled = "disabled"
)

// Vault is a registry row for one note collection.
type Vault struct {
	ID        string
	Name      string
	Path      string
	AuthMode  string
	CreatedAt time.Time
}

// Store defines the persistence interface of sparrow-server. The registry
// and the rotation ledger share one database: both must survive restarts,
// the ledger explicitly so a restart never reopens the refresh replay
// window.
type Store interface {
	auth.RotationLedger

	// Vault registry
	CreateVault(ctx context.Context, vault *Vault) error
	GetVault(ctx context.Context, name string) (*Vault, error)
	ListVaults(ctx context.Context) ([]*Vault, error)
	SetVaultAuthMode(ctx context.Context, name, mode string) error

	Close() error
}
