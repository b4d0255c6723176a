// ABOUTME: Vault manager coordinating the registry, on-disk layout, and per-vault config
// ABOUTME: Resolves each vault's auth mode once at load time for the session verifier

package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/sparrowpad/sparrow-server/internal/auth"
	"github.com/sparrowpad/sparrow-server/internal/store"
)

// configFile is the per-vault configuration filename. It lives inside the
// vault directory, alongside the credential record and the pages, so a
// vault directory is self-contained.
const configFile = "vault.yaml"

// Config is the per-vault configuration.
type Config struct {
	// Auth is "enabled" or "disabled". Disabled switches the session
	// verifier to the synthetic-admin mode for this vault.
	Auth string `yaml:"auth"`
}

// Manager owns vault lifecycle: creation, listing, and the mapping from
// vault name to verifier mode. Modes are resolved when a vault's config is
// loaded, never per request.
type Manager struct {
	base   string
	store  store.Store
	logger *slog.Logger

	mu    sync.RWMutex
	modes map[string]auth.Mode
}

// NewManager creates a manager over the given base directory. Existing
// registry entries have their vault.yaml read so mode resolution works
// immediately.
func NewManager(ctx context.Context, base string, st store.Store, logger *slog.Logger) (*Manager, error) {
	if err := os.MkdirAll(base, 0755); err != nil {
		return nil, fmt.Errorf("creating vaults directory: %w", err)
	}

	m := &Manager{
		base:   base,
		store:  st,
		logger: logger.With("component", "vault"),
		modes:  make(map[string]auth.Mode),
	}

	vaults, err := st.ListVaults(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading vault registry: %w", err)
	}
	for _, v := range vaults {
		mode := m.loadMode(v)
		m.modes[v.Name] = mode
	}
	return m, nil
}

// Create makes a new vault: directory, pages subdirectory, vault.yaml, and
// registry row. Returns store.ErrVaultExists if the name is taken.
func (m *Manager) Create(ctx context.Context, name string) (*store.Vault, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	path := filepath.Join(m.base, name)
	v := &store.Vault{Name: name, Path: path, AuthMode: store.AuthModeEnforced}
	if err := m.store.CreateVault(ctx, v); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Join(path, "pages"), 0755); err != nil {
		return nil, fmt.Errorf("creating vault directory: %w", err)
	}
	if err := writeConfig(path, &Config{Auth: "enabled"}); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.modes[name] = auth.ModeEnforced
	m.mu.Unlock()

	m.logger.Info("vault created", "name", name, "path", path)
	return v, nil
}

// Get retrieves a vault by name. Returns store.ErrNotFound if unknown.
func (m *Manager) Get(ctx context.Context, name string) (*store.Vault, error) {
	return m.store.GetVault(ctx, name)
}

// List returns all registered vaults.
func (m *Manager) List(ctx context.Context) ([]*store.Vault, error) {
	return m.store.ListVaults(ctx)
}

// Mode reports the session verifier mode for a vault. Unknown vaults are
// enforced; the verifier will then reject their tokens anyway.
func (m *Manager) Mode(name string) auth.Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if mode, ok := m.modes[name]; ok {
		return mode
	}
	return auth.ModeEnforced
}

// loadMode reads a vault's vault.yaml. The file in the vault directory is
// authoritative; the registry column is kept in sync for listing.
func (m *Manager) loadMode(v *store.Vault) auth.Mode {
	cfg, err := readConfig(v.Path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			m.logger.Warn("unreadable vault config, auth stays enforced", "vault", v.Name, "error", err)
		}
		return auth.ModeEnforced
	}

	if cfg.Auth == "disabled" {
		m.logger.Warn("vault runs with auth disabled", "vault", v.Name)
		if v.AuthMode != store.AuthModeDisabled {
			_ = m.store.SetVaultAuthMode(context.Background(), v.Name, store.AuthModeDisabled)
		}
		return auth.ModeSyntheticAdmin
	}
	return auth.ModeEnforced
}

func readConfig(vaultDir string) (*Config, error) {
	data, err := os.ReadFile(filepath.Join(vaultDir, configFile))
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing vault config: %w", err)
	}
	return &cfg, nil
}

func writeConfig(vaultDir string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encoding vault config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(vaultDir, configFile), data, 0644); err != nil {
		return fmt.Errorf("writing vault config: %w", err)
	}
	return nil
}

// validateName rejects vault names that would escape the base directory or
// collide with path syntax.
func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("vault name is required")
	}
	if name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) ||
		strings.HasPrefix(name, ".") {
		return fmt.Errorf("invalid vault name %q", name)
	}
	return nil
}
