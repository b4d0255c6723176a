// ABOUTME: Client-side session cache: active vault, remembered refresh tokens, admin secret hash
// ABOUTME: Keyed store interface with a JSON-file implementation that persists only under remember-me

package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrNoSession is returned when no refresh token is cached for a vault.
var ErrNoSession = errors.New("no cached session for vault")

// SessionStore is the keyed cache of remembered sessions, keyed by vault
// path. The protocol logic never touches persistence directly, so any
// backing mechanism can sit behind this interface.
type SessionStore interface {
	Get(vaultPath string) (string, error)
	Set(vaultPath, refreshToken string) error
	Remove(vaultPath string) error
}

// sessionState is the persisted shape of the cache.
type sessionState struct {
	ActiveVaultPath         string            `json:"active_vault_path"`
	RememberMe              bool              `json:"remember_me"`
	RefreshTokens           map[string]string `json:"refresh_tokens"`
	ServerAdminPasswordHash string            `json:"server_admin_password_hash,omitempty"`
}

// FileSessionStore is a SessionStore backed by a single JSON file. State
// survives a restart only when remember-me is on; without it the file is
// removed on every mutation, so a restarted client has no way back in
// short of a fresh login.
type FileSessionStore struct {
	path string

	mu    sync.Mutex
	state sessionState
}

// NewFileSessionStore loads (or initializes) the cache at path.
func NewFileSessionStore(path string) (*FileSessionStore, error) {
	s := &FileSessionStore{
		path:  path,
		state: sessionState{RefreshTokens: make(map[string]string)},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("reading session cache: %w", err)
	}
	if err := json.Unmarshal(data, &s.state); err != nil {
		// A corrupt cache only costs a re-login.
		s.state = sessionState{RefreshTokens: make(map[string]string)}
	}
	if s.state.RefreshTokens == nil {
		s.state.RefreshTokens = make(map[string]string)
	}
	return s, nil
}

// Get returns the remembered refresh token for a vault path.
func (s *FileSessionStore) Get(vaultPath string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.state.RefreshTokens[vaultPath]
	if !ok || token == "" {
		return "", ErrNoSession
	}
	return token, nil
}

// Set remembers a refresh token for a vault path.
func (s *FileSessionStore) Set(vaultPath, refreshToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.RefreshTokens[vaultPath] = refreshToken
	return s.flushLocked()
}

// Remove clears the remembered session for a vault path.
func (s *FileSessionStore) Remove(vaultPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state.RefreshTokens, vaultPath)
	return s.flushLocked()
}

// SetActiveVault records which vault the client is working in and whether
// its session should be remembered.
func (s *FileSessionStore) SetActiveVault(vaultPath string, remember bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.ActiveVaultPath = vaultPath
	s.state.RememberMe = remember
	return s.flushLocked()
}

// ActiveVault returns the active vault path and the remember-me flag.
func (s *FileSessionStore) ActiveVault() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ActiveVaultPath, s.state.RememberMe
}

// SetServerAdminHash caches the hashed server-admin secret for the session.
func (s *FileSessionStore) SetServerAdminHash(hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.ServerAdminPasswordHash = hash
	return s.flushLocked()
}

// ServerAdminHash returns the cached hashed server-admin secret, if any.
func (s *FileSessionStore) ServerAdminHash() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.ServerAdminPasswordHash
}

// Clear wipes the whole cache, e.g. on logout or when token reuse is
// detected and the session must be rebuilt from scratch.
func (s *FileSessionStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = sessionState{RefreshTokens: make(map[string]string)}
	return s.flushLocked()
}

// flushLocked persists the state. Without remember-me nothing is written
// and any previous file is removed.
func (s *FileSessionStore) flushLocked() error {
	if !s.state.RememberMe {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing session cache: %w", err)
		}
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("creating session cache directory: %w", err)
	}
	data, err := json.MarshalIndent(&s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding session cache: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("writing session cache: %w", err)
	}
	return nil
}
