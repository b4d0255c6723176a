// ABOUTME: End-to-end handler tests for the embedded backend
// ABOUTME: Exercises the full setup, login, refresh, and page flows over httptest

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparrowpad/sparrow-server/internal/auth"
	"github.com/sparrowpad/sparrow-server/internal/config"
)

const testAdminSecret = "server-admin-secret"

// newTestServer builds a server on temp storage. httptest requests carry a
// non-loopback RemoteAddr, so the admin surface needs the secret header.
func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()

	dir := t.TempDir()
	cfg := &config.Config{
		Server:   config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Admin:    config.AdminConfig{Secret: testAdminSecret},
		Database: config.DatabaseConfig{Path: filepath.Join(dir, "sparrow.db")},
		Vaults:   config.VaultsConfig{Dir: filepath.Join(dir, "vaults")},
		Auth: config.AuthConfig{
			JWTSecret:       "0123456789abcdef0123456789abcdef",
			AccessTokenTTL:  time.Minute,
			RefreshTokenTTL: time.Hour,
		},
	}

	s, err := New(context.Background(), cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { s.store.Close() })
	return s, s.Handler()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, decorate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if decorate != nil {
		decorate(req)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func asAdmin(req *http.Request) {
	req.Header.Set(auth.ServerAdminHeader, auth.HashServerAdminSecret(testAdminSecret))
}

func withBearer(token string) func(*http.Request) {
	return func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorBody
	decodeBody(t, rec, &body)
	return body.Code
}

// createVault provisions a vault through the admin API.
func createVault(t *testing.T, h http.Handler, name string) {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/vaults", map[string]string{"name": name}, asAdmin)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

// setupVault provisions a vault and its admin account, returning nothing;
// login is the caller's business.
func setupVault(t *testing.T, h http.Handler, name, username, password string) {
	t.Helper()
	createVault(t, h, name)
	rec := doJSON(t, h, http.MethodPost, "/api/vaults/"+name+"/auth/setup",
		map[string]string{"username": username, "password": password}, asAdmin)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func login(t *testing.T, h http.Handler, vault, username, password string, remember bool) auth.TokenPair {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/vaults/"+vault+"/auth/login",
		map[string]any{"username": username, "password": password, "remember": remember}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var pair auth.TokenPair
	decodeBody(t, rec, &pair)
	return pair
}

func TestHealth(t *testing.T) {
	_, h := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminGate(t *testing.T) {
	_, h := newTestServer(t)

	// No header: denied.
	rec := doJSON(t, h, http.MethodGet, "/api/vaults", nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "denied", errorCode(t, rec))

	// Wrong secret: denied.
	rec = doJSON(t, h, http.MethodGet, "/api/vaults", nil, func(req *http.Request) {
		req.Header.Set(auth.ServerAdminHeader, auth.HashServerAdminSecret("wrong"))
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Correct secret hash: admitted.
	rec = doJSON(t, h, http.MethodGet, "/api/vaults", nil, asAdmin)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestVaultCreateAndList(t *testing.T) {
	_, h := newTestServer(t)

	createVault(t, h, "Personal")

	rec := doJSON(t, h, http.MethodPost, "/api/vaults", map[string]string{"name": "Personal"}, asAdmin)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "vault_exists", errorCode(t, rec))

	rec = doJSON(t, h, http.MethodGet, "/api/vaults", nil, asAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Vaults []vaultResponse `json:"vaults"`
	}
	decodeBody(t, rec, &list)
	require.Len(t, list.Vaults, 1)
	assert.Equal(t, "Personal", list.Vaults[0].Name)
	assert.Equal(t, "enforced", list.Vaults[0].AuthMode)
	assert.False(t, list.Vaults[0].Configured)
}

func TestStatus(t *testing.T) {
	_, h := newTestServer(t)

	// No vault selected.
	rec := doJSON(t, h, http.MethodGet, "/api/status", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st statusResponse
	decodeBody(t, rec, &st)
	assert.False(t, st.VaultSelected)
	assert.False(t, st.Configured)
	assert.True(t, st.Enabled)

	// Known vault, not yet configured.
	createVault(t, h, "Personal")
	rec = doJSON(t, h, http.MethodGet, "/api/status?vault=Personal", nil, nil)
	decodeBody(t, rec, &st)
	assert.True(t, st.VaultSelected)
	assert.False(t, st.Configured)
	assert.True(t, st.Enabled)

	// Configured after setup.
	rec = doJSON(t, h, http.MethodPost, "/api/vaults/Personal/auth/setup",
		map[string]string{"username": "alice", "password": "password123"}, asAdmin)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = doJSON(t, h, http.MethodGet, "/api/status?vault=Personal", nil, nil)
	decodeBody(t, rec, &st)
	assert.True(t, st.Configured)
}

func TestSetup_SecondAttemptConflicts(t *testing.T) {
	_, h := newTestServer(t)
	setupVault(t, h, "Personal", "alice", "password123")

	rec := doJSON(t, h, http.MethodPost, "/api/vaults/Personal/auth/setup",
		map[string]string{"username": "mallory", "password": "hunter2"}, asAdmin)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_configured", errorCode(t, rec))
}

func TestLogin(t *testing.T) {
	_, h := newTestServer(t)
	setupVault(t, h, "Personal", "alice", "password123")

	// Wrong password: opaque 401.
	rec := doJSON(t, h, http.MethodPost, "/api/vaults/Personal/auth/login",
		map[string]any{"username": "alice", "password": "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthenticated", errorCode(t, rec))

	// Unknown vault.
	rec = doJSON(t, h, http.MethodPost, "/api/vaults/Nope/auth/login",
		map[string]any{"username": "alice", "password": "password123"}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Without remember, no refresh token is issued.
	pair := login(t, h, "Personal", "alice", "password123", false)
	assert.NotEmpty(t, pair.AccessToken)
	assert.Empty(t, pair.RefreshToken)

	pair = login(t, h, "Personal", "alice", "password123", true)
	assert.NotEmpty(t, pair.RefreshToken)
}

func TestPagesFlow(t *testing.T) {
	_, h := newTestServer(t)
	setupVault(t, h, "Personal", "alice", "password123")
	pair := login(t, h, "Personal", "alice", "password123", false)
	bearer := withBearer(pair.AccessToken)

	// No token: 401.
	rec := doJSON(t, h, http.MethodGet, "/api/vaults/Personal/pages", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Write, list, read, delete.
	req := httptest.NewRequest(http.MethodPut, "/api/vaults/Personal/pages/notes/today", bytes.NewBufferString("# Today\n"))
	bearer(req)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, h, http.MethodGet, "/api/vaults/Personal/pages", nil, bearer)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Pages []string `json:"pages"`
	}
	decodeBody(t, rec, &list)
	assert.Equal(t, []string{"notes/today"}, list.Pages)

	rec = doJSON(t, h, http.MethodGet, "/api/vaults/Personal/pages/notes/today", nil, bearer)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# Today\n", rec.Body.String())

	rec = doJSON(t, h, http.MethodDelete, "/api/vaults/Personal/pages/notes/today", nil, bearer)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/vaults/Personal/pages/notes/today", nil, bearer)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPages_TokenScopedToVault(t *testing.T) {
	_, h := newTestServer(t)
	setupVault(t, h, "Personal", "alice", "password123")
	setupVault(t, h, "Work", "alice", "password123")
	pair := login(t, h, "Work", "alice", "password123", false)

	rec := doJSON(t, h, http.MethodGet, "/api/vaults/Personal/pages", nil, withBearer(pair.AccessToken))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRefresh_RotationAndReuse(t *testing.T) {
	_, h := newTestServer(t)
	setupVault(t, h, "Personal", "alice", "password123")
	pair := login(t, h, "Personal", "alice", "password123", true)

	// Rotate once.
	rec := doJSON(t, h, http.MethodPost, "/api/vaults/Personal/auth/refresh", nil, withBearer(pair.RefreshToken))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var next auth.TokenPair
	decodeBody(t, rec, &next)
	require.NotEmpty(t, next.RefreshToken)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	// Replaying the rotated token is reported as reuse, not a generic 401.
	rec = doJSON(t, h, http.MethodPost, "/api/vaults/Personal/auth/refresh", nil, withBearer(pair.RefreshToken))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "token_reuse", errorCode(t, rec))

	// The winner's token still rotates.
	rec = doJSON(t, h, http.MethodPost, "/api/vaults/Personal/auth/refresh", nil, withBearer(next.RefreshToken))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRefresh_AccessTokenRejected(t *testing.T) {
	_, h := newTestServer(t)
	setupVault(t, h, "Personal", "alice", "password123")
	pair := login(t, h, "Personal", "alice", "password123", false)

	rec := doJSON(t, h, http.MethodPost, "/api/vaults/Personal/auth/refresh", nil, withBearer(pair.AccessToken))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogout_RevokesRefreshToken(t *testing.T) {
	_, h := newTestServer(t)
	setupVault(t, h, "Personal", "alice", "password123")
	pair := login(t, h, "Personal", "alice", "password123", true)

	rec := doJSON(t, h, http.MethodPost, "/api/vaults/Personal/auth/logout", nil, withBearer(pair.RefreshToken))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/vaults/Personal/auth/refresh", nil, withBearer(pair.RefreshToken))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChangePassword(t *testing.T) {
	_, h := newTestServer(t)
	setupVault(t, h, "Personal", "alice", "password123")
	pair := login(t, h, "Personal", "alice", "password123", false)

	// Wrong old password.
	rec := doJSON(t, h, http.MethodPost, "/api/vaults/Personal/auth/password",
		map[string]string{"old_password": "wrong", "new_password": "newpass456"}, withBearer(pair.AccessToken))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/vaults/Personal/auth/password",
		map[string]string{"old_password": "password123", "new_password": "newpass456"}, withBearer(pair.AccessToken))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Old password no longer logs in, new one does.
	rec = doJSON(t, h, http.MethodPost, "/api/vaults/Personal/auth/login",
		map[string]any{"username": "alice", "password": "password123"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	login(t, h, "Personal", "alice", "newpass456", false)
}

func TestRun_RefusesSecretlessOpenBind(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		Server:   config.ServerConfig{HTTPAddr: "0.0.0.0:0"},
		Database: config.DatabaseConfig{Path: filepath.Join(dir, "sparrow.db")},
		Vaults:   config.VaultsConfig{Dir: filepath.Join(dir, "vaults")},
		Auth: config.AuthConfig{
			JWTSecret:       "0123456789abcdef0123456789abcdef",
			AccessTokenTTL:  time.Minute,
			RefreshTokenTTL: time.Hour,
		},
	}

	s, err := New(context.Background(), cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { s.store.Close() })

	err = s.Run(context.Background())
	assert.ErrorIs(t, err, auth.ErrMisconfigured)
}
