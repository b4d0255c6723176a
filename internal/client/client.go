// ABOUTME: HTTP client for the sparrowd backend with transparent token refresh
// ABOUTME: Retries exactly once on 401; refresh attempts are serialized per vault

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sparrowpad/sparrow-server/internal/auth"
)

// Client talks to a sparrowd backend on behalf of the desktop UI. Access
// tokens are held in memory only; refresh tokens go through the
// SessionStore so remember-me sessions survive restarts.
type Client struct {
	baseURL  string
	httpc    *http.Client
	logger   *slog.Logger
	sessions SessionStore

	mu        sync.Mutex
	access    map[string]string
	refreshMu map[string]*sync.Mutex
}

// New creates a client for the backend at baseURL.
func New(baseURL string, sessions SessionStore, logger *slog.Logger) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		httpc:     &http.Client{Timeout: 30 * time.Second},
		logger:    logger.With("component", "client"),
		sessions:  sessions,
		access:    make(map[string]string),
		refreshMu: make(map[string]*sync.Mutex),
	}
}

// Status is the server's first-run/login decision triple for a vault.
type Status struct {
	Configured    bool `json:"configured"`
	Enabled       bool `json:"enabled"`
	VaultSelected bool `json:"vault_selected"`
}

// VaultInfo describes one vault in a server-admin listing.
type VaultInfo struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	AuthMode   string    `json:"auth_mode"`
	Configured bool      `json:"configured"`
	CreatedAt  time.Time `json:"created_at"`
}

// Status fetches the status triple for a vault ("" for none selected).
func (c *Client) Status(ctx context.Context, vault string) (*Status, error) {
	url := c.baseURL + "/api/status"
	if vault != "" {
		url += "?vault=" + vault
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	var st Status
	if err := c.doJSON(req, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// ListVaults enumerates vaults, presenting the cached server-admin hash.
func (c *Client) ListVaults(ctx context.Context) ([]VaultInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/vaults", nil)
	if err != nil {
		return nil, err
	}
	c.addAdminHeader(req)

	var resp struct {
		Vaults []VaultInfo `json:"vaults"`
	}
	if err := c.doJSON(req, &resp); err != nil {
		return nil, err
	}
	return resp.Vaults, nil
}

// CreateVault makes a new vault, presenting the cached server-admin hash.
func (c *Client) CreateVault(ctx context.Context, name string) (*VaultInfo, error) {
	body, _ := json.Marshal(map[string]string{"name": name})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/vaults", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.addAdminHeader(req)

	var v VaultInfo
	if err := c.doJSON(req, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// SetServerAdminSecret hashes and caches the server-admin secret for this
// session. Only the hash is kept and sent.
func (c *Client) SetServerAdminSecret(secret string) error {
	return setAdminHash(c.sessions, auth.HashServerAdminSecret(secret))
}

// Setup creates the first admin account of a vault.
func (c *Client) Setup(ctx context.Context, vault, username, password string) error {
	body, _ := json.Marshal(map[string]string{"username": username, "password": password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.vaultURL(vault, "auth/setup"), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.addAdminHeader(req)
	return c.doJSON(req, nil)
}

// Login authenticates against a vault. With remember true the returned
// refresh token is cached so the session survives a restart.
func (c *Client) Login(ctx context.Context, vault, username, password string, remember bool) error {
	body, _ := json.Marshal(map[string]any{
		"username": username,
		"password": password,
		"remember": remember,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.vaultURL(vault, "auth/login"), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	var pair auth.TokenPair
	if err := c.doJSON(req, &pair); err != nil {
		return err
	}

	c.mu.Lock()
	c.access[vault] = pair.AccessToken
	c.mu.Unlock()

	if remember && pair.RefreshToken != "" {
		if err := c.sessions.Set(vault, pair.RefreshToken); err != nil {
			c.logger.Warn("failed to persist refresh token", "vault", vault, "error", err)
		}
	}
	return nil
}

// Logout revokes the remembered refresh token and drops all cached state
// for the vault.
func (c *Client) Logout(ctx context.Context, vault string) error {
	refresh, err := c.sessions.Get(vault)
	if err == nil && refresh != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.vaultURL(vault, "auth/logout"), nil)
		if err == nil {
			req.Header.Set("Authorization", "Bearer "+refresh)
			_ = c.doJSON(req, nil)
		}
	}
	c.clearVault(vault)
	return nil
}

// Refresh rotates the vault's refresh token and installs the new pair.
// Calls for the same vault are serialized so a background refresh and a
// reactive 401 refresh can never race each other into a spurious reuse
// detection.
func (c *Client) Refresh(ctx context.Context, vault string) error {
	mu := c.vaultRefreshMu(vault)
	mu.Lock()
	defer mu.Unlock()
	return c.refreshLocked(ctx, vault)
}

func (c *Client) refreshLocked(ctx context.Context, vault string) error {
	refresh, err := c.sessions.Get(vault)
	if err != nil {
		return fmt.Errorf("%w: %w", auth.ErrUnauthenticated, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.vaultURL(vault, "auth/refresh"), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+refresh)

	var pair auth.TokenPair
	if err := c.doJSON(req, &pair); err != nil {
		// Token reuse means the session may be in someone else's hands:
		// drop everything and force a full re-login. Any other refresh
		// failure also invalidates the cached session for this vault.
		c.clearVault(vault)
		if errors.Is(err, auth.ErrTokenReuseDetected) {
			return err
		}
		return fmt.Errorf("%w: refresh failed", auth.ErrUnauthenticated)
	}

	c.mu.Lock()
	c.access[vault] = pair.AccessToken
	c.mu.Unlock()
	if err := c.sessions.Set(vault, pair.RefreshToken); err != nil {
		c.logger.Warn("failed to persist rotated refresh token", "vault", vault, "error", err)
	}
	return nil
}

// StartAutoRefresh refreshes the vault's session on a fixed interval until
// ctx is cancelled or the session dies. Runs in its own goroutine.
func (c *Client) StartAutoRefresh(ctx context.Context, vault string, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.Refresh(ctx, vault); err != nil {
					c.logger.Warn("background refresh failed", "vault", vault, "error", err)
					if errors.Is(err, auth.ErrTokenReuseDetected) {
						return
					}
				}
			}
		}
	}()
}

// ListPages lists the vault's pages.
func (c *Client) ListPages(ctx context.Context, vault string) ([]string, error) {
	var resp struct {
		Pages []string `json:"pages"`
	}
	if err := c.doVault(ctx, vault, http.MethodGet, "pages", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Pages, nil
}

// ReadPage fetches a page's markdown content.
func (c *Client) ReadPage(ctx context.Context, vault, page string) ([]byte, error) {
	resp, err := c.doAuthed(ctx, vault, http.MethodGet, "pages/"+page, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// WritePage creates or replaces a page.
func (c *Client) WritePage(ctx context.Context, vault, page string, content []byte) error {
	return c.doVault(ctx, vault, http.MethodPut, "pages/"+page, content, nil)
}

// DeletePage removes a page.
func (c *Client) DeletePage(ctx context.Context, vault, page string) error {
	return c.doVault(ctx, vault, http.MethodDelete, "pages/"+page, nil, nil)
}

// ChangePassword changes the vault admin password.
func (c *Client) ChangePassword(ctx context.Context, vault, oldPassword, newPassword string) error {
	body, _ := json.Marshal(map[string]string{
		"old_password": oldPassword,
		"new_password": newPassword,
	})
	return c.doVault(ctx, vault, http.MethodPost, "auth/password", body, nil)
}

// --- plumbing ---

func (c *Client) vaultURL(vault, suffix string) string {
	return c.baseURL + "/api/vaults/" + vault + "/" + suffix
}

func (c *Client) addAdminHeader(req *http.Request) {
	if hash := adminHash(c.sessions); hash != "" {
		req.Header.Set(auth.ServerAdminHeader, hash)
	}
}

func (c *Client) vaultRefreshMu(vault string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	mu, ok := c.refreshMu[vault]
	if !ok {
		mu = &sync.Mutex{}
		c.refreshMu[vault] = mu
	}
	return mu
}

func (c *Client) clearVault(vault string) {
	c.mu.Lock()
	delete(c.access, vault)
	c.mu.Unlock()
	_ = c.sessions.Remove(vault)
}

// doVault performs an authenticated JSON request against a vault endpoint.
func (c *Client) doVault(ctx context.Context, vault, method, suffix string, body []byte, out any) error {
	resp, err := c.doAuthed(ctx, vault, method, suffix, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// doAuthed sends a bearer-authenticated request, transparently retrying
// exactly once after a 401 by attempting a refresh first.
func (c *Client) doAuthed(ctx context.Context, vault, method, suffix string, body []byte) (*http.Response, error) {
	resp, err := c.sendWithToken(ctx, vault, method, suffix, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return checkResponse(resp)
	}
	resp.Body.Close()

	if err := c.Refresh(ctx, vault); err != nil {
		return nil, err
	}

	resp, err = c.sendWithToken(ctx, vault, method, suffix, body)
	if err != nil {
		return nil, err
	}
	return checkResponse(resp)
}

func (c *Client) sendWithToken(ctx context.Context, vault, method, suffix string, body []byte) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.vaultURL(vault, suffix), rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.mu.Lock()
	token := c.access[vault]
	c.mu.Unlock()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.httpc.Do(req)
}

// doJSON sends a request and decodes a JSON response body into out.
func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.httpc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if _, err := checkResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// checkResponse maps non-2xx responses onto the auth error taxonomy using
// the machine-readable error code.
func checkResponse(resp *http.Response) (*http.Response, error) {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)

	switch body.Code {
	case "token_reuse":
		return nil, auth.ErrTokenReuseDetected
	case "unauthenticated":
		return nil, auth.ErrUnauthenticated
	case "forbidden":
		return nil, auth.ErrForbidden
	case "denied":
		return nil, auth.ErrDenied
	case "already_configured":
		return nil, auth.ErrAlreadyConfigured
	}
	if body.Error == "" {
		return nil, fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, body.Error)
}

// --- session store helpers for the admin hash ---

// adminHinter is implemented by stores that can carry the session's
// server-admin hash; the plain keyed interface stays minimal.
type adminHinter interface {
	ServerAdminHash() string
	SetServerAdminHash(string) error
}

func adminHash(s SessionStore) string {
	if h, ok := s.(adminHinter); ok {
		return h.ServerAdminHash()
	}
	return ""
}

func setAdminHash(s SessionStore, hash string) error {
	if h, ok := s.(adminHinter); ok {
		return h.SetServerAdminHash(hash)
	}
	return nil
}
