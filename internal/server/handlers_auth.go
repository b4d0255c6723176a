// ABOUTME: HTTP handlers for vault setup, login, refresh, logout, and password change
// ABOUTME: Translates the token-lifecycle contract into the wire protocol

package server

import (
	"encoding/json"
	"net/http"

	"github.com/sparrowpad/sparrow-server/internal/auth"
)

type setupRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Remember bool   `json:"remember"`
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

type statusResponse struct {
	Configured    bool `json:"configured"`
	Enabled       bool `json:"enabled"`
	VaultSelected bool `json:"vault_selected"`
}

// handleStatus reports whether a vault is ready for login or still needs
// first-run setup. The vault is named in the ?vault query parameter; with
// none given the response only says that no vault is selected.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Enabled: true}

	name := r.URL.Query().Get("vault")
	if name == "" {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	v, err := s.vaults.Get(r.Context(), name)
	if err != nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp.VaultSelected = true
	resp.Configured = s.creds.Configured(v.Path)
	resp.Enabled = s.vaults.Mode(name) == auth.ModeEnforced
	writeJSON(w, http.StatusOK, resp)
}

// handleSetup creates a vault's first admin account. Mounted behind the
// server-admin gate: an unconfigured vault must not be claimable by any
// remote caller that happens to find it first.
func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	v, err := s.vaults.Get(r.Context(), r.PathValue("vault"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	var req setupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body", Code: "bad_request"})
		return
	}

	principal, err := s.creds.Setup(r.Context(), v.Path, req.Username, req.Password)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"username": principal.Username,
		"is_admin": principal.IsAdmin,
	})
}

// handleLogin verifies credentials and mints a token pair. The refresh
// token is only present when the caller asked to be remembered.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	v, err := s.vaults.Get(r.Context(), r.PathValue("vault"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body", Code: "bad_request"})
		return
	}

	principal, err := s.creds.Verify(r.Context(), v.Path, req.Username, req.Password)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	pair, err := s.issuer.IssueTokens(r.Context(), principal, v.Name, req.Remember)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	s.logger.Info("vault login", "vault", v.Name, "username", principal.Username, "remember", req.Remember)
	writeJSON(w, http.StatusOK, pair)
}

// handleRefresh rotates a refresh token presented as the bearer value and
// returns a fresh pair. Reuse of a rotated token is reported with its own
// error code so the client forces a full re-login.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	token := auth.BearerToken(r)
	if token == "" {
		writeError(w, s.logger, auth.ErrUnauthenticated)
		return
	}

	pair, principal, err := s.issuer.Refresh(r.Context(), token)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	s.logger.Debug("session refreshed", "vault", r.PathValue("vault"), "username", principal.Username)
	writeJSON(w, http.StatusOK, pair)
}

// handleLogout revokes the presented refresh token. Always succeeds; a
// token that is already gone has nothing left to revoke.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := auth.BearerToken(r); token != "" {
		if err := s.issuer.Revoke(r.Context(), token); err != nil {
			writeError(w, s.logger, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// handleChangePassword runs behind the session verifier and still demands
// the old password before accepting a new one.
func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	v, err := s.vaults.Get(r.Context(), r.PathValue("vault"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body", Code: "bad_request"})
		return
	}

	principal := auth.MustPrincipal(r.Context())
	if err := s.creds.ChangePassword(r.Context(), v.Path, principal.Username, req.OldPassword, req.NewPassword); err != nil {
		writeError(w, s.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "password changed"})
}
