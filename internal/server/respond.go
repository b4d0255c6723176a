// ABOUTME: JSON response and error-mapping helpers for HTTP handlers
// ABOUTME: Maps the auth error taxonomy onto status codes and stable error codes

package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sparrowpad/sparrow-server/internal/auth"
	"github.com/sparrowpad/sparrow-server/internal/store"
	"github.com/sparrowpad/sparrow-server/internal/vault"
)

// errorBody is the uniform error payload. Code is machine-readable so the
// client can tell token reuse apart from an ordinary 401 without the
// server leaking anything else.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps an error to its HTTP representation. Unauthenticated
// deliberately stays a single opaque message for every cause.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, auth.ErrTokenReuseDetected):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "refresh token reuse detected", Code: "token_reuse"})
	case errors.Is(err, auth.ErrUnauthenticated):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthenticated", Code: "unauthenticated"})
	case errors.Is(err, auth.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorBody{Error: "forbidden", Code: "forbidden"})
	case errors.Is(err, auth.ErrDenied):
		writeJSON(w, http.StatusForbidden, errorBody{Error: "server admin access denied", Code: "denied"})
	case errors.Is(err, auth.ErrAlreadyConfigured):
		writeJSON(w, http.StatusConflict, errorBody{Error: "vault already configured", Code: "already_configured"})
	case errors.Is(err, store.ErrVaultExists):
		writeJSON(w, http.StatusConflict, errorBody{Error: "vault already exists", Code: "vault_exists"})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found", Code: "not_found"})
	case errors.Is(err, vault.ErrPageNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "page not found", Code: "not_found"})
	default:
		logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", Code: "internal"})
	}
}
