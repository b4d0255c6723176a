// ABOUTME: HTTP handlers for vault enumeration and creation
// ABOUTME: Mounted behind the server-admin gate; orthogonal to per-vault sessions

package server

import (
	"encoding/json"
	"net/http"
	"time"
)

type createVaultRequest struct {
	Name string `json:"name"`
}

type vaultResponse struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	AuthMode   string    `json:"auth_mode"`
	Configured bool      `json:"configured"`
	CreatedAt  time.Time `json:"created_at"`
}

func (s *Server) handleVaultsList(w http.ResponseWriter, r *http.Request) {
	vaults, err := s.vaults.List(r.Context())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	resp := make([]vaultResponse, 0, len(vaults))
	for _, v := range vaults {
		resp = append(resp, vaultResponse{
			ID:         v.ID,
			Name:       v.Name,
			AuthMode:   v.AuthMode,
			Configured: s.creds.Configured(v.Path),
			CreatedAt:  v.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"vaults": resp})
}

func (s *Server) handleVaultCreate(w http.ResponseWriter, r *http.Request) {
	var req createVaultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body", Code: "bad_request"})
		return
	}

	v, err := s.vaults.Create(r.Context(), req.Name)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, vaultResponse{
		ID:        v.ID,
		Name:      v.Name,
		AuthMode:  v.AuthMode,
		CreatedAt: v.CreatedAt,
	})
}
