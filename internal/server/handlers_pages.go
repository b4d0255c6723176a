// ABOUTME: HTTP handlers for the folder-per-page content surface
// ABOUTME: All routes here require a vault-scoped access token

package server

import (
	"io"
	"net/http"
)

func (s *Server) handlePagesList(w http.ResponseWriter, r *http.Request) {
	v, err := s.vaults.Get(r.Context(), r.PathValue("vault"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	pages, err := s.vaults.ListPages(v.Path)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	if pages == nil {
		pages = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pages": pages})
}

func (s *Server) handlePageRead(w http.ResponseWriter, r *http.Request) {
	v, err := s.vaults.Get(r.Context(), r.PathValue("vault"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	content, err := s.vaults.ReadPage(v.Path, r.PathValue("page"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	_, _ = w.Write(content)
}

func (s *Server) handlePageWrite(w http.ResponseWriter, r *http.Request) {
	v, err := s.vaults.Get(r.Context(), r.PathValue("vault"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	content, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "reading request body", Code: "bad_request"})
		return
	}

	if err := s.vaults.WritePage(v.Path, r.PathValue("page"), content); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (s *Server) handlePageDelete(w http.ResponseWriter, r *http.Request) {
	v, err := s.vaults.Get(r.Context(), r.PathValue("vault"))
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	if err := s.vaults.DeletePage(v.Path, r.PathValue("page")); err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
