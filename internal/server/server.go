// ABOUTME: HTTP server wiring for the embedded sparrowd backend
// ABOUTME: Mounts auth, vault, and page routes and manages startup/shutdown lifecycle

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sparrowpad/sparrow-server/internal/auth"
	"github.com/sparrowpad/sparrow-server/internal/config"
	"github.com/sparrowpad/sparrow-server/internal/creds"
	"github.com/sparrowpad/sparrow-server/internal/store"
	"github.com/sparrowpad/sparrow-server/internal/vault"
)

// purgeInterval is how often expired refresh-token ledger rows are dropped.
const purgeInterval = time.Hour

// Server is the embedded backend: request-per-call, stateless except for
// the store (registry + rotation ledger) and the per-vault credential
// records on disk.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	store  store.Store
	creds  *creds.Store
	vaults *vault.Manager
	issuer *auth.Issuer
	gate   *auth.Gate

	httpServer *http.Server
}

// New assembles a server from configuration. The server-admin gate gets an
// immutable config value here; nothing else ever mutates it.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	credStore := creds.NewStore(logger)

	vaults, err := vault.NewManager(ctx, cfg.Vaults.Dir, st, logger)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("loading vaults: %w", err)
	}

	issuer := auth.NewIssuer([]byte(cfg.Auth.JWTSecret), cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL, st)
	gate := auth.NewGate(auth.NewGateConfig(cfg.Admin.Secret, cfg.Admin.Insecure), logger)

	s := &Server{
		cfg:    cfg,
		logger: logger.With("component", "server"),
		store:  st,
		creds:  credStore,
		vaults: vaults,
		issuer: issuer,
		gate:   gate,
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// routes builds the request mux. Vault enumeration and creation sit behind
// the server-admin gate; vault content sits behind the session verifier.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)

	// Server-admin surface
	mux.Handle("GET /api/vaults", s.gate.Middleware(http.HandlerFunc(s.handleVaultsList)))
	mux.Handle("POST /api/vaults", s.gate.Middleware(http.HandlerFunc(s.handleVaultCreate)))
	mux.Handle("POST /api/vaults/{vault}/auth/setup", s.gate.Middleware(http.HandlerFunc(s.handleSetup)))

	// Per-vault login and refresh take credentials or a refresh token,
	// never an access token, so they stay outside the session middleware.
	mux.HandleFunc("POST /api/vaults/{vault}/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/vaults/{vault}/auth/refresh", s.handleRefresh)
	mux.HandleFunc("POST /api/vaults/{vault}/auth/logout", s.handleLogout)

	// Vault content, bearer-protected and vault-scoped
	session := auth.SessionMiddleware(s.issuer.Verifier(), s.vaults.Mode)
	mux.Handle("POST /api/vaults/{vault}/auth/password", session(http.HandlerFunc(s.handleChangePassword)))
	mux.Handle("GET /api/vaults/{vault}/pages", session(http.HandlerFunc(s.handlePagesList)))
	mux.Handle("GET /api/vaults/{vault}/pages/{page...}", session(http.HandlerFunc(s.handlePageRead)))
	mux.Handle("PUT /api/vaults/{vault}/pages/{page...}", session(http.HandlerFunc(s.handlePageWrite)))
	mux.Handle("DELETE /api/vaults/{vault}/pages/{page...}", session(http.HandlerFunc(s.handlePageDelete)))

	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	// Config validation already enforces this; re-check so a hand-built
	// Config cannot bind an open interface secretless by accident.
	if s.cfg.Admin.Secret == "" && !s.cfg.Admin.Insecure && !config.ListensLoopbackOnly(s.cfg.Server.HTTPAddr) {
		return fmt.Errorf("%w: refusing to bind %s", auth.ErrMisconfigured, s.cfg.Server.HTTPAddr)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.Server.HTTPAddr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	purge := time.NewTicker(purgeInterval)
	defer purge.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			err := s.httpServer.Shutdown(shutdownCtx)
			if cerr := s.store.Close(); err == nil {
				err = cerr
			}
			return err
		case err := <-errCh:
			s.store.Close()
			return fmt.Errorf("http server: %w", err)
		case <-purge.C:
			if err := s.store.DeleteExpiredRefreshTokens(ctx); err != nil {
				s.logger.Warn("refresh token purge failed", "error", err)
			}
		}
	}
}

// Handler exposes the route tree for tests.
func (s *Server) Handler() http.Handler {
	return s.routes()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
