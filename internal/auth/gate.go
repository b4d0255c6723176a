// ABOUTME: Server-admin gate protecting vault enumeration and creation endpoints
// ABOUTME: Trusts loopback callers; everyone else must prove the shared server-admin secret

package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net"
	"net/http"
)

// ServerAdminHeader carries the SHA-256 hex digest of the server-admin
// secret. The raw secret never travels on the wire.
const ServerAdminHeader = "X-Server-Admin-Password"

// HashServerAdminSecret returns the hex digest a caller must place in
// ServerAdminHeader for the given secret.
func HashServerAdminSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// GateConfig is the immutable server-admin configuration captured once at
// process start. It is injected into the gate rather than living in a
// package-level singleton.
type GateConfig struct {
	// SecretHash is the SHA-256 digest of the configured secret, nil when
	// no secret is configured.
	SecretHash []byte
	// Insecure marks an explicit no-auth opt-in. Without it, a missing
	// secret denies every non-loopback caller.
	Insecure bool
}

// NewGateConfig derives a GateConfig from the raw configured secret.
func NewGateConfig(secret string, insecure bool) GateConfig {
	cfg := GateConfig{Insecure: insecure}
	if secret != "" {
		sum := sha256.Sum256([]byte(secret))
		cfg.SecretHash = sum[:]
	}
	return cfg
}

// Configured reports whether a server-admin secret is set.
func (c GateConfig) Configured() bool {
	return len(c.SecretHash) > 0
}

// Gate authorizes vault-enumeration and vault-creation requests. It is
// orthogonal to per-vault authentication: passing the gate says nothing
// about access to any vault's content.
type Gate struct {
	cfg    GateConfig
	logger *slog.Logger
}

// NewGate creates a gate with the given immutable configuration. Running
// without a secret in insecure mode is a conscious choice and is logged
// loudly, never silent.
func NewGate(cfg GateConfig, logger *slog.Logger) *Gate {
	if !cfg.Configured() && cfg.Insecure {
		logger.Warn("server-admin secret not configured, running in insecure mode: vault creation and listing are unprotected for remote callers")
	}
	return &Gate{cfg: cfg, logger: logger}
}

// Authorize decides whether the request may perform server-admin
// operations. Loopback callers are trusted without proof. Everyone else
// must present the hashed secret; with no secret configured they are
// denied unless the process opted into insecure mode.
func (g *Gate) Authorize(r *http.Request) error {
	if isLoopback(r.RemoteAddr) {
		return nil
	}

	if !g.cfg.Configured() {
		if g.cfg.Insecure {
			return nil
		}
		return ErrDenied
	}

	presented, err := hex.DecodeString(r.Header.Get(ServerAdminHeader))
	if err != nil || len(presented) != sha256.Size {
		return ErrDenied
	}
	if subtle.ConstantTimeCompare(presented, g.cfg.SecretHash) != 1 {
		return ErrDenied
	}
	return nil
}

// Middleware wraps a handler behind the gate.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := g.Authorize(r); err != nil {
			g.logger.Warn("server-admin request denied", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
			http.Error(w, `{"error":"server admin access denied","code":"denied"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// isLoopback reports whether the request's remote address is a loopback
// address. Unparseable addresses count as non-loopback and fail closed.
func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
