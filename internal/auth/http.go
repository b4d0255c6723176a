// ABOUTME: HTTP session verifier middleware for vault-scoped bearer tokens
// ABOUTME: Extracts the Authorization header, validates claims, and attaches the principal to context

package auth

import (
	"net/http"
	"strings"
)

// Mode selects how the session verifier treats a vault. It is decided once
// when the vault's configuration is loaded, never per request.
type Mode int

const (
	// ModeEnforced requires a valid vault-scoped bearer token.
	ModeEnforced Mode = iota
	// ModeSyntheticAdmin short-circuits verification to a synthetic admin
	// principal. An escape hatch for trusted single-user local use, not a
	// security boundary.
	ModeSyntheticAdmin
)

// SyntheticAdmin is the principal attached to every request of a vault
// running in ModeSyntheticAdmin.
var SyntheticAdmin = &Principal{Username: "admin", IsAdmin: true}

// ModeResolver reports the verifier mode for a vault.
type ModeResolver func(vault string) Mode

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// BearerToken returns the bearer token of a request, or empty if absent or
// malformed. Used by the refresh endpoint, which takes the refresh token as
// the bearer value.
func BearerToken(r *http.Request) string {
	token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
	if errMsg != "" {
		return ""
	}
	return token
}

// SessionMiddleware creates an HTTP middleware enforcing vault-scoped
// bearer authentication. The vault name is taken from the {vault} path
// segment. Expired and invalid tokens both surface as a bare 401; a valid
// token bound to a different vault is a 403.
func SessionMiddleware(verifier *Verifier, modes ModeResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			vault := r.PathValue("vault")

			if modes(vault) == ModeSyntheticAdmin {
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), SyntheticAdmin)))
				return
			}

			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				http.Error(w, `{"error":"`+errMsg+`","code":"unauthenticated"}`, http.StatusUnauthorized)
				return
			}

			claims, err := verifier.Verify(token)
			if err != nil {
				// Do not leak expired vs invalid; clients retry a refresh
				// on any 401 regardless.
				http.Error(w, `{"error":"invalid token","code":"unauthenticated"}`, http.StatusUnauthorized)
				return
			}
			if claims.Kind != TokenKindAccess {
				http.Error(w, `{"error":"invalid token","code":"unauthenticated"}`, http.StatusUnauthorized)
				return
			}
			if claims.Vault != vault {
				http.Error(w, `{"error":"token not valid for this vault","code":"forbidden"}`, http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), claims.Principal())))
		})
	}
}
