// ABOUTME: Error taxonomy for the authentication subsystem
// ABOUTME: Sentinel errors shared by the token issuer, verifier, gate, and credential store

package auth

import "errors"

// Authentication errors. Handlers map these to HTTP status codes; callers
// should test with errors.Is since most are returned wrapped.
var (
	// ErrUnauthenticated covers missing, malformed, invalid, and expired
	// tokens as well as failed logins. The server never tells a caller
	// which of those it was.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden means the principal is valid but scoped to a different vault.
	ErrForbidden = errors.New("forbidden")

	// ErrAlreadyConfigured is returned when setup is attempted on a vault
	// that already has a credential record.
	ErrAlreadyConfigured = errors.New("vault already configured")

	// ErrTokenReuseDetected is returned when a rotated refresh token is
	// presented again. The session must be treated as compromised and the
	// caller forced through a full re-login.
	ErrTokenReuseDetected = errors.New("refresh token reuse detected")

	// ErrDenied is returned by the server-admin gate.
	ErrDenied = errors.New("server admin access denied")

	// ErrMisconfigured means the server has no admin secret, was not started
	// in insecure mode, and is asked to serve non-loopback traffic.
	ErrMisconfigured = errors.New("no server admin secret configured")
)

// Internal token errors. These are never surfaced to clients directly;
// both collapse into ErrUnauthenticated at the HTTP boundary.
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)
