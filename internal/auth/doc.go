// Package auth implements the vault authentication and session-token
// lifecycle for sparrow-server.
//
// # Two layers of access control
//
// The server-admin gate protects vault enumeration and creation behind a
// single shared secret set at process start. Loopback callers are trusted
// without presenting it; remote callers send the secret's SHA-256 digest in
// the X-Server-Admin-Password header.
//
// Per-vault sessions are separate: each vault has one admin account whose
// credentials live with the vault itself (see the creds package). A login
// mints a short-lived access token plus, when the user opts into being
// remembered, a long-lived rotating refresh token.
//
// # Tokens
//
// Both token kinds are HS256-signed JWTs carrying the principal username,
// the vault scope, and a kind discriminator. Access tokens are verified by
// signature and expiry alone. Refresh tokens are single-use: every refresh
// rotates the token through a durable ledger, and presenting a rotated
// token again yields ErrTokenReuseDetected, which callers must treat as
// session compromise.
//
// Expiry is inclusive. All timestamps are epoch seconds and a token is
// expired from exactly its expiry second onward.
//
// # Request flow
//
//	token := bearer value from Authorization header
//	missing/malformed/invalid/expired -> 401 Unauthenticated
//	valid but wrong vault scope       -> 403 Forbidden
//	otherwise principal is attached to the request context
//
// A vault configured with auth disabled runs in ModeSyntheticAdmin: the
// verifier short-circuits to a synthetic admin principal.
package auth
