// Package client is the consuming desktop application's side of the
// session protocol: an HTTP client plus a persistent session cache.
//
// The cache holds the active vault path, the remember-me flag, refresh
// tokens keyed by vault path, and the hashed server-admin secret. It is
// created on first vault selection, cleared on logout or vault switch,
// and survives a restart only when remember-me is on.
//
// Recovery rules:
//
//   - A 401 on any authenticated call is retried exactly once after a
//     refresh attempt. If the refresh fails too, the cached tokens for
//     that vault are cleared and ErrUnauthenticated surfaces to the user.
//
//   - Refresh attempts are serialized per vault, so the background
//     interval refresh and a reactive post-401 refresh cannot rotate the
//     same token concurrently and trip reuse detection on themselves.
//
//   - Token reuse detection is never retried. It clears the whole cached
//     session and forces a full re-login, since it signals that the
//     refresh token may have been exfiltrated.
package client
