// Package store provides SQLite-backed persistence for sparrow-server.
//
// Two concerns share one database file in the server's data directory:
//
//   - The vault registry: every vault known to this server, with its
//     on-disk path and auth mode. Vault content itself (pages, the
//     credential record) lives inside the vault's own directory and is
//     never stored here.
//
//   - The refresh-token rotation ledger: one row per outstanding refresh
//     token, keyed by the token's jti. The ledger is durable on purpose:
//     a server restart must not reopen the replay window for rotated
//     tokens.
//
// Rotation is the one operation with real concurrency stakes. See
// RotateRefreshToken: the delete-then-insert transaction guarantees that
// of two concurrent refreshes presenting the same token, exactly one
// commits.
package store
