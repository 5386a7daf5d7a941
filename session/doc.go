// Package session provides Redis-backed persistence for login sessions and their
// append-only activity streams.
//
// # Storage
//
// Each session is one JSON document whose TTL runs until its token expiry plus a
// retention window, so closed sessions stay readable for history. State changes
// (touch, token update, close) are WATCH/MULTI optimistic transactions over that one
// key. Close is idempotent: a second close returns the stored record unchanged.
// Activity entries go to a per-session Redis Stream and are never rewritten.
//
// # Architecture boundaries
//
// This package owns the [Store] and the [Session] model. It does NOT interpret
// tokens, verify credentials or decide when sessions should close. Those
// responsibilities belong to the flows and the Engine.
//
// # What this package must NOT do
//
//   - Import goIdentity or jwt (no upward imports).
//   - Perform application-level authorization decisions.
package session
