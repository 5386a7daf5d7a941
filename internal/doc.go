// Package internal contains helper utilities that are intentionally private to goIdentity:
// one-time code generation, opaque id generation and secret hashing.
//
// # Sub-packages
//
//   - flows: pure-function orchestrators for every Engine operation
//   - limiters: OTP request throttles
//   - rate: login attempt throttle primitives
//   - stores: Redis-backed OTP challenge and verified-email stores
//
// # What this package must NOT do
//
//   - Export types that appear in the public goIdentity API.
//   - Hold process-wide generator or cache state.
package internal
