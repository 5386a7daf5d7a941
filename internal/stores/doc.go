// Package stores provides the Redis-backed stores of the OTP lifecycle: OTP
// challenges and the verified-email marks that outlive them.
//
// # Design
//
// Challenges are Redis hashes with a TTL slightly longer than their logical expiry.
// Every state change that must be race-free (create-and-retire-siblings, attempt
// increment, mark-used, consume-mark) is a single Lua script over one challenge, so
// two concurrent verifies can neither under-count attempts nor both consume the same
// challenge. Only code hashes are stored, never plaintext codes.
//
// # Architecture boundaries
//
// This package owns persistence and concurrency control for challenge records. It
// does NOT generate codes, compare codes, compute expiries or decide policy: callers
// pass the clock, limits and lifetimes. Those responsibilities belong to the flow
// functions in internal/flows.
//
// # What this package must NOT do
//
//   - Import goIdentity or any sibling internal package.
//   - Log or expose plaintext codes.
package stores
