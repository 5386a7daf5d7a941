// Package goIdentity is a multi-tenant identity core: one-time email codes, password
// login, HS256 access/refresh tokens and Redis-backed sessions with activity streams.
//
// Engine methods are safe to call from multiple goroutines after [Builder.Build].
// The tenant of every call comes from the context ([WithTenantID], default "0").
//
// # Architecture boundaries
//
// goIdentity is the public surface. It exposes [Engine], [Builder], [Config], the
// collaborator interfaces [UserDirectory] and [Notifier], and the error values.
// Flow orchestration, stores, limiters and code generation live under internal/ and
// are reached only through Engine methods.
//
// # What this package must NOT do
//
//   - Deliver email. Codes leave the Engine through a [Notifier].
//   - Persist accounts. Users live behind a [UserDirectory].
//   - Block a request on session activity bookkeeping ([Engine.TrackActivity] is
//     fire-and-forget).
//
// # OTP lifecycle
//
// A challenge is created by [Engine.SendOTP], at most one is live per (email,
// purpose), and it ends verified, exhausted, expired or superseded. Codes are stored
// as SHA-256 hashes and compared in constant time.
package goIdentity
