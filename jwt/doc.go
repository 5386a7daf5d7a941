// Package jwt issues and verifies the paired access/refresh tokens of goIdentity.
//
// Access and refresh tokens are HS256-signed with two distinct secrets and carry an
// explicit kind claim, so a refresh token presented where an access token is expected
// is rejected with ErrTokenKindMismatch before any signature work is done.
//
// # What this package must NOT do
//
//   - Look up sessions or users. Session binding is the caller's concern.
//   - Use DecodeUnsafe output for authorization decisions.
package jwt
