// Package password hashes and verifies user passwords.
//
// New hashes are argon2id in PHC string format. Verification also accepts legacy
// bcrypt hashes imported from older user stores; those, and argon2id hashes made with
// weaker parameters, report needsRehash so the caller can upgrade them after the next
// successful login.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords. Callers supply plaintext and receive hashes.
//   - Import any other goIdentity package.
//   - Log plaintext passwords.
package password
