// Package password implements salted scrypt password hashing and constant-time
// verification.
//
// # Output format
//
// Hashes are encoded as two lowercase hex fields joined by a colon:
//
//	<salt hex>:<derived key hex>
//
// Cost parameters are fixed per [Scrypt] instance and are not embedded in the
// encoded value, so changing them invalidates previously stored hashes.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. Password policy (minimum
// length) is enforced by the Engine.
//
// # What this package must NOT do
//
//   - Store or retrieve passwords; callers supply plaintext and receive hashes.
//   - Import any other guestauth package.
//   - Log plaintext passwords or derived keys.
package password
