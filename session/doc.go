// Package session provides Redis-backed session persistence, compact binary
// session encoding and the access/refresh token lifecycle built on it.
//
// # Binary encoding
//
// Sessions are stored as a versioned binary blob (see [Encode]). The rotation
// script parses the same layout server-side, so any change to the encoding
// needs a new version byte and a matching script update.
//
// # Rotation
//
// A refresh presents the current refresh token. [Store.Rotate] checks its hash,
// deletes the old session and writes the new one in a single Lua script, so of
// several concurrent refreshes with one token at most one succeeds.
//
// # Architecture boundaries
//
// [Store] owns Redis operations and the [Session] model. [Manager] combines the
// store with the jwt signer. Neither knows about users, passwords or lockout.
package session
