// Package apitoken issues and validates opaque, scoped API tokens.
//
// Plaintext tokens are "gbk_" followed by 32 random bytes in base64url. Only
// the SHA-256 of the plaintext and its first twelve characters are stored.
// Tokens belong to an [App]; revocation is a timestamp and deleting the app
// deletes its tokens.
//
// Scopes are names from a [Registry]. A [Principal] with no token (a cookie
// session) passes every [Check].
package apitoken
