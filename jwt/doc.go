// Package jwt issues and verifies the signed access and refresh tokens that back
// cookie sessions.
//
// Every token carries a "type" claim. [Manager.Verify] rejects a refresh token
// presented where an access token is expected (and vice versa), and folds every
// failure cause into [ErrInvalidToken].
package jwt
