// Package csrf implements stateless double-submit CSRF tokens.
//
// A token is hex(32 random bytes) + "." + hex(HMAC-SHA256(secret, random part)).
// Nothing is stored server side: validity is a pure function of the secret and
// the token. The same value travels in the [CookieName] cookie (readable by
// client script) and is echoed back in the [HeaderName] header.
package csrf
