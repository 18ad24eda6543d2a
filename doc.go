// Package guestauth is the authentication and session-security core of the
// guestbook service.
//
// An [Engine] ties together password login with account lockout, two-factor
// authentication (TOTP, email codes, backup codes), rotating access/refresh
// sessions in redis, CSRF double-submit tokens and scoped API tokens:
//
//	engine, err := guestauth.New().
//		WithConfig(cfg).
//		WithRedis(rdb).
//		WithUserStore(users).
//		WithTwoFactorStore(pg.TwoFactor()).
//		WithAPITokenStore(pg.APITokens()).
//		WithCodeSender(mailer).
//		Build()
//
// Every operation returns an [*Error] classified by [Kind]. Transports map
// kinds to status codes and show only [Error.PublicMessage] to clients; see
// the middleware package.
//
// Collaborators that own guestbooks, entries and analytics call
// [Engine.VerifyPassword], [RequireScope] and [Engine.ValidateCSRFToken]
// and never touch the stores directly.
package guestauth
