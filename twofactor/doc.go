// Package twofactor implements the second factor of the login flow: TOTP
// enrollment, email one-time codes with a resend cap, one-time backup codes and
// short-lived login challenges.
//
// # State
//
// Each user has exactly one [Record] whose [State] is one of [None], [Pending]
// or [Enabled]. Setup moves None to Pending, verification moves Pending to
// Enabled (minting backup codes), and disabling deletes the record.
//
// # Storage
//
// Durable configuration lives behind [Store] (postgres in production, [MemoryStore]
// for tests and development). Challenges and email codes are ephemeral and live
// in Redis ([ChallengeStore], [CodeStore]).
//
// # What this package must NOT do
//
//   - Verify passwords or create sessions; the orchestrator owns those steps.
//   - Reveal which factor matched or failed beyond the boolean outcome.
package twofactor
