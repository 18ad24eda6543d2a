// Package limiters provides the counting policies of the auth core, built on
// ratecounter.Counter.
//
// # Limiters
//
//   - [Lockout]: per-email consecutive failure counter with a timed lock.
//   - [Resend]: per-user resend cap for an outstanding one-time code.
//   - [Throttle]: fixed-window attempt budget per key (login IP, sign-up IP).
//
// All limiters are nil-safe: calling any method on a nil receiver allows the
// operation.
//
// # What this package must NOT do
//
//   - Import guestauth or any sibling internal package.
//   - Decide consequences beyond counting; the engine maps results to errors.
package limiters
