// Package ratecounter provides identity-keyed counters with TTL semantics.
//
// [Counter] is the substitution point for lockout and resend bookkeeping.
// [Memory] keeps entries in-process (sharded, lazily expired, optionally swept);
// [Redis] keeps them in Redis so counters survive restarts and are shared across
// instances.
//
// Increments on the same key are atomic. Different keys never share a lock in
// [Memory] unless they hash to the same shard.
package ratecounter
