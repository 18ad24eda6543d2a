// Package prometheus renders guestauth counters in the Prometheus text
// exposition format.
//
// Counters are named guestauth_*_total. The access validation histogram is
// guestauth_validate_latency_seconds. The handler is mounted by the caller;
// nothing is registered globally.
package prometheus
