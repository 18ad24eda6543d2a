// Package otel exposes guestauth counters as OpenTelemetry observable
// instruments on a caller-supplied Meter.
package otel
