// Package audit relays security events from the engine to sinks without
// blocking request paths.
//
// The engine decides which events exist; this package only buffers them and
// delivers to a [Sink] (JSON lines, the service logger, a channel or several
// at once through [MultiSink]).
package audit
