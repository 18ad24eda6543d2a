package guestauth

import (
	"io"
	"log/slog"

	internalaudit "github.com/MrEthical07/guestauth/internal/audit"
	"github.com/MrEthical07/guestauth/internal/logging"
)

// AuditEvent is one recorded security outcome.
type AuditEvent = internalaudit.Event

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink = internalaudit.Sink

// ChannelSink buffers events in a channel.
type ChannelSink = internalaudit.ChannelSink

// NewChannelSink returns a sink backed by a channel of size buffer.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink writes one JSON event per line to w.
func NewJSONWriterSink(w io.Writer) AuditSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewLogSink writes events as "audit" records through l.
func NewLogSink(l *slog.Logger) AuditSink {
	return internalaudit.NewLogSink(logging.NewSlogLogger(l))
}

// MultiSink fans each event out to every sink.
func MultiSink(sinks ...AuditSink) AuditSink {
	return internalaudit.MultiSink(sinks)
}
