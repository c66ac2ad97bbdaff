// Package audit delivers security-relevant events to a caller-supplied sink
// off the request path.
//
// The Engine decides which events to emit; this package only buffers and
// delivers them. Sinks: no-op, channel, JSON lines, and slog.
package audit
