// Package audit relays reset-flow audit events to a sink without blocking the caller.
//
// [Dispatcher] buffers events and drains them on one goroutine. Sinks write events to a
// channel, a JSON-lines writer, a slog logger, or nowhere.
//
// The package does not decide which events to emit; the engine does. Events never carry
// PIN codes or passwords.
package audit
