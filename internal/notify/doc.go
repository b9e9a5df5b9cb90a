// Package notify implements a synchronous, ordered listener hub.
//
// A Hub delivers each emitted event to every listener registered at the
// moment Emit was called, in subscription order. A listener that fails,
// whether by returning an error or by panicking, never prevents the
// remaining listeners from running. Failures are logged through slog and,
// when the hub's escalation predicate matches, returned from Emit.
//
// Hubs are not safe for concurrent use; they belong to the single writer
// that owns the surrounding cache.
package notify
