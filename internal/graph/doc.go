// Package graph runs a set of record caches declared by a schema.
//
// A Graph owns one cache.Cache[cache.Record] per declared cache with the
// declared dependencies registered between them. Feed ops are applied by
// a single writer: either directly through Apply, or by Run draining a
// FIFO queue filled by Enqueue from any goroutine.
//
// Every added, removed and cleared notification is recorded in a trace
// stamped by a logical clock, so replaying the same ops yields the same
// trace.
package graph
