// Package store provides a SQLite-backed append-only log of feed ops.
//
// Every op gets a seq from the log; replaying the log in seq order
// rebuilds a cache graph deterministically. Op bodies are stored as
// canonical JSON.
//
// Ops may carry a source coordinate (for example a Kafka
// topic/partition/offset). A source is recorded at most once, so
// redelivered messages do not append twice.
//
// Open sets WAL journaling with synchronous=NORMAL, a five second busy
// timeout and foreign keys, then applies pending migrations tracked in
// PRAGMA user_version.
package store
