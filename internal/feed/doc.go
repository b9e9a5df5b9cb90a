// Package feed defines the operations that drive a cache graph and the
// codecs that carry them.
//
// An Op targets one named cache and is an upsert of payloads, a removal
// of ids, or a clear. Feeds arrive as files (YAML, JSON or msgpack), as
// rows of a SQLite op log, or as Kafka messages.
package feed
