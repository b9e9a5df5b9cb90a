// Package value provides the dynamic payload types that flow into entity
// caches.
//
// Remote payloads arrive as JSON, YAML or msgpack documents. They are
// decoded into the sealed Value tree defined here before any merge
// happens, so the cache never sees untyped map[string]any data.
//
// Key constraints:
//   - Integers are always int64; floats only appear when the source had a
//     fractional or exponent part.
//   - Object iteration order is never relied upon; use SortedKeys.
//   - Null is an explicit value (Null{}), never a nil interface.
package value
