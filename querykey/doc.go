// Package querykey provides the canonical representation of query cache keys.
//
// A Key is an ordered sequence of JSON-serializable segments. Keys are hashed
// by canonical JSON (object fields sorted) so that structurally equal keys
// address the same cache entry regardless of map iteration or struct field
// order. Matching supports exact equality and segment-prefix filters, which
// is what cache invalidation uses to select entries.
//
// Factory builds hierarchical keys for a remote table so that broad keys
// (all rows of a table) prefix-match narrower ones (a list, a single row).
package querykey
