// Package metadata provides the typed metadata model attached to vector
// records: a small tagged-union Value, Document maps, a compact binary codec
// used by the shard format, and a Schema that tracks the value kinds observed
// per key within one database.
package metadata
