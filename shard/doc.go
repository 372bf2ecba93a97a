// Package shard owns the on-disk representation of a database: an ordered
// set of append-only shard files under the data directory.
//
// Each shard file starts with a fixed self-describing header (magic,
// version, compression flags, dimension, element width) followed by
// length-prefixed, CRC32-checksummed records. A shard is finalized when it
// reaches the configured batch size, after which the next append opens a new
// part. Loading concatenates all parts in part order; a truncated or corrupt
// trailing record is discarded rather than treated as fatal, which makes
// crash-interrupted appends recoverable.
package shard
