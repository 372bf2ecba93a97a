// Package cache keeps hot databases resident in memory between the public
// API and the shard store. Reads load through on demand, writes are buffered
// and flushed back in the background unless write-through is enabled.
package cache
