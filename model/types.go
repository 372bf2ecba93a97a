// Package model defines the core value types shared across vectra:
// vector records and their in-memory database materialization.
package model

import (
	"time"

	"github.com/hupe1980/vectra/metadata"
)

// Record is one stored vector with its metadata.
//
// Index is assigned at insert time, monotonic in insertion order and unique
// within a database. Records are insert-only; once written they are never
// mutated.
type Record struct {
	Index     uint64
	Values    []float32
	Metadata  metadata.Metadata
	CreatedAt time.Time
}

// SizeBytes estimates the resident memory of the record. Used by the cache
// byte budget; an estimate is enough, it only has to be monotone in the real
// footprint.
func (r *Record) SizeBytes() int64 {
	size := int64(8 + 24 + len(r.Values)*4) // index + time + values
	for k, v := range r.Metadata {
		size += int64(len(k)) + valueSize(v)
	}
	return size
}

func valueSize(v metadata.Value) int64 {
	switch v.Kind {
	case metadata.KindString:
		return int64(len(v.S)) + 1
	case metadata.KindDateTime:
		return 24 + 1
	default:
		return 8 + 1
	}
}

// Database is the in-memory materialization of one named database: its
// fixed dimension, the full ordered record sequence and the inferred
// metadata schema.
//
// Database is not safe for concurrent use on its own; the cache registry
// serializes access through its per-entry lock.
type Database struct {
	Name      string
	Dimension int
	Records   []Record
	Schema    metadata.Schema
}

// New creates an empty database with the given dimension.
func New(name string, dimension int) *Database {
	return &Database{
		Name:      name,
		Dimension: dimension,
		Schema:    make(metadata.Schema),
	}
}

// NextIndex returns the index the next appended record will receive.
func (db *Database) NextIndex() uint64 {
	if n := len(db.Records); n > 0 {
		return db.Records[n-1].Index + 1
	}
	return 0
}

// Append adds records to the in-memory sequence and folds their metadata
// into the schema. The caller is responsible for dimension validation and
// index assignment.
func (db *Database) Append(records ...Record) {
	for i := range records {
		db.Schema.Observe(records[i].Metadata)
	}
	db.Records = append(db.Records, records...)
}

// Count returns the number of records.
func (db *Database) Count() int {
	return len(db.Records)
}

// SizeBytes estimates the resident memory of the whole database.
func (db *Database) SizeBytes() int64 {
	size := int64(len(db.Name)) + 64
	for i := range db.Records {
		size += db.Records[i].SizeBytes()
	}
	return size
}
