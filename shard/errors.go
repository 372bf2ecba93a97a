package shard

import "errors"

var (
	// ErrNotFound is returned when no shard-set exists for a database name.
	ErrNotFound = errors.New("database not found")

	// ErrAlreadyExists is returned by Create when a shard-set already exists.
	ErrAlreadyExists = errors.New("database already exists")

	// ErrInvalidName is returned for database names that cannot form a safe
	// shard filename.
	ErrInvalidName = errors.New("invalid database name")
)
