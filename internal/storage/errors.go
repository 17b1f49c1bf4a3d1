package storage

import "errors"

// Recoverable failures surfaced to callers. Compare with errors.Is; most are
// wrapped with the row, path or count that caused them.
var (
	// ErrShapeMismatch indicates a record's attribute count does not match the
	// column layout of the store it is encoded into or decoded from
	ErrShapeMismatch = errors.New("record shape does not match column layout")

	// ErrRowOutOfBounds indicates a row index or batch window outside [0, recordCount)
	ErrRowOutOfBounds = errors.New("row out of bounds")

	// ErrNotFound indicates a configuration, data or source file is missing
	ErrNotFound = errors.New("resource not found")

	// ErrTimeout indicates a bulk load queue wait exceeded its deadline
	ErrTimeout = errors.New("queue wait deadline exceeded")

	// ErrAlreadyOpen indicates a store handle is already active
	ErrAlreadyOpen = errors.New("database is already open")

	// ErrClosed indicates an operation on a database that is not open
	ErrClosed = errors.New("database is closed")

	// ErrInvalidKey indicates a key that is not a non-negative integer
	ErrInvalidKey = errors.New("invalid record key")
)
