package storage

import "errors"

// Sentinel errors for storage operations.
var (
	// ErrNotFound is returned when a workflow or execution does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a workflow with the given ID already exists.
	ErrConflict = errors.New("already exists")
)
