package storage

import "errors"

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInUse is returned when a row cannot be deleted because other rows
	// still reference it.
	ErrInUse = errors.New("in use")
	// ErrConflict is returned when a unique constraint would be violated.
	ErrConflict = errors.New("already exists")
	// ErrInvalidReference is returned when a write points at a missing row.
	ErrInvalidReference = errors.New("invalid reference")
)
