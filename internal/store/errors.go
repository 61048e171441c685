package store

import "errors"

var (
	// ErrConflict: the requested interval overlaps a committed appointment.
	ErrConflict = errors.New("slot not available")
	// ErrTimeBlocked: the requested interval intersects an owner block.
	ErrTimeBlocked = errors.New("time blocked")
	ErrNotFound    = errors.New("not found")
	// ErrSerialization: the store could not serialize the check-then-insert
	// sequence (lock wait, deadlock, or serialization failure). Retryable.
	ErrSerialization = errors.New("serialization failure")
)
