package repository

import "errors"

// Common repository errors
var (
	// ErrNotFound is returned when a record is not found
	ErrNotFound = errors.New("record not found")

	// ErrDuplicatePhone is returned when a phone is already held in the target role slot
	ErrDuplicatePhone = errors.New("phone already registered for this role")

	// ErrConflict is returned when a conditional write finds the row in an unexpected state
	ErrConflict = errors.New("record changed concurrently")

	// ErrConcurrentUpdate is returned when optimistic retries are exhausted
	ErrConcurrentUpdate = errors.New("too many concurrent updates")
)
