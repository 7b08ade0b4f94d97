package store

import "errors"

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when attendance was already marked for the key.
	ErrDuplicate = errors.New("attendance already marked")
)
