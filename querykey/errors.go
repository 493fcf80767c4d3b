package querykey

import "errors"

// Sentinel errors for key operations.
var (
	// ErrEmptyKey is returned when a key has no segments.
	ErrEmptyKey = errors.New("querykey: key is empty")

	// ErrInvalidKey is returned when a segment cannot be serialized.
	ErrInvalidKey = errors.New("querykey: key is invalid")
)
