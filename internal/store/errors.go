package store

import "errors"

// Sentinel errors returned by Store implementations.
var (
	// ErrNotFound is returned when a state or object does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrMalformed is returned when a stored value has an unexpected shape.
	ErrMalformed = errors.New("store: malformed value")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store: closed")

	// ErrInvalidPattern is returned for subscription patterns that cannot be matched.
	ErrInvalidPattern = errors.New("store: invalid pattern")
)
