package redis

import "errors"

// Domain-specific errors for redis connectivity.
var (
	// ErrConnectionFailed is returned when no ping succeeded within the connect timeout.
	ErrConnectionFailed = errors.New("redis: connection failed")

	// ErrInvalidOptions is returned when retry settings are out of range.
	ErrInvalidOptions = errors.New("redis: invalid connect options")
)
