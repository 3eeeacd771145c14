package instance

import "errors"

// Domain errors for the instance package.
var (
	// ErrDiscovery is returned when the catalog cannot be built. It is fatal
	// to startup.
	ErrDiscovery = errors.New("instance: discovery failed")

	// ErrInvalidID is returned when an id does not match the instance id pattern.
	ErrInvalidID = errors.New("instance: invalid id")

	// ErrNotFound is returned when an id is not in the catalog.
	ErrNotFound = errors.New("instance: not found")
)
