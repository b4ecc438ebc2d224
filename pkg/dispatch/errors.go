package dispatch

import "errors"

var (
	// ErrDriverRequired is returned when no bus driver is configured.
	ErrDriverRequired = errors.New("dispatch: driver is required")

	// ErrAllocatorRequired is returned when no memory pool is configured.
	ErrAllocatorRequired = errors.New("dispatch: allocator is required")
)
