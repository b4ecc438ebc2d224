package node

import "errors"

var (
	// ErrDriverRequired is returned when no bus driver is configured.
	ErrDriverRequired = errors.New("node: driver is required")

	// ErrInvalidNodeID is returned for an initial node ID outside 1..127.
	ErrInvalidNodeID = errors.New("node: invalid node ID")

	// ErrInvalidPool is returned for negative pool or buffer dimensions.
	ErrInvalidPool = errors.New("node: invalid memory configuration")

	// ErrInvalidFailurePolicy is returned for an unknown failure policy.
	ErrInvalidFailurePolicy = errors.New("node: invalid failure policy")
)
