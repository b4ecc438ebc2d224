package discovery

import "errors"

// Package-level sentinel errors for discovery operations.
var (
	// ErrClosed is returned when an operation is attempted on a closed component.
	ErrClosed = errors.New("discovery: closed")

	// ErrAlreadyStarted is returned when advertising twice.
	ErrAlreadyStarted = errors.New("discovery: already started")

	// ErrNotStarted is returned when updating or stopping an advertisement
	// that was not started.
	ErrNotStarted = errors.New("discovery: not started")

	// ErrInvalidBusName is returned when the segment name is empty or too long.
	ErrInvalidBusName = errors.New("discovery: invalid bus name")

	// ErrInvalidTXTRecord is returned when a TXT record has invalid format.
	ErrInvalidTXTRecord = errors.New("discovery: invalid TXT record format")

	// ErrNoAddresses is returned when a discovered peer has no usable address.
	ErrNoAddresses = errors.New("discovery: no addresses")
)
