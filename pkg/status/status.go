// Package status defines the error codes shared by every layer of the stack
// and the fatal-error contract used for unrecoverable faults.
//
// Codes implement the error interface, so components wrap them with context
// and callers match them with errors.Is:
//
//	err := disp.Send(t)
//	if errors.Is(err, status.ErrPassiveMode) {
//	    // no node ID yet, try again later
//	}
//
// Older integrations that exchange plain integers (0 on success, positive or
// negated codes on failure) can convert with Code.Return and FromReturn.
package status

import (
	"errors"
	"fmt"
)

// Code is a stack error code. The zero value is not an error.
type Code int16

// Error codes. Values are stable and match the integer convention used on the wire
// by legacy tooling.
const (
	// ErrFailure is a general failure.
	ErrFailure Code = 1

	// ErrInvalidParam is returned for out-of-range or malformed arguments.
	ErrInvalidParam Code = 2

	// ErrMemory is returned when the fixed memory pool is exhausted.
	ErrMemory Code = 3

	// ErrDriver is returned when the platform driver (bus or clock) fails.
	ErrDriver Code = 4

	// ErrUnknownDataType is returned for transfers of a data type nobody listens to.
	ErrUnknownDataType Code = 5

	// ErrInvalidMarshalData is returned by serializers for malformed payloads.
	ErrInvalidMarshalData Code = 6

	// ErrInvalidTransferListener is returned when a listener key is already registered.
	ErrInvalidTransferListener Code = 7

	// ErrNotInited is returned when a component is used before initialization.
	ErrNotInited Code = 8

	// ErrRecursiveCall is returned (or escalated) on re-entrant calls into the event loop.
	ErrRecursiveCall Code = 9

	// ErrLogic is returned when an internal consistency check fails.
	ErrLogic Code = 10

	// ErrPassiveMode is returned when transmitting without an assigned node ID.
	ErrPassiveMode Code = 11
)

var codeNames = map[Code]string{
	ErrFailure:                 "failure",
	ErrInvalidParam:            "invalid parameter",
	ErrMemory:                  "out of memory",
	ErrDriver:                  "driver error",
	ErrUnknownDataType:         "unknown data type",
	ErrInvalidMarshalData:      "invalid marshal data",
	ErrInvalidTransferListener: "invalid transfer listener",
	ErrNotInited:               "not initialized",
	ErrRecursiveCall:           "recursive call",
	ErrLogic:                   "logic error",
	ErrPassiveMode:             "passive mode",
}

// String returns a human-readable name for the code.
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	if c == 0 {
		return "ok"
	}
	return fmt.Sprintf("code(%d)", int16(c))
}

// Error implements the error interface.
func (c Code) Error() string {
	return "uavcan: " + c.String()
}

// Valid returns true if c is one of the defined error codes.
func (c Code) Valid() bool {
	_, ok := codeNames[c]
	return ok
}

// Return converts the code to the signed return convention: the negated code.
func (c Code) Return() int {
	return -int(c)
}

// Of extracts the Code carried by err.
// Returns 0 for a nil error and ErrFailure for errors that carry no Code.
func Of(err error) Code {
	if err == nil {
		return 0
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return ErrFailure
}

// Return converts err to the signed return convention (0 or a negated code).
func Return(err error) int {
	return Of(err).Return()
}

// FromReturn converts a legacy integer result to an error.
// Both the direct (positive) and the inverted (negative) forms are accepted.
// Unknown codes map to ErrFailure.
func FromReturn(rc int) error {
	if rc == 0 {
		return nil
	}
	if rc < 0 {
		rc = -rc
	}
	c := Code(rc)
	if !c.Valid() {
		return ErrFailure
	}
	return c
}
