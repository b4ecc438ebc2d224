package transfer

import "errors"

// Errors returned by the transfer package. Frame-level rejections are not
// fatal: the offending frame or partial transfer is dropped.
var (
	// ErrInvalidHeader is returned when a header cannot be encoded.
	ErrInvalidHeader = errors.New("transfer: invalid header")

	// ErrNotTransportFrame is returned for standard, remote or error CAN frames.
	ErrNotTransportFrame = errors.New("transfer: not a transport frame")

	// ErrMalformedFrame is returned for frames that violate the framing rules.
	ErrMalformedFrame = errors.New("transfer: malformed frame")

	// ErrPayloadTooLong is returned when a transfer exceeds the maximum payload.
	ErrPayloadTooLong = errors.New("transfer: payload too long")

	// ErrDuplicate is returned for a repeated transfer ID inside the duplicate window.
	ErrDuplicate = errors.New("transfer: duplicate transfer")

	// ErrOutOfOrder is returned for a transfer ID older than the last completed one.
	ErrOutOfOrder = errors.New("transfer: out of order transfer")

	// ErrToggleMismatch is returned when the toggle bit breaks the sequence.
	ErrToggleMismatch = errors.New("transfer: toggle bit mismatch")

	// ErrUnexpectedFrame is returned for a continuation frame with no matching transfer in progress.
	ErrUnexpectedFrame = errors.New("transfer: unexpected continuation frame")

	// ErrCRCMismatch is returned when a multi-frame transfer fails its checksum.
	ErrCRCMismatch = errors.New("transfer: CRC mismatch")
)
