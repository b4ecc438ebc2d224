package can

import "errors"

// Driver errors.
var (
	// ErrClosed is returned when an operation is attempted on a closed driver or queue.
	ErrClosed = errors.New("can: closed")

	// ErrFrameTooLong is returned when a frame payload exceeds 8 bytes.
	ErrFrameTooLong = errors.New("can: frame payload exceeds 8 bytes")

	// ErrInvalidID is returned for identifiers that do not fit the frame format.
	ErrInvalidID = errors.New("can: invalid identifier")

	// ErrInvalidEncoding is returned when decoding a malformed wire frame.
	ErrInvalidEncoding = errors.New("can: invalid frame encoding")

	// ErrRxOverflow is returned when the receive queue is full and a frame was dropped.
	ErrRxOverflow = errors.New("can: receive queue overflow")

	// ErrNoPeers is returned when a UDP bus has nowhere to send frames.
	ErrNoPeers = errors.New("can: no peers")
)
