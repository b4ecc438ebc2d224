package can

import "time"

// Driver is the bus driver contract.
//
// Receive and Transmit never block. Wait is the only blocking call: it returns
// when a frame may be available or when timeout elapses, whichever comes first.
// A timeout is not an error.
//
// Drivers are used from the single goroutine that runs the event loop. Frames
// arriving from other goroutines (interrupt handlers, socket readers) must be
// handed over through a single-consumer Queue.
type Driver interface {
	// Receive returns the next pending frame, or ok=false if none is pending.
	Receive() (f Frame, ok bool, err error)

	// Transmit queues a frame for sending.
	Transmit(f Frame) error

	// Wait blocks until a frame may be pending or timeout elapses.
	Wait(timeout time.Duration) error
}
