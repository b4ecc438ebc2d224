package can

import (
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/pion/transport/v3/packetio"
)

// DefaultQueueCapacity is the default number of frames a Queue holds.
const DefaultQueueCapacity = 256

// Queue hands frames from producer goroutines (socket readers, interrupt
// handlers) to the single goroutine running the event loop.
//
// Push may be called from any goroutine. Receive and Wait must only be
// called by the consumer. A full queue drops the incoming frame.
type Queue struct {
	buf     *packetio.Buffer
	pending atomic.Int64
	dropped atomic.Uint64

	// consumer-owned
	peeked  Frame
	hasPeek bool
	scratch [EncodedFrameLen]byte
}

// NewQueue creates a queue holding at most capacity frames.
// If capacity is not positive, DefaultQueueCapacity is used.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	buf := packetio.NewBuffer()
	buf.SetLimitCount(capacity)
	return &Queue{buf: buf}
}

// Push enqueues a frame. Returns ErrRxOverflow if the queue is full and
// ErrClosed after Close.
func (q *Queue) Push(f Frame) error {
	var b [EncodedFrameLen]byte
	f.encodeTo(b[:])

	if _, err := q.buf.Write(b[:]); err != nil {
		if errors.Is(err, packetio.ErrFull) {
			q.dropped.Add(1)
			return ErrRxOverflow
		}
		if errors.Is(err, io.ErrClosedPipe) {
			return ErrClosed
		}
		return err
	}
	// Counted only once written, so a positive count always means a
	// buffered frame. Wait may read the frame first and briefly take the
	// count below zero.
	q.pending.Add(1)
	return nil
}

// Receive returns the next frame without blocking.
func (q *Queue) Receive() (Frame, bool, error) {
	if q.hasPeek {
		q.hasPeek = false
		return q.peeked, true, nil
	}
	if q.pending.Load() <= 0 {
		return Frame{}, false, nil
	}

	// Data is known to be buffered, so this read cannot block.
	f, err := q.read()
	if err != nil {
		return Frame{}, false, err
	}
	return f, true, nil
}

// Wait blocks until a frame is queued or timeout elapses.
func (q *Queue) Wait(timeout time.Duration) error {
	if q.hasPeek || q.pending.Load() > 0 {
		return nil
	}
	if timeout <= 0 {
		return nil
	}

	if err := q.buf.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	f, err := q.read()
	_ = q.buf.SetReadDeadline(time.Time{})

	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil
		}
		return err
	}
	q.peeked = f
	q.hasPeek = true
	return nil
}

func (q *Queue) read() (Frame, error) {
	n, err := q.buf.Read(q.scratch[:])
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Frame{}, ErrClosed
		}
		return Frame{}, err
	}
	q.pending.Add(-1)
	return DecodeFrame(q.scratch[:n])
}

// Len returns the number of queued frames.
func (q *Queue) Len() int {
	n := int(max(q.pending.Load(), 0))
	if q.hasPeek {
		n++
	}
	return n
}

// Dropped returns the number of frames discarded because the queue was full.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Close releases the queue. Pending frames can still be received.
func (q *Queue) Close() error {
	return q.buf.Close()
}
