package clock

import (
	"errors"
	"sync"
	"time"
)

// ErrClockFailure is returned by clocks whose source has stopped working.
var ErrClockFailure = errors.New("clock: source failure")

// Clock is the platform time source.
//
// Monotonic must never go backwards. UTC is advisory and may be discontinuous.
// A returned error is a platform driver failure.
type Clock interface {
	Monotonic() (Monotonic, error)
	UTC() (UTC, error)
}

// Adjustable is implemented by clocks whose UTC time base can be corrected,
// e.g. by a time synchronization master.
type Adjustable interface {
	AdjustUTC(delta time.Duration)
}

// SystemClock reads the host clock. The monotonic epoch is the moment the
// clock was created.
type SystemClock struct {
	start time.Time

	mu        sync.Mutex
	utcOffset time.Duration
}

// NewSystemClock creates a clock backed by the Go runtime's monotonic reading.
func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

// Monotonic returns the time elapsed since the clock was created.
func (c *SystemClock) Monotonic() (Monotonic, error) {
	d := time.Since(c.start)
	if d < 0 {
		d = 0
	}
	return Monotonic{usec: uint64(d.Microseconds())}, nil
}

// UTC returns the wall-clock time, corrected by any AdjustUTC calls.
func (c *SystemClock) UTC() (UTC, error) {
	c.mu.Lock()
	offset := c.utcOffset
	c.mu.Unlock()
	return UTCFromTime(time.Now().Add(offset)), nil
}

// AdjustUTC shifts the UTC time base by delta.
func (c *SystemClock) AdjustUTC(delta time.Duration) {
	c.mu.Lock()
	c.utcOffset += delta
	c.mu.Unlock()
}

var (
	_ Clock      = (*SystemClock)(nil)
	_ Adjustable = (*SystemClock)(nil)
)
