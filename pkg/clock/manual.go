package clock

import (
	"sync"
	"time"
)

// ManualClock is a Clock that only moves when told to.
// Use it for deterministic tests of timeouts and timers.
type ManualClock struct {
	mu   sync.Mutex
	mono Monotonic
	utc  UTC
	err  error
}

// NewManualClock creates a clock starting at the given monotonic instant.
// The UTC base starts at the Unix epoch plus the same offset.
func NewManualClock(start Monotonic) *ManualClock {
	return &ManualClock{mono: start, utc: UTC{usec: start.usec}}
}

// Monotonic returns the current instant or the injected failure.
func (c *ManualClock) Monotonic() (Monotonic, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return Monotonic{}, c.err
	}
	return c.mono, nil
}

// UTC returns the current UTC instant or the injected failure.
func (c *ManualClock) UTC() (UTC, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return UTC{}, c.err
	}
	return c.utc, nil
}

// Now returns the current monotonic instant, ignoring injected failures.
func (c *ManualClock) Now() Monotonic {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mono
}

// Advance moves both time bases forward by d. Negative values are ignored.
func (c *ManualClock) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	c.mu.Lock()
	c.mono = c.mono.Add(d)
	c.utc = c.utc.Add(d)
	c.mu.Unlock()
}

// Set moves the monotonic time base to t if t is not in the past.
func (c *ManualClock) Set(t Monotonic) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.mono) {
		c.utc = c.utc.Add(t.Sub(c.mono))
		c.mono = t
	}
}

// AdjustUTC shifts the UTC time base by delta.
func (c *ManualClock) AdjustUTC(delta time.Duration) {
	c.mu.Lock()
	c.utc = c.utc.Add(delta)
	c.mu.Unlock()
}

// Fail makes subsequent reads return err. Pass nil to recover.
func (c *ManualClock) Fail(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

var (
	_ Clock      = (*ManualClock)(nil)
	_ Adjustable = (*ManualClock)(nil)
)
