// Package clock provides the time base of the stack: a monotonic clock used
// for all scheduling and an advisory UTC clock used for timestamping.
//
// Instants are microsecond resolution. Arithmetic saturates instead of
// wrapping so that an overflow can never look like an elapsed timeout.
package clock

import (
	"fmt"
	"math"
	"time"
)

// Monotonic is an instant on the monotonic time base.
// The zero value is the start of the time base.
type Monotonic struct {
	usec uint64
}

// MonotonicFromMicros returns the instant usec microseconds after the epoch.
func MonotonicFromMicros(usec uint64) Monotonic {
	return Monotonic{usec: usec}
}

// Micros returns the instant in microseconds since the epoch.
func (t Monotonic) Micros() uint64 { return t.usec }

// IsZero reports whether t is the epoch.
func (t Monotonic) IsZero() bool { return t.usec == 0 }

// Add returns t+d, saturating at both ends of the time base.
func (t Monotonic) Add(d time.Duration) Monotonic {
	return Monotonic{usec: addSaturating(t.usec, d)}
}

// Sub returns t-u, saturating at the limits of time.Duration.
func (t Monotonic) Sub(u Monotonic) time.Duration {
	return subSaturating(t.usec, u.usec)
}

// Before reports whether t is before u.
func (t Monotonic) Before(u Monotonic) bool { return t.usec < u.usec }

// After reports whether t is after u.
func (t Monotonic) After(u Monotonic) bool { return t.usec > u.usec }

// Equal reports whether t and u are the same instant.
func (t Monotonic) Equal(u Monotonic) bool { return t.usec == u.usec }

// Min returns the earlier of t and u.
func (t Monotonic) Min(u Monotonic) Monotonic {
	if u.usec < t.usec {
		return u
	}
	return t
}

func (t Monotonic) String() string {
	return fmt.Sprintf("%d.%06d", t.usec/1e6, t.usec%1e6)
}

// UTC is an instant on the UTC time base. It may jump when adjusted.
type UTC struct {
	usec uint64
}

// UTCFromTime converts a wall-clock time. Times before the Unix epoch map to zero.
func UTCFromTime(tm time.Time) UTC {
	us := tm.UnixMicro()
	if us < 0 {
		return UTC{}
	}
	return UTC{usec: uint64(us)}
}

// UTCFromMicros returns the instant usec microseconds after the Unix epoch.
func UTCFromMicros(usec uint64) UTC {
	return UTC{usec: usec}
}

// Micros returns microseconds since the Unix epoch.
func (t UTC) Micros() uint64 { return t.usec }

// IsZero reports whether t is unset.
func (t UTC) IsZero() bool { return t.usec == 0 }

// Add returns t+d, saturating.
func (t UTC) Add(d time.Duration) UTC {
	return UTC{usec: addSaturating(t.usec, d)}
}

// Sub returns t-u, saturating.
func (t UTC) Sub(u UTC) time.Duration {
	return subSaturating(t.usec, u.usec)
}

// Before reports whether t is before u.
func (t UTC) Before(u UTC) bool { return t.usec < u.usec }

// Time converts t to a time.Time in UTC.
func (t UTC) Time() time.Time {
	if t.usec > math.MaxInt64 {
		return time.UnixMicro(math.MaxInt64).UTC()
	}
	return time.UnixMicro(int64(t.usec)).UTC()
}

func (t UTC) String() string {
	return t.Time().Format(time.RFC3339Nano)
}

func addSaturating(usec uint64, d time.Duration) uint64 {
	delta := d.Microseconds()
	if delta >= 0 {
		if usec > math.MaxUint64-uint64(delta) {
			return math.MaxUint64
		}
		return usec + uint64(delta)
	}
	// -math.MinInt64 overflows; handle it through the unsigned magnitude.
	mag := uint64(-(delta + 1)) + 1
	if mag > usec {
		return 0
	}
	return usec - mag
}

func subSaturating(a, b uint64) time.Duration {
	const maxUsec = uint64(math.MaxInt64 / int64(time.Microsecond))
	if a >= b {
		diff := a - b
		if diff > maxUsec {
			return time.Duration(math.MaxInt64)
		}
		return time.Duration(diff) * time.Microsecond
	}
	diff := b - a
	if diff > maxUsec {
		return time.Duration(math.MinInt64)
	}
	return -time.Duration(diff) * time.Microsecond
}
