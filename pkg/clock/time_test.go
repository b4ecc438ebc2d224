package clock

import (
	"math"
	"testing"
	"time"
)

func TestMonotonicAddSaturates(t *testing.T) {
	tests := []struct {
		name  string
		start uint64
		d     time.Duration
		want  uint64
	}{
		{"forward", 1000, 5 * time.Microsecond, 1005},
		{"backward", 1000, -5 * time.Microsecond, 995},
		{"floor", 10, -time.Second, 0},
		{"ceiling", math.MaxUint64 - 1, time.Second, math.MaxUint64},
		{"min duration", 5, time.Duration(math.MinInt64), 0},
		{"sub-microsecond", 7, 999 * time.Nanosecond, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MonotonicFromMicros(tt.start).Add(tt.d)
			if got.Micros() != tt.want {
				t.Errorf("Add = %d, want %d", got.Micros(), tt.want)
			}
		})
	}
}

func TestMonotonicSub(t *testing.T) {
	a := MonotonicFromMicros(2_000_000)
	b := MonotonicFromMicros(500_000)

	if got := a.Sub(b); got != 1500*time.Millisecond {
		t.Errorf("a-b = %v, want 1.5s", got)
	}
	if got := b.Sub(a); got != -1500*time.Millisecond {
		t.Errorf("b-a = %v, want -1.5s", got)
	}

	huge := MonotonicFromMicros(math.MaxUint64)
	if got := huge.Sub(MonotonicFromMicros(0)); got != time.Duration(math.MaxInt64) {
		t.Errorf("saturated sub = %v, want max duration", got)
	}
	if got := MonotonicFromMicros(0).Sub(huge); got != time.Duration(math.MinInt64) {
		t.Errorf("saturated negative sub = %v, want min duration", got)
	}
}

func TestMonotonicOrdering(t *testing.T) {
	a := MonotonicFromMicros(1)
	b := MonotonicFromMicros(2)

	if !a.Before(b) || a.After(b) || a.Equal(b) {
		t.Error("ordering of a < b is wrong")
	}
	if a.Min(b) != a || b.Min(a) != a {
		t.Error("Min should return the earlier instant")
	}
	if !(Monotonic{}).IsZero() {
		t.Error("zero value should be IsZero")
	}
	if got := MonotonicFromMicros(1_500_000).String(); got != "1.500000" {
		t.Errorf("String() = %q, want %q", got, "1.500000")
	}
}

func TestUTCConversion(t *testing.T) {
	tm := time.Date(2024, 3, 1, 12, 0, 0, 123456000, time.UTC)
	u := UTCFromTime(tm)

	if !u.Time().Equal(tm) {
		t.Errorf("Time() = %v, want %v", u.Time(), tm)
	}
	if got := UTCFromTime(time.Unix(-10, 0)); !got.IsZero() {
		t.Errorf("pre-epoch time should map to zero, got %v", got)
	}
	if got := u.Add(time.Second).Sub(u); got != time.Second {
		t.Errorf("Sub = %v, want 1s", got)
	}
}
