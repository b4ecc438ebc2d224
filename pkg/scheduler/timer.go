package scheduler

import (
	"container/heap"
	"time"

	"github.com/backkem/uavcan/pkg/clock"
)

// TimerEvent describes one firing of a timer.
type TimerEvent struct {
	// Scheduled is when the timer was due. For periodic timers this is
	// always first due + k*period.
	Scheduled clock.Monotonic

	// Real is when the callback actually ran.
	Real clock.Monotonic
}

// TimerFunc is a timer callback. It runs inside Spin.
type TimerFunc func(ev TimerEvent)

// Timer is a one-shot or periodic timer owned by a Scheduler.
type Timer struct {
	s      *Scheduler
	due    clock.Monotonic
	period time.Duration
	fn     TimerFunc
	seq    uint64
	index  int
}

// Cancel stops the timer. Returns false if it was not pending.
func (t *Timer) Cancel() bool {
	if t.index < 0 {
		return false
	}
	heap.Remove(&t.s.timers, t.index)
	return true
}

// Pending reports whether the timer will fire again.
func (t *Timer) Pending() bool {
	return t.index >= 0
}

// Due returns the next due time.
func (t *Timer) Due() clock.Monotonic {
	return t.due
}

// Period returns the timer period, or zero for a one-shot timer.
func (t *Timer) Period() time.Duration {
	return t.period
}

// timerHeap orders timers by due time, then by registration order.
type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*Timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

func (h timerHeap) peek() *Timer {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}
