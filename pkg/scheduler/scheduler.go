// Package scheduler runs the cooperative event loop of a node: it feeds
// received frames to the dispatcher, fires timers and expires stale
// reassembly state, and always returns to the caller by a given deadline.
package scheduler

import (
	"container/heap"
	"errors"
	"fmt"
	"time"

	"github.com/backkem/uavcan/pkg/can"
	"github.com/backkem/uavcan/pkg/clock"
	"github.com/backkem/uavcan/pkg/dispatch"
	"github.com/backkem/uavcan/pkg/status"
	"github.com/pion/logging"
)

// spinOnceFrameBudget bounds the frames SpinOnce drains from a driver that
// keeps reporting more.
const spinOnceFrameBudget = 256

// timerBudget bounds the timers fired in one pass, so callbacks that keep
// timers due cannot hold the loop.
const timerBudget = 256

var (
	// ErrDispatcherRequired is returned when no dispatcher is configured.
	ErrDispatcherRequired = errors.New("scheduler: dispatcher is required")

	// ErrDriverRequired is returned when no driver is configured.
	ErrDriverRequired = errors.New("scheduler: driver is required")
)

// Config configures a Scheduler.
type Config struct {
	// Dispatcher receives every frame read from Driver. Required.
	Dispatcher *dispatch.Dispatcher

	// Driver is polled for frames and waited on between events. Required.
	Driver can.Driver

	// Clock is the time base. Default: clock.NewSystemClock().
	Clock clock.Clock

	// FatalHandler is called on unrecoverable faults such as a failing
	// clock or a recursive Spin. Default: status.PanicHandler.
	FatalHandler status.FatalHandler

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Stats counts event loop activity.
type Stats struct {
	Spins       uint64
	Frames      uint64
	FrameErrors uint64
	TimersFired uint64
	TimedOut    uint64
}

// Scheduler owns the time base and drives the dispatcher.
//
// It is not a background task: nothing happens unless the caller is inside
// Spin, SpinFor or SpinOnce. None of the methods are safe for concurrent use,
// and Spin must not be called from a listener or timer callback.
type Scheduler struct {
	disp   *dispatch.Dispatcher
	driver can.Driver
	clock  clock.Clock
	fatal  status.FatalHandler

	timers  timerHeap
	nextSeq uint64

	spinning bool
	stats    Stats

	log logging.LeveledLogger
}

// New creates a Scheduler.
func New(config Config) (*Scheduler, error) {
	if config.Dispatcher == nil {
		return nil, ErrDispatcherRequired
	}
	if config.Driver == nil {
		return nil, ErrDriverRequired
	}

	s := &Scheduler{
		disp:   config.Dispatcher,
		driver: config.Driver,
		clock:  config.Clock,
		fatal:  config.FatalHandler,
	}
	if s.clock == nil {
		s.clock = clock.NewSystemClock()
	}

	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("scheduler")
	}

	return s, nil
}

// Dispatcher returns the dispatcher driven by s.
func (s *Scheduler) Dispatcher() *dispatch.Dispatcher {
	return s.disp
}

// Clock returns the time base.
func (s *Scheduler) Clock() clock.Clock {
	return s.clock
}

// Now returns the monotonic time. A clock failure is fatal.
func (s *Scheduler) Now() clock.Monotonic {
	t, err := s.clock.Monotonic()
	if err != nil {
		status.Fatal(s.fatal, fmt.Sprintf("scheduler: monotonic clock: %v", err))
	}
	return t
}

// UTC returns the advisory UTC time. A clock failure is fatal.
func (s *Scheduler) UTC() clock.UTC {
	t, err := s.clock.UTC()
	if err != nil {
		status.Fatal(s.fatal, fmt.Sprintf("scheduler: utc clock: %v", err))
	}
	return t
}

// AddTimer schedules fn to run once at due.
func (s *Scheduler) AddTimer(due clock.Monotonic, fn TimerFunc) *Timer {
	return s.add(due, 0, fn)
}

// After schedules fn to run once after d.
func (s *Scheduler) After(d time.Duration, fn TimerFunc) *Timer {
	return s.add(s.Now().Add(d), 0, fn)
}

// AddPeriodic schedules fn at first and then every period after it. Firings
// stay on the first + k*period grid however late Spin runs; missed firings
// are caught up one by one. The period must be a positive whole number of
// microseconds, the resolution of the time base.
func (s *Scheduler) AddPeriodic(first clock.Monotonic, period time.Duration, fn TimerFunc) (*Timer, error) {
	if period < time.Microsecond || period%time.Microsecond != 0 {
		return nil, fmt.Errorf("scheduler: period %v: %w", period, status.ErrInvalidParam)
	}
	return s.add(first, period, fn), nil
}

func (s *Scheduler) add(due clock.Monotonic, period time.Duration, fn TimerFunc) *Timer {
	t := &Timer{s: s, due: due, period: period, fn: fn, seq: s.nextSeq, index: -1}
	s.nextSeq++
	heap.Push(&s.timers, t)
	return t
}

// PendingTimers returns the number of scheduled timers.
func (s *Scheduler) PendingTimers() int {
	return len(s.timers)
}

// Stats returns the event loop counters.
func (s *Scheduler) Stats() Stats {
	return s.stats
}

// Spin runs the event loop until deadline.
//
// Each iteration drains received frames into the dispatcher, fires due
// timers, expires stale reassembly state and then waits on the driver until
// the earlier of deadline and the next timer. Spin returns no later than
// deadline even if frames keep arriving. Errors of individual frames are
// logged and counted; only driver failures are returned.
func (s *Scheduler) Spin(deadline clock.Monotonic) error {
	s.enter()
	defer s.leave()

	for {
		if err := s.drain(&deadline, 0); err != nil {
			return err
		}
		s.fireTimers(&deadline, timerBudget)
		s.cleanup()

		now := s.Now()
		if !now.Before(deadline) {
			return nil
		}

		wake := deadline
		if t := s.timers.peek(); t != nil {
			wake = wake.Min(t.due)
		}
		if wait := wake.Sub(now); wait > 0 {
			if err := s.driver.Wait(wait); err != nil {
				return fmt.Errorf("scheduler: wait: %w: %w", status.ErrDriver, err)
			}
		}
	}
}

// SpinFor runs the event loop for d.
func (s *Scheduler) SpinFor(d time.Duration) error {
	return s.Spin(s.Now().Add(d))
}

// SpinOnce processes the frames already received and the timers already due,
// without waiting.
func (s *Scheduler) SpinOnce() error {
	s.enter()
	defer s.leave()

	if err := s.drain(nil, spinOnceFrameBudget); err != nil {
		return err
	}
	s.fireTimers(nil, timerBudget)
	s.cleanup()
	return nil
}

func (s *Scheduler) enter() {
	if s.spinning {
		status.Fatal(s.fatal, "scheduler: "+status.ErrRecursiveCall.String())
	}
	s.spinning = true
	s.stats.Spins++
}

func (s *Scheduler) leave() {
	s.spinning = false
}

// drain feeds received frames to the dispatcher until the driver has none,
// the clock reaches deadline or budget frames were processed. A nil deadline
// or zero budget means no limit of that kind.
func (s *Scheduler) drain(deadline *clock.Monotonic, budget int) error {
	for n := 0; budget == 0 || n < budget; n++ {
		f, ok, err := s.driver.Receive()
		if err != nil {
			return fmt.Errorf("scheduler: receive: %w: %w", status.ErrDriver, err)
		}
		if !ok {
			return nil
		}

		now := s.Now()
		s.stats.Frames++
		if err := s.disp.AcceptFrame(f, now); err != nil {
			s.stats.FrameErrors++
			if s.log != nil {
				s.log.Debugf("frame %v: %v", f, err)
			}
		}

		if deadline != nil && !now.Before(*deadline) {
			return nil
		}
	}
	return nil
}

// fireTimers runs the timers due at the time of the call until callbacks
// push the clock to deadline or budget timers fired. Periodic timers are
// rescheduled from their due time, not from now; a backlog left over is
// fired on the next pass.
func (s *Scheduler) fireTimers(deadline *clock.Monotonic, budget int) {
	now := s.Now()
	for n := 0; n < budget; n++ {
		t := s.timers.peek()
		if t == nil || t.due.After(now) {
			return
		}

		due := t.due
		if t.period > 0 {
			t.due = t.due.Add(t.period)
			heap.Fix(&s.timers, t.index)
		} else {
			heap.Pop(&s.timers)
		}

		s.stats.TimersFired++
		t.fn(TimerEvent{Scheduled: due, Real: s.Now()})

		// Timers due together still fire together; only time spent in
		// callbacks cuts the pass short.
		if after := s.Now(); deadline != nil && after.After(now) && !after.Before(*deadline) {
			return
		}
	}
}

func (s *Scheduler) cleanup() {
	s.stats.TimedOut += uint64(s.disp.Cleanup(s.Now()))
}
