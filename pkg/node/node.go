// Package node composes the scheduler, dispatcher, memory pool and marshal
// buffers of one bus participant behind the Node interface, so application
// code can be written once and run on any node implementation.
package node

import (
	"sync/atomic"
	"time"

	"github.com/backkem/uavcan/pkg/clock"
	"github.com/backkem/uavcan/pkg/dispatch"
	"github.com/backkem/uavcan/pkg/marshal"
	"github.com/backkem/uavcan/pkg/pool"
	"github.com/backkem/uavcan/pkg/scheduler"
	"github.com/backkem/uavcan/pkg/status"
	"github.com/backkem/uavcan/pkg/transfer"
	"github.com/pion/logging"
)

// Node is the capability set of a bus participant.
type Node interface {
	// Allocator returns the memory pool shared by all reassembly streams.
	Allocator() pool.Allocator

	// Scheduler returns the event loop.
	Scheduler() *scheduler.Scheduler

	// Dispatcher returns the transfer router.
	Dispatcher() *dispatch.Dispatcher

	// MarshalBufferProvider returns the serializer scratch buffers.
	MarshalBufferProvider() marshal.BufferProvider

	// RegisterInternalFailure reports a fault detected outside the core.
	RegisterInternalFailure(msg string)

	NodeID() transfer.NodeID
	SetNodeID(id transfer.NodeID) bool
	IsPassiveMode() bool

	Spin(deadline clock.Monotonic) error
	SpinFor(d time.Duration) error

	MonotonicTime() clock.Monotonic
	UTCTime() clock.UTC
}

// FailurePolicy selects what RegisterInternalFailure does.
type FailurePolicy uint8

const (
	// FailureLog logs and counts the failure.
	FailureLog FailurePolicy = iota

	// FailureFatal escalates to the fatal handler.
	FailureFatal
)

func (p FailurePolicy) String() string {
	switch p {
	case FailureLog:
		return "log"
	case FailureFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Core implements every Node method on top of a scheduler, an allocator and a
// buffer provider. Node implementations embed it.
type Core struct {
	sched    *scheduler.Scheduler
	alloc    pool.Allocator
	buffers  marshal.BufferProvider
	policy   FailurePolicy
	fatal    status.FatalHandler
	failures atomic.Uint64
	log      logging.LeveledLogger
}

// CoreConfig configures a Core.
type CoreConfig struct {
	Scheduler     *scheduler.Scheduler
	Allocator     pool.Allocator
	Buffers       marshal.BufferProvider
	FailurePolicy FailurePolicy
	FatalHandler  status.FatalHandler

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// NewCore creates a Core.
func NewCore(config CoreConfig) *Core {
	c := &Core{
		sched:   config.Scheduler,
		alloc:   config.Allocator,
		buffers: config.Buffers,
		policy:  config.FailurePolicy,
		fatal:   config.FatalHandler,
	}
	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("node")
	}
	return c
}

func (c *Core) Allocator() pool.Allocator                     { return c.alloc }
func (c *Core) Scheduler() *scheduler.Scheduler               { return c.sched }
func (c *Core) Dispatcher() *dispatch.Dispatcher              { return c.sched.Dispatcher() }
func (c *Core) MarshalBufferProvider() marshal.BufferProvider { return c.buffers }

func (c *Core) NodeID() transfer.NodeID           { return c.Dispatcher().NodeID() }
func (c *Core) SetNodeID(id transfer.NodeID) bool { return c.Dispatcher().SetNodeID(id) }
func (c *Core) IsPassiveMode() bool               { return c.Dispatcher().IsPassiveMode() }

func (c *Core) Spin(deadline clock.Monotonic) error { return c.sched.Spin(deadline) }
func (c *Core) SpinFor(d time.Duration) error       { return c.sched.SpinFor(d) }

func (c *Core) MonotonicTime() clock.Monotonic { return c.sched.Now() }
func (c *Core) UTCTime() clock.UTC             { return c.sched.UTC() }

// RegisterInternalFailure logs and counts msg, or escalates it to the fatal
// handler under FailureFatal.
func (c *Core) RegisterInternalFailure(msg string) {
	c.failures.Add(1)
	if c.policy == FailureFatal {
		status.Fatal(c.fatal, "node: internal failure: "+msg)
	}
	if c.log != nil {
		c.log.Errorf("internal failure: %s", msg)
	}
}

// InternalFailures returns how many failures were registered.
func (c *Core) InternalFailures() uint64 {
	return c.failures.Load()
}

var _ Node = (*Core)(nil)
