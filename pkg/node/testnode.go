package node

import (
	"sync"
	"time"

	"github.com/backkem/uavcan/pkg/can"
	"github.com/backkem/uavcan/pkg/clock"
	"github.com/backkem/uavcan/pkg/dispatch"
	"github.com/backkem/uavcan/pkg/marshal"
	"github.com/backkem/uavcan/pkg/pool"
	"github.com/backkem/uavcan/pkg/scheduler"
	"github.com/backkem/uavcan/pkg/transfer"
	"github.com/pion/logging"
)

// TestNodeConfig configures a TestNode.
type TestNodeConfig struct {
	// NodeID, if set, is assigned at construction.
	NodeID transfer.NodeID

	// Start is the initial monotonic time. Default: 1s.
	Start clock.Monotonic

	// PoolBlocks is the pool size. Default: 64.
	PoolBlocks int

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// TestNode is a Node for testing application code without a bus.
//
// Time only moves when the test advances Clock, or when Spin waits with no
// frame pending: the wait then jumps the clock to its end. Frames are fed in
// with Inject and everything transmitted is recorded. Internal failures are
// recorded instead of escalated.
type TestNode struct {
	*Core

	Clock *clock.ManualClock

	pool   *pool.Fixed
	driver *testDriver

	mu       sync.Mutex
	failures []string
}

// NewTestNode creates a test node.
func NewTestNode(config TestNodeConfig) (*TestNode, error) {
	if config.NodeID != transfer.NodeIDBroadcast && !config.NodeID.IsUnicast() {
		return nil, ErrInvalidNodeID
	}
	if config.Start.IsZero() {
		config.Start = clock.MonotonicFromMicros(uint64(time.Second / time.Microsecond))
	}
	if config.PoolBlocks <= 0 {
		config.PoolBlocks = 64
	}

	clk := clock.NewManualClock(config.Start)
	drv := &testDriver{clk: clk, rx: can.NewQueue(0)}
	p := pool.NewFixed(config.PoolBlocks, pool.DefaultBlockSize)

	disp, err := dispatch.New(dispatch.Config{
		Driver:        drv,
		Allocator:     p,
		LoggerFactory: config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}
	sched, err := scheduler.New(scheduler.Config{
		Dispatcher:    disp,
		Driver:        drv,
		Clock:         clk,
		LoggerFactory: config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}
	if config.NodeID.IsUnicast() {
		disp.SetNodeID(config.NodeID)
	}

	return &TestNode{
		Core: NewCore(CoreConfig{
			Scheduler:     sched,
			Allocator:     p,
			Buffers:       marshal.NewStatic(DefaultMarshalBuffers, marshal.DefaultBufferSize),
			LoggerFactory: config.LoggerFactory,
		}),
		Clock:  clk,
		pool:   p,
		driver: drv,
	}, nil
}

// Inject queues a frame as if it had been received from the bus.
func (n *TestNode) Inject(f can.Frame) error {
	return n.driver.rx.Push(f)
}

// Sent returns the frames transmitted so far.
func (n *TestNode) Sent() []can.Frame {
	return n.driver.sent()
}

// ResetSent forgets the recorded frames.
func (n *TestNode) ResetSent() {
	n.driver.reset()
}

// PoolStats returns the memory pool usage.
func (n *TestNode) PoolStats() pool.Stats {
	return n.pool.Stats()
}

// RegisterInternalFailure records msg.
func (n *TestNode) RegisterInternalFailure(msg string) {
	n.mu.Lock()
	n.failures = append(n.failures, msg)
	n.mu.Unlock()
}

// Failures returns the registered internal failures.
func (n *TestNode) Failures() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.failures...)
}

// Close releases the receive queue.
func (n *TestNode) Close() error {
	return n.driver.rx.Close()
}

var _ Node = (*TestNode)(nil)

// testDriver records transmissions and serves injected frames.
type testDriver struct {
	clk *clock.ManualClock
	rx  *can.Queue

	mu     sync.Mutex
	frames []can.Frame
}

func (d *testDriver) Receive() (can.Frame, bool, error) {
	return d.rx.Receive()
}

func (d *testDriver) Transmit(f can.Frame) error {
	d.mu.Lock()
	d.frames = append(d.frames, f)
	d.mu.Unlock()
	return nil
}

func (d *testDriver) Wait(timeout time.Duration) error {
	if d.rx.Len() > 0 {
		return nil
	}
	d.clk.Advance(timeout)
	return nil
}

func (d *testDriver) sent() []can.Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]can.Frame(nil), d.frames...)
}

func (d *testDriver) reset() {
	d.mu.Lock()
	d.frames = nil
	d.mu.Unlock()
}
