package can

import (
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/transport/v3/test"
)

// NetworkCondition configures bus behavior simulation.
type NetworkCondition struct {
	// DropRate is the probability of dropping a frame (0.0 - 1.0).
	DropRate float64

	// DuplicateRate is the probability of delivering a frame twice (0.0 - 1.0).
	DuplicateRate float64
}

// PipeConfig configures a Pipe.
type PipeConfig struct {
	// AutoProcess enables automatic frame delivery in a background goroutine.
	AutoProcess bool

	// ProcessInterval is how often the auto-processor delivers frames.
	// Default: 1ms
	ProcessInterval time.Duration

	// QueueCapacity is the receive queue size of each endpoint.
	QueueCapacity int
}

// DefaultPipeConfig returns the default pipe configuration.
func DefaultPipeConfig() PipeConfig {
	return PipeConfig{
		AutoProcess:     true,
		ProcessInterval: 1 * time.Millisecond,
	}
}

// Pipe is an in-memory two-node bus built on pion's test.Bridge.
// Each side is exposed as a Driver.
//
// By default frames are delivered by a background goroutine. Disable
// AutoProcess and call Tick or Process for deterministic orderings.
type Pipe struct {
	bridge *test.Bridge
	ends   [2]*PipeDriver

	mu              sync.RWMutex
	condition       NetworkCondition
	rng             *rand.Rand
	closed          bool
	autoProcess     bool
	processInterval time.Duration
	stopCh          chan struct{}
	wg              sync.WaitGroup
}

// NewPipe creates a pipe with auto-processing enabled.
func NewPipe() *Pipe {
	return NewPipeWithConfig(DefaultPipeConfig())
}

// NewPipeWithConfig creates a pipe with the given configuration.
func NewPipeWithConfig(config PipeConfig) *Pipe {
	p := &Pipe{
		bridge:          test.NewBridge(),
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
		autoProcess:     config.AutoProcess,
		processInterval: config.ProcessInterval,
		stopCh:          make(chan struct{}),
	}
	if p.processInterval == 0 {
		p.processInterval = 1 * time.Millisecond
	}

	p.ends[0] = newPipeDriver(p, p.bridge.GetConn0(), config.QueueCapacity)
	p.ends[1] = newPipeDriver(p, p.bridge.GetConn1(), config.QueueCapacity)

	if p.autoProcess {
		p.startAutoProcess()
	}
	return p
}

func (p *Pipe) startAutoProcess() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.processInterval)
		defer ticker.Stop()

		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.bridge.Tick()
			}
		}
	}()
}

// Driver0 returns the driver for endpoint 0.
func (p *Pipe) Driver0() *PipeDriver { return p.ends[0] }

// Driver1 returns the driver for endpoint 1.
func (p *Pipe) Driver1() *PipeDriver { return p.ends[1] }

// SetCondition configures bus condition simulation for both directions.
func (p *Pipe) SetCondition(cond NetworkCondition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.condition = cond
}

// roll draws the simulated fate of one frame.
func (p *Pipe) roll() (drop, dup, closed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false, false, true
	}
	drop = p.condition.DropRate > 0 && p.rng.Float64() < p.condition.DropRate
	dup = p.condition.DuplicateRate > 0 && p.rng.Float64() < p.condition.DuplicateRate
	return drop, dup, false
}

// Tick delivers one frame in each direction (if available).
// Returns the number of frames delivered.
func (p *Pipe) Tick() int {
	return p.bridge.Tick()
}

// Process delivers all queued frames.
func (p *Pipe) Process() int {
	count := 0
	for {
		n := p.Tick()
		if n == 0 {
			break
		}
		count += n
	}
	return count
}

// Close closes both endpoints and stops auto-processing.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.autoProcess {
		close(p.stopCh)
	}
	p.mu.Unlock()

	p.wg.Wait()

	var firstErr error
	for _, end := range p.ends {
		if err := end.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// PipeDriver is one endpoint of a Pipe.
type PipeDriver struct {
	pipe *Pipe
	conn net.Conn
	rx   *Queue

	transmitted atomic.Uint64
}

func newPipeDriver(p *Pipe, conn net.Conn, capacity int) *PipeDriver {
	d := &PipeDriver{
		pipe: p,
		conn: conn,
		rx:   NewQueue(capacity),
	}
	go d.readLoop()
	return d
}

// readLoop moves delivered frames from the bridge into the receive queue.
// It exits when the bridge connection is closed.
func (d *PipeDriver) readLoop() {
	buf := make([]byte, EncodedFrameLen)
	for {
		n, err := d.conn.Read(buf)
		if err != nil {
			return
		}
		f, err := DecodeFrame(buf[:n])
		if err != nil {
			continue
		}
		// Overflow drops the frame, as a real controller would.
		_ = d.rx.Push(f)
	}
}

// Receive implements Driver.
func (d *PipeDriver) Receive() (Frame, bool, error) {
	return d.rx.Receive()
}

// Wait implements Driver.
func (d *PipeDriver) Wait(timeout time.Duration) error {
	return d.rx.Wait(timeout)
}

// Transmit implements Driver.
func (d *PipeDriver) Transmit(f Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}

	drop, dup, closed := d.pipe.roll()
	if closed {
		return ErrClosed
	}

	d.transmitted.Add(1)
	data := f.Encode()

	if drop {
		return nil
	}
	if dup {
		if _, err := d.conn.Write(data); err != nil {
			return err
		}
	}
	_, err := d.conn.Write(data)
	return err
}

// Transmitted returns the number of frames passed to Transmit.
func (d *PipeDriver) Transmitted() uint64 {
	return d.transmitted.Load()
}

// Dropped returns the number of frames lost to receive queue overflow.
func (d *PipeDriver) Dropped() uint64 {
	return d.rx.Dropped()
}

func (d *PipeDriver) close() error {
	err := d.conn.Close()
	d.rx.Close()
	return err
}

var _ Driver = (*PipeDriver)(nil)
