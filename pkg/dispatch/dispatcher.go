// Package dispatch routes bus frames to transfer listeners and gates every
// outgoing transfer on the node's identity.
package dispatch

import (
	"errors"
	"fmt"
	"time"

	"github.com/backkem/uavcan/pkg/can"
	"github.com/backkem/uavcan/pkg/clock"
	"github.com/backkem/uavcan/pkg/pool"
	"github.com/backkem/uavcan/pkg/status"
	"github.com/backkem/uavcan/pkg/transfer"
	"github.com/pion/logging"
)

// DefaultTransferIDStreams is the default number of outgoing transfer ID
// counters kept.
const DefaultTransferIDStreams = 256

// Config configures a Dispatcher.
type Config struct {
	// Driver transmits outgoing frames. Required.
	Driver can.Driver

	// Allocator supplies reassembly buffers. Required.
	Allocator pool.Allocator

	// Identity is the node identity. If nil, a new passive identity is created.
	Identity *IdentityState

	// ReassemblySlots is the number of concurrently reassembled streams.
	// Default: transfer.DefaultSlots.
	ReassemblySlots int

	// ReassemblyTimeout releases transfers that stop receiving frames.
	// Default: transfer.DefaultTimeout.
	ReassemblyTimeout time.Duration

	// DuplicateWindow is how long a completed transfer ID is remembered.
	// Default: transfer.DefaultDuplicateWindow.
	DuplicateWindow time.Duration

	// TransferIDStreams bounds the outgoing transfer ID counters, one per
	// (data type, kind, destination). When full, a counter for a new
	// combination replaces an existing one, which restarts from zero.
	// Default: DefaultTransferIDStreams.
	TransferIDStreams int

	// Unhandled, if set, receives frames of data types nobody listens to.
	// Without it such frames are rejected with ErrUnknownDataType.
	Unhandled func(f *transfer.Frame)

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Stats holds the dispatcher performance counters.
type Stats struct {
	FramesRx    uint64
	FramesTx    uint64
	TransfersRx uint64
	TransfersTx uint64

	// Errors counts failures by status code.
	Errors map[status.Code]uint64

	Reassembly transfer.ReassemblerStats
}

type tidKey struct {
	dataType transfer.DataTypeID
	kind     transfer.Kind
	dest     transfer.NodeID
}

// Dispatcher is the single routing point between the bus driver and the
// transfer listeners.
//
// Incoming frames are matched to a listener before any buffer is taken, then
// reassembled; completed transfers are delivered synchronously. Outgoing
// transfers are refused while the node is passive.
//
// A Dispatcher is driven by one goroutine and is not safe for concurrent use.
type Dispatcher struct {
	driver    can.Driver
	identity  *IdentityState
	reasm     *transfer.Reassembler
	unhandled func(f *transfer.Frame)

	listeners map[ListenerKey]registration
	tids      map[tidKey]transfer.TransferID
	maxTIDs   int
	txFrames  []can.Frame

	stats  Stats
	errors [status.ErrPassiveMode + 1]uint64

	log logging.LeveledLogger
}

// New creates a Dispatcher.
func New(config Config) (*Dispatcher, error) {
	if config.Driver == nil {
		return nil, ErrDriverRequired
	}
	if config.Allocator == nil {
		return nil, ErrAllocatorRequired
	}

	reasm, err := transfer.NewReassembler(transfer.ReassemblerConfig{
		Allocator:       config.Allocator,
		Slots:           config.ReassemblySlots,
		Timeout:         config.ReassemblyTimeout,
		DuplicateWindow: config.DuplicateWindow,
	})
	if err != nil {
		return nil, err
	}

	identity := config.Identity
	if identity == nil {
		identity = NewIdentityState()
	}

	if config.TransferIDStreams <= 0 {
		config.TransferIDStreams = DefaultTransferIDStreams
	}

	d := &Dispatcher{
		driver:    config.Driver,
		identity:  identity,
		reasm:     reasm,
		unhandled: config.Unhandled,
		listeners: make(map[ListenerKey]registration),
		tids:      make(map[tidKey]transfer.TransferID, config.TransferIDStreams),
		maxTIDs:   config.TransferIDStreams,
		txFrames:  make([]can.Frame, 0, transfer.FrameCount(transfer.MaxPayloadLen)),
	}

	if config.LoggerFactory != nil {
		d.log = config.LoggerFactory.NewLogger("dispatch")
	}

	return d, nil
}

// Identity returns the identity state shared with the rest of the node.
func (d *Dispatcher) Identity() *IdentityState {
	return d.identity
}

// SetNodeID assigns the node ID. See IdentityState.SetNodeID.
func (d *Dispatcher) SetNodeID(id transfer.NodeID) bool {
	if !d.identity.SetNodeID(id) {
		if d.log != nil {
			d.log.Debugf("node ID %s rejected, current %s", id, d.identity.NodeID())
		}
		return false
	}
	if d.log != nil {
		d.log.Infof("node ID set to %s, now %s", id, d.identity.Mode())
	}
	return true
}

// NodeID returns the node ID, or NodeIDBroadcast while passive.
func (d *Dispatcher) NodeID() transfer.NodeID {
	return d.identity.NodeID()
}

// IsPassiveMode reports whether the node may not transmit.
func (d *Dispatcher) IsPassiveMode() bool {
	return d.identity.IsPassive()
}

// RegisterListener registers l for the data type and kind of desc.
// Returns ErrInvalidTransferListener if that key is already taken; the
// existing registration is kept.
func (d *Dispatcher) RegisterListener(desc ListenerDescriptor, l Listener) error {
	if l == nil || !desc.Kind.Valid() || !desc.DataType.ValidFor(desc.Kind) {
		return d.fail(fmt.Errorf("dispatch: listener %s: %w", desc.Key(), status.ErrInvalidParam))
	}
	key := desc.Key()
	if _, exists := d.listeners[key]; exists {
		return d.fail(fmt.Errorf("dispatch: listener %s already registered: %w", key, status.ErrInvalidTransferListener))
	}
	d.listeners[key] = registration{desc: desc, listener: l}
	if d.log != nil {
		d.log.Debugf("registered listener %s %s", key, desc.Name)
	}
	return nil
}

// UnregisterListener removes the listener for key. Returns false if none was
// registered.
func (d *Dispatcher) UnregisterListener(key ListenerKey) bool {
	if _, ok := d.listeners[key]; !ok {
		return false
	}
	delete(d.listeners, key)
	return true
}

// HasListener reports whether a listener is registered for key.
func (d *Dispatcher) HasListener(key ListenerKey) bool {
	_, ok := d.listeners[key]
	return ok
}

// AcceptFrame processes one frame received at now. A frame that completes a
// transfer is delivered to its listener before AcceptFrame returns.
//
// The returned error describes why the frame was dropped. It never affects
// other frames or transfers.
func (d *Dispatcher) AcceptFrame(cf can.Frame, now clock.Monotonic) error {
	d.stats.FramesRx++

	f, err := transfer.ParseFrame(cf)
	if err != nil {
		return err
	}

	if f.Header.Kind.IsService() && f.Header.Destination != d.identity.NodeID() {
		// Addressed to someone else.
		return nil
	}

	reg, ok := d.listeners[ListenerKey{DataType: f.Header.DataType, Kind: f.Header.Kind}]
	if !ok {
		if d.unhandled != nil {
			d.unhandled(&f)
			return nil
		}
		return d.fail(fmt.Errorf("dispatch: %s: %w", f.Header.Key(), status.ErrUnknownDataType))
	}

	t, done, err := d.reasm.Accept(&f, reg.desc.Signature, now)
	if err != nil {
		if d.log != nil {
			d.log.Debugf("dropped %v: %v", f, err)
		}
		return d.fail(err)
	}
	if !done {
		return nil
	}

	d.stats.TransfersRx++
	reg.listener.OnTransfer(&t)
	return nil
}

// Send splits t into frames and transmits them.
//
// Source is filled with the node ID. For messages and requests TransferID is
// assigned from the per (data type, kind, destination) counter and written
// back to t; responses keep the TransferID of the request they answer.
//
// While the node is passive Send returns ErrPassiveMode without touching the
// driver.
func (d *Dispatcher) Send(t *transfer.OutgoingTransfer) error {
	if d.identity.IsPassive() {
		return d.fail(fmt.Errorf("dispatch: send %s/%d: %w", t.Kind, t.DataType, status.ErrPassiveMode))
	}
	t.Source = d.identity.NodeID()

	var key tidKey
	if t.Kind != transfer.KindServiceResponse {
		key = tidKey{dataType: t.DataType, kind: t.Kind, dest: t.Destination}
		t.TransferID = d.tids[key]
	}

	frames, err := transfer.Split(d.txFrames[:0], t)
	if err != nil {
		return d.fail(fmt.Errorf("dispatch: %w: %w", status.ErrInvalidParam, err))
	}
	if t.Kind != transfer.KindServiceResponse {
		d.storeTransferID(key, t.TransferID.Next())
	}

	for i, f := range frames {
		if err := d.driver.Transmit(f); err != nil {
			if d.log != nil {
				d.log.Warnf("transmit frame %d/%d of %s/%d failed: %v", i+1, len(frames), t.Kind, t.DataType, err)
			}
			return d.fail(fmt.Errorf("dispatch: transmit: %w: %w", status.ErrDriver, err))
		}
		d.stats.FramesTx++
	}
	d.stats.TransfersTx++
	return nil
}

func (d *Dispatcher) storeTransferID(key tidKey, next transfer.TransferID) {
	if _, ok := d.tids[key]; !ok && len(d.tids) >= d.maxTIDs {
		for old := range d.tids {
			delete(d.tids, old)
			if d.log != nil {
				d.log.Debugf("transfer ID table full, dropped counter %d/%d->%s", old.kind, old.dataType, old.dest)
			}
			break
		}
	}
	d.tids[key] = next
}

// NextTransferID returns the ID the next transfer for the given data type,
// kind and destination will carry.
func (d *Dispatcher) NextTransferID(dataType transfer.DataTypeID, kind transfer.Kind, dest transfer.NodeID) transfer.TransferID {
	return d.tids[tidKey{dataType: dataType, kind: kind, dest: dest}]
}

// Cleanup expires stale reassembly state. Returns the number of transfers
// that timed out.
func (d *Dispatcher) Cleanup(now clock.Monotonic) int {
	n := d.reasm.Cleanup(now)
	if n > 0 && d.log != nil {
		d.log.Debugf("%d incomplete transfers timed out", n)
	}
	return n
}

// InProgress reports whether a transfer for key is being reassembled.
func (d *Dispatcher) InProgress(key transfer.Key) bool {
	return d.reasm.InProgress(key)
}

// ReassemblyLen returns the number of reassembly slots in use.
func (d *Dispatcher) ReassemblyLen() int {
	return d.reasm.Len()
}

// Stats returns a snapshot of the performance counters.
func (d *Dispatcher) Stats() Stats {
	s := d.stats
	s.Reassembly = d.reasm.Stats()
	s.Errors = make(map[status.Code]uint64)
	for c, n := range d.errors {
		if n > 0 {
			s.Errors[status.Code(c)] = n
		}
	}
	return s
}

// fail counts err under its status code and returns it.
func (d *Dispatcher) fail(err error) error {
	var c status.Code
	if errors.As(err, &c) && c > 0 && int(c) < len(d.errors) {
		d.errors[c]++
	}
	return err
}
