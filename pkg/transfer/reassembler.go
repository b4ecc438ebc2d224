package transfer

import (
	"fmt"
	"time"

	"github.com/backkem/uavcan/pkg/clock"
	"github.com/backkem/uavcan/pkg/pool"
	"github.com/backkem/uavcan/pkg/status"
)

// Reassembler defaults.
const (
	// DefaultSlots is the default number of concurrently tracked streams.
	DefaultSlots = 32

	// DefaultTimeout is how long an in-progress transfer may go without a frame.
	DefaultTimeout = 1 * time.Second

	// DefaultDuplicateWindow is how long a completed transfer ID is remembered.
	DefaultDuplicateWindow = 2 * time.Second
)

// ReassemblerConfig configures a Reassembler.
type ReassemblerConfig struct {
	// Allocator supplies reassembly buffers. Required.
	Allocator pool.Allocator

	// Slots is the number of streams tracked at once. Default: DefaultSlots.
	Slots int

	// Timeout releases in-progress transfers idle for longer. Default: DefaultTimeout.
	Timeout time.Duration

	// DuplicateWindow is how long a completed transfer ID suppresses repeats.
	// Default: DefaultDuplicateWindow.
	DuplicateWindow time.Duration
}

// ReassemblerStats counts reassembly outcomes.
type ReassemblerStats struct {
	Completed  uint64
	Duplicates uint64
	OutOfOrder uint64
	Corrupted  uint64
	TimedOut   uint64
	NoMemory   uint64
}

// slot is the per-stream state. A slot is in use while a transfer is in
// progress or while a completed transfer ID is remembered.
type slot struct {
	used bool
	key  Key

	// in progress
	active    bool
	tid       TransferID
	toggle    bool
	priority  Priority
	dest      NodeID
	crc       uint16
	blocks    []*pool.Block
	n         int
	lastFrame clock.Monotonic

	// last completed
	completed   bool
	lastTID     TransferID
	completedAt clock.Monotonic
}

// Reassembler turns frame sequences into complete transfers.
//
// Stream state lives in a fixed arena of slots; buffers come from the pool.
// Every buffer taken for a transfer is released on exactly one of four paths:
// completion, duplicate/out-of-sequence rejection, corruption, or timeout.
//
// A Reassembler is not safe for concurrent use.
type Reassembler struct {
	alloc     pool.Allocator
	blockSize int
	timeout   time.Duration
	window    time.Duration
	slots     []slot
	scratch   []byte
	stats     ReassemblerStats
}

// NewReassembler creates a reassembler. All memory except pool blocks is
// allocated here.
func NewReassembler(config ReassemblerConfig) (*Reassembler, error) {
	if config.Allocator == nil {
		return nil, fmt.Errorf("transfer: reassembler allocator: %w", status.ErrInvalidParam)
	}
	if config.Slots <= 0 {
		config.Slots = DefaultSlots
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.DuplicateWindow <= 0 {
		config.DuplicateWindow = DefaultDuplicateWindow
	}

	bs := config.Allocator.BlockSize()
	if bs <= 0 {
		return nil, fmt.Errorf("transfer: block size %d: %w", bs, status.ErrInvalidParam)
	}
	maxBlocks := (MaxPayloadLen + bs - 1) / bs

	r := &Reassembler{
		alloc:     config.Allocator,
		blockSize: bs,
		timeout:   config.Timeout,
		window:    config.DuplicateWindow,
		slots:     make([]slot, config.Slots),
		scratch:   make([]byte, MaxPayloadLen),
	}
	for i := range r.slots {
		r.slots[i].blocks = make([]*pool.Block, 0, maxBlocks)
	}
	return r, nil
}

// Accept feeds one frame received at now. sig is the data type signature
// used to check multi-frame CRCs.
//
// When the frame completes a transfer, Accept returns it with ok=true; the
// payload is only valid until the next call. A non-nil error means the frame,
// and possibly the transfer it belonged to, was dropped.
func (r *Reassembler) Accept(f *Frame, sig Signature, now clock.Monotonic) (t IncomingTransfer, ok bool, err error) {
	key := f.Header.Key()
	s := r.find(key)

	// A stale in-progress transfer is expired before the frame is considered.
	if s != nil && s.active && now.Sub(s.lastFrame) > r.timeout {
		r.expire(s)
		s = r.find(key)
	}

	if f.Tail.Start {
		return r.acceptStart(s, key, f, sig, now)
	}
	return r.acceptContinuation(s, f, sig, now)
}

func (r *Reassembler) acceptStart(s *slot, key Key, f *Frame, sig Signature, now clock.Monotonic) (IncomingTransfer, bool, error) {
	tid := f.Tail.TransferID

	if s != nil && s.completed && now.Sub(s.completedAt) < r.window {
		d := s.lastTID.ForwardDistance(tid)
		if d == 0 {
			r.stats.Duplicates++
			return IncomingTransfer{}, false, ErrDuplicate
		}
		if d > transferIDHalfRange {
			r.stats.OutOfOrder++
			return IncomingTransfer{}, false, ErrOutOfOrder
		}
	}
	if f.Tail.Toggle {
		r.stats.Corrupted++
		r.freeIfIdle(s)
		return IncomingTransfer{}, false, ErrToggleMismatch
	}

	if f.Tail.End {
		// Single-frame transfers are delivered straight from the frame.
		if s != nil && s.active {
			r.abandon(s)
		}
		if s == nil {
			s = r.claim(key)
		}
		if s != nil {
			r.markCompleted(s, tid, now)
		}
		r.stats.Completed++
		n := copy(r.scratch, f.Payload)
		return IncomingTransfer{
			Key:         key,
			Destination: f.Header.Destination,
			TransferID:  tid,
			Priority:    f.Header.Priority,
			Payload:     r.scratch[:n],
			Timestamp:   now,
		}, true, nil
	}

	if len(f.Payload) != FramePayloadLen {
		r.stats.Corrupted++
		r.freeIfIdle(s)
		return IncomingTransfer{}, false, ErrMalformedFrame
	}

	// Only a start accepted as a new transfer abandons the one in progress.
	if s != nil && s.active {
		r.abandon(s)
	}
	if s == nil {
		s = r.claim(key)
		if s == nil {
			r.stats.NoMemory++
			return IncomingTransfer{}, false, fmt.Errorf("transfer: no free slot for %s: %w", key, status.ErrMemory)
		}
	}

	s.active = true
	s.tid = tid
	s.toggle = true
	s.priority = f.Header.Priority
	s.dest = f.Header.Destination
	s.crc = uint16(f.Payload[0]) | uint16(f.Payload[1])<<8
	s.lastFrame = now
	if err := r.appendPayload(s, f.Payload[crcLen:]); err != nil {
		r.abandon(s)
		r.freeIfIdle(s)
		return IncomingTransfer{}, false, err
	}
	return IncomingTransfer{}, false, nil
}

func (r *Reassembler) acceptContinuation(s *slot, f *Frame, sig Signature, now clock.Monotonic) (IncomingTransfer, bool, error) {
	tid := f.Tail.TransferID

	if s == nil || !s.active || s.tid != tid {
		if s != nil && s.completed && s.lastTID == tid && now.Sub(s.completedAt) < r.window {
			r.stats.Duplicates++
			return IncomingTransfer{}, false, ErrDuplicate
		}
		return IncomingTransfer{}, false, ErrUnexpectedFrame
	}

	if f.Tail.Toggle != s.toggle {
		r.stats.Corrupted++
		r.abandon(s)
		r.freeIfIdle(s)
		return IncomingTransfer{}, false, ErrToggleMismatch
	}
	if !f.Tail.End && len(f.Payload) != FramePayloadLen {
		r.stats.Corrupted++
		r.abandon(s)
		r.freeIfIdle(s)
		return IncomingTransfer{}, false, ErrMalformedFrame
	}

	if err := r.appendPayload(s, f.Payload); err != nil {
		r.abandon(s)
		r.freeIfIdle(s)
		return IncomingTransfer{}, false, err
	}
	s.toggle = !s.toggle
	s.lastFrame = now

	if !f.Tail.End {
		return IncomingTransfer{}, false, nil
	}

	n := r.gather(s)
	crc := NewTransferCRC(sig)
	crc.Add(r.scratch[:n])
	if crc.Sum() != s.crc {
		r.stats.Corrupted++
		r.abandon(s)
		r.freeIfIdle(s)
		return IncomingTransfer{}, false, ErrCRCMismatch
	}

	t := IncomingTransfer{
		Key:         s.key,
		Destination: s.dest,
		TransferID:  s.tid,
		Priority:    s.priority,
		Payload:     r.scratch[:n],
		Timestamp:   now,
		MultiFrame:  true,
	}
	r.releaseBlocks(s)
	r.markCompleted(s, tid, now)
	r.stats.Completed++
	return t, true, nil
}

// Cleanup expires idle in-progress transfers and forgets completed transfer
// IDs older than the duplicate window. Returns the number of transfers that
// timed out.
func (r *Reassembler) Cleanup(now clock.Monotonic) int {
	expired := 0
	for i := range r.slots {
		s := &r.slots[i]
		if !s.used {
			continue
		}
		if s.active && now.Sub(s.lastFrame) > r.timeout {
			r.expire(s)
			expired++
			continue
		}
		if !s.active && s.completed && now.Sub(s.completedAt) >= r.window {
			r.free(s)
		}
	}
	return expired
}

// InProgress reports whether a transfer is being reassembled for key.
func (r *Reassembler) InProgress(key Key) bool {
	s := r.find(key)
	return s != nil && s.active
}

// Len returns the number of slots in use.
func (r *Reassembler) Len() int {
	n := 0
	for i := range r.slots {
		if r.slots[i].used {
			n++
		}
	}
	return n
}

// Stats returns the outcome counters.
func (r *Reassembler) Stats() ReassemblerStats {
	return r.stats
}

// Reset releases every buffer and forgets all streams.
func (r *Reassembler) Reset() {
	for i := range r.slots {
		if r.slots[i].used {
			r.free(&r.slots[i])
		}
	}
}

func (r *Reassembler) find(key Key) *slot {
	for i := range r.slots {
		if r.slots[i].used && r.slots[i].key == key {
			return &r.slots[i]
		}
	}
	return nil
}

// claim takes a free slot for key, or returns nil if the arena is full.
// Probing starts at a key-derived index to spread streams over the arena.
func (r *Reassembler) claim(key Key) *slot {
	n := len(r.slots)
	start := (int(key.Source)*131 + int(key.DataType)*3 + int(key.Kind)) % n
	for i := 0; i < n; i++ {
		s := &r.slots[(start+i)%n]
		if !s.used {
			s.used = true
			s.key = key
			return s
		}
	}
	return nil
}

func (r *Reassembler) appendPayload(s *slot, p []byte) error {
	if s.n+len(p) > MaxPayloadLen {
		r.stats.Corrupted++
		return ErrPayloadTooLong
	}
	for len(p) > 0 {
		bi, off := s.n/r.blockSize, s.n%r.blockSize
		if bi == len(s.blocks) {
			b := r.alloc.Allocate(r.blockSize)
			if b == nil {
				r.stats.NoMemory++
				return fmt.Errorf("transfer: pool exhausted for %s: %w", s.key, status.ErrMemory)
			}
			s.blocks = append(s.blocks, b)
		}
		c := copy(s.blocks[bi].Data[off:], p)
		s.n += c
		p = p[c:]
	}
	return nil
}

func (r *Reassembler) gather(s *slot) int {
	n := 0
	for _, b := range s.blocks {
		if n >= s.n {
			break
		}
		end := s.n - n
		if end > len(b.Data) {
			end = len(b.Data)
		}
		n += copy(r.scratch[n:], b.Data[:end])
	}
	return n
}

func (r *Reassembler) releaseBlocks(s *slot) {
	for i, b := range s.blocks {
		r.alloc.Release(b)
		s.blocks[i] = nil
	}
	s.blocks = s.blocks[:0]
	s.n = 0
}

func (r *Reassembler) markCompleted(s *slot, tid TransferID, now clock.Monotonic) {
	s.active = false
	s.completed = true
	s.lastTID = tid
	s.completedAt = now
}

// abandon drops the in-progress transfer of s, keeping any completed memory.
func (r *Reassembler) abandon(s *slot) {
	r.releaseBlocks(s)
	s.active = false
}

func (r *Reassembler) expire(s *slot) {
	r.stats.TimedOut++
	r.abandon(s)
	r.freeIfIdle(s)
}

// freeIfIdle releases s if it holds neither a transfer nor a remembered ID.
func (r *Reassembler) freeIfIdle(s *slot) {
	if s != nil && s.used && !s.active && !s.completed {
		r.free(s)
	}
}

func (r *Reassembler) free(s *slot) {
	r.releaseBlocks(s)
	blocks := s.blocks
	*s = slot{blocks: blocks}
}
