// Package marshal provides scratch buffers for serializers. Buffers are
// preallocated so that leasing one never allocates on the hot path.
package marshal

import (
	"fmt"
	"sync"

	"github.com/backkem/uavcan/pkg/status"
)

// DefaultBufferSize fits the largest transfer payload of the protocol.
const DefaultBufferSize = 512

// Buffer is a leased scratch buffer. Call Release when done.
type Buffer struct {
	data     []byte
	n        int
	provider *Static
	leased   bool
}

// Bytes returns the written part of the buffer.
func (b *Buffer) Bytes() []byte { return b.data[:b.n] }

// Cap returns the buffer capacity.
func (b *Buffer) Cap() int { return len(b.data) }

// Reset discards written data.
func (b *Buffer) Reset() { b.n = 0 }

// Write appends p. Returns status.ErrInvalidMarshalData if p does not fit.
func (b *Buffer) Write(p []byte) (int, error) {
	if b.n+len(p) > len(b.data) {
		return 0, fmt.Errorf("marshal: %d bytes exceed buffer capacity %d: %w",
			b.n+len(p), len(b.data), status.ErrInvalidMarshalData)
	}
	copy(b.data[b.n:], p)
	b.n += len(p)
	return len(p), nil
}

// Release returns the buffer to its provider.
func (b *Buffer) Release() {
	if b.provider != nil {
		b.provider.release(b)
	}
}

// BufferProvider leases scratch buffers to serializers.
type BufferProvider interface {
	// Lease returns a buffer, or status.ErrMemory if none is available.
	Lease() (*Buffer, error)
}

// Static is a BufferProvider over a fixed set of preallocated buffers.
// It is safe for concurrent use.
type Static struct {
	mu      sync.Mutex
	buffers []*Buffer
}

// NewStatic creates a provider with count buffers of size bytes.
func NewStatic(count, size int) *Static {
	if size <= 0 {
		size = DefaultBufferSize
	}
	if count <= 0 {
		count = 1
	}
	s := &Static{buffers: make([]*Buffer, count)}
	for i := range s.buffers {
		s.buffers[i] = &Buffer{data: make([]byte, size), provider: s}
	}
	return s
}

// Lease returns a free buffer.
func (s *Static) Lease() (*Buffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range s.buffers {
		if !b.leased {
			b.leased = true
			b.n = 0
			return b, nil
		}
	}
	return nil, fmt.Errorf("marshal: all %d buffers leased: %w", len(s.buffers), status.ErrMemory)
}

// Leased returns the number of buffers currently leased.
func (s *Static) Leased() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, b := range s.buffers {
		if b.leased {
			n++
		}
	}
	return n
}

func (s *Static) release(b *Buffer) {
	s.mu.Lock()
	b.leased = false
	b.n = 0
	s.mu.Unlock()
}

var _ BufferProvider = (*Static)(nil)
