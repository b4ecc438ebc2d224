// Package pool provides the fixed-block memory pool shared by all transfer
// reassembly streams. Blocks are allocated up front; Allocate and Release
// never block and never grow the pool.
package pool

import "sync"

// DefaultBlockSize is the default size of a pool block in bytes.
const DefaultBlockSize = 64

// Block is a fixed-size chunk of pool memory.
type Block struct {
	Data  []byte
	index int
	owner *Fixed
}

// Allocator is the memory pool contract consumed by the stack.
//
// Allocate returns nil when the pool is exhausted or size exceeds the block
// size. Release must be called exactly once for every allocated block.
type Allocator interface {
	Allocate(size int) *Block
	Release(b *Block)
	BlockSize() int
}

// Stats reports pool usage.
type Stats struct {
	Capacity    int
	InUse       int
	Peak        int
	Allocations uint64
	Releases    uint64
	Failures    uint64
}

// Fixed is an Allocator over a preallocated array of equal-size blocks.
// It is safe for concurrent use.
type Fixed struct {
	blockSize int
	blocks    []Block
	free      []int
	inUse     []bool

	mu    sync.Mutex
	stats Stats
}

// NewFixed creates a pool of count blocks of blockSize bytes.
// If blockSize is not positive, DefaultBlockSize is used.
func NewFixed(count, blockSize int) *Fixed {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	if count < 0 {
		count = 0
	}

	p := &Fixed{
		blockSize: blockSize,
		blocks:    make([]Block, count),
		free:      make([]int, count),
		inUse:     make([]bool, count),
	}

	backing := make([]byte, count*blockSize)
	for i := range p.blocks {
		p.blocks[i] = Block{
			Data:  backing[i*blockSize : (i+1)*blockSize : (i+1)*blockSize],
			index: i,
			owner: p,
		}
		// Hand out low indexes first.
		p.free[i] = count - 1 - i
	}
	p.stats.Capacity = count
	return p
}

// BlockSize returns the size of every block.
func (p *Fixed) BlockSize() int {
	return p.blockSize
}

// Allocate takes a block from the pool. Returns nil if the pool is exhausted
// or size exceeds BlockSize.
func (p *Fixed) Allocate(size int) *Block {
	p.mu.Lock()
	defer p.mu.Unlock()

	if size > p.blockSize || len(p.free) == 0 {
		p.stats.Failures++
		return nil
	}

	idx := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	p.inUse[idx] = true

	p.stats.Allocations++
	p.stats.InUse++
	if p.stats.InUse > p.stats.Peak {
		p.stats.Peak = p.stats.InUse
	}

	b := &p.blocks[idx]
	clear(b.Data)
	return b
}

// Release returns a block to the pool. Releasing nil, a foreign block or an
// already released block is ignored.
func (p *Fixed) Release(b *Block) {
	if b == nil || b.owner != p {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.inUse[b.index] {
		return
	}
	p.inUse[b.index] = false
	p.free = append(p.free, b.index)
	p.stats.Releases++
	p.stats.InUse--
}

// Stats returns a snapshot of pool usage.
func (p *Fixed) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Free returns the number of available blocks.
func (p *Fixed) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

var _ Allocator = (*Fixed)(nil)
