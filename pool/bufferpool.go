// File: pool/bufferpool.go
// Author: momentics <momentics@gmail.com>
//
// Bounded PDU buffer pool. Get never blocks: once the configured number of
// buffers is outstanding it returns nil and the caller skips the cycle.

package pool

import (
	"sync"

	"github.com/eapache/queue"

	"github.com/momentics/rxmux/api"
)

// DefaultBufferSize fits the largest datagram we expect on a transport link
// (jumbo frames).
const DefaultBufferSize = 9000

// BufferPool recycles fixed-size ByteBuffers through a FIFO free list.
type BufferPool struct {
	mu       sync.Mutex
	free     *queue.Queue // *ByteBuffer
	size     int
	capacity int // max outstanding buffers, 0 means unbounded
	inUse    int

	totalAlloc int64
	totalReuse int64
	totalFree  int64
	exhausted  int64
}

// NewBufferPool creates a pool of size-byte buffers with at most capacity
// buffers outstanding at a time. capacity <= 0 disables the limit.
func NewBufferPool(size, capacity int) *BufferPool {
	if size <= 0 {
		size = DefaultBufferSize
	}
	if capacity < 0 {
		capacity = 0
	}
	return &BufferPool{
		free:     queue.New(),
		size:     size,
		capacity: capacity,
	}
}

// Get returns an empty buffer, or nil when the pool is exhausted.
func (p *BufferPool) Get() *ByteBuffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.capacity > 0 && p.inUse >= p.capacity {
		p.exhausted++
		return nil
	}
	p.inUse++
	if p.free.Length() > 0 {
		b := p.free.Remove().(*ByteBuffer)
		b.N = 0
		p.totalReuse++
		return b
	}
	p.totalAlloc++
	return &ByteBuffer{msg: make([]byte, p.size), pool: p}
}

// Put returns b to the free list. Buffers from other pools are ignored.
func (p *BufferPool) Put(b *ByteBuffer) {
	if b == nil || b.pool != p {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inUse == 0 {
		// double release
		return
	}
	p.inUse--
	p.totalFree++
	b.N = 0
	p.free.Add(b)
}

// BufferSize returns the capacity of every buffer handed out by the pool.
func (p *BufferPool) BufferSize() int {
	return p.size
}

// Stats implements api.StatsProvider.
func (p *BufferPool) Stats() api.BufferPoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return api.BufferPoolStats{
		TotalAlloc: p.totalAlloc,
		TotalReuse: p.totalReuse,
		TotalFree:  p.totalFree,
		InUse:      int64(p.inUse),
		Exhausted:  p.exhausted,
	}
}

var _ api.StatsProvider = (*BufferPool)(nil)
