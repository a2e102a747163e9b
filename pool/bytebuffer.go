// File: pool/bytebuffer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Fixed-capacity PDU buffer handed from receive tasks to protocol handlers.

package pool

// ByteBuffer holds one received protocol data unit. The backing array has a
// fixed capacity; N is the number of valid bytes.
type ByteBuffer struct {
	msg  []byte
	N    int
	pool *BufferPool
}

// Bytes returns the valid portion of the buffer.
func (b *ByteBuffer) Bytes() []byte {
	return b.msg[:b.N]
}

// Tailroom returns the writable backing slice past the valid bytes.
func (b *ByteBuffer) Tailroom() []byte {
	return b.msg[b.N:]
}

// Cap returns the total capacity of the buffer.
func (b *ByteBuffer) Cap() int {
	return len(b.msg)
}

// SetLen marks the first n bytes as valid. n is clamped to the capacity.
func (b *ByteBuffer) SetLen(n int) {
	switch {
	case n < 0:
		n = 0
	case n > len(b.msg):
		n = len(b.msg)
	}
	b.N = n
}

// Clear drops the contents without releasing the buffer.
func (b *ByteBuffer) Clear() {
	b.N = 0
}

// Release returns the buffer to its pool. The buffer must not be used
// afterwards. Releasing a nil buffer is a no-op.
func (b *ByteBuffer) Release() {
	if b == nil || b.pool == nil {
		return
	}
	b.pool.Put(b)
}
