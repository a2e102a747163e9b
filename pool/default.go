package pool

import "sync"

var (
	defaultOnce sync.Once
	defaultPool *BufferPool
)

// DefaultPool returns a process-wide unbounded pool of DefaultBufferSize
// buffers, used by components that were not given a pool explicitly.
func DefaultPool() *BufferPool {
	defaultOnce.Do(func() {
		defaultPool = NewBufferPool(DefaultBufferSize, 0)
	})
	return defaultPool
}
