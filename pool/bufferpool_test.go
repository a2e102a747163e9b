package pool_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/rxmux/pool"
)

func TestBufferPoolReuse(t *testing.T) {
	bp := pool.NewBufferPool(128, 0)
	b1 := bp.Get()
	require.NotNil(t, b1)
	b1.SetLen(10)
	b1.Release()

	b2 := bp.Get()
	require.NotNil(t, b2)
	assert.Same(t, b1, b2, "released buffer should be handed out again")
	assert.Equal(t, 0, b2.N, "reused buffer must come back empty")
	assert.Equal(t, 128, b2.Cap())

	st := bp.Stats()
	assert.EqualValues(t, 1, st.TotalAlloc)
	assert.EqualValues(t, 1, st.TotalReuse)
	assert.EqualValues(t, 1, st.InUse)
}

func TestBufferPoolExhaustion(t *testing.T) {
	bp := pool.NewBufferPool(64, 2)
	a := bp.Get()
	b := bp.Get()
	require.NotNil(t, a)
	require.NotNil(t, b)

	assert.Nil(t, bp.Get(), "third Get must fail on a pool of capacity 2")
	assert.EqualValues(t, 1, bp.Stats().Exhausted)

	a.Release()
	c := bp.Get()
	assert.NotNil(t, c, "capacity is freed by Release")
}

func TestBufferPoolDoubleReleaseIgnored(t *testing.T) {
	bp := pool.NewBufferPool(64, 1)
	a := bp.Get()
	a.Release()
	a.Release()
	assert.EqualValues(t, 0, bp.Stats().InUse)

	first := bp.Get()
	require.NotNil(t, first)
	assert.Nil(t, bp.Get())
}

func TestBufferPoolForeignBufferIgnored(t *testing.T) {
	p1 := pool.NewBufferPool(64, 0)
	p2 := pool.NewBufferPool(64, 0)
	b := p1.Get()
	p2.Put(b)
	assert.EqualValues(t, 0, p2.Stats().TotalFree)
	assert.EqualValues(t, 1, p1.Stats().InUse)
}

func TestByteBufferSetLenClamps(t *testing.T) {
	bp := pool.NewBufferPool(16, 0)
	b := bp.Get()
	b.SetLen(100)
	assert.Equal(t, 16, b.N)
	assert.Len(t, b.Tailroom(), 0)
	b.SetLen(-3)
	assert.Equal(t, 0, b.N)
	assert.Len(t, b.Tailroom(), 16)
}

func TestBufferPoolConcurrent(t *testing.T) {
	bp := pool.NewBufferPool(32, 8)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				if b := bp.Get(); b != nil {
					b.Release()
				}
			}
		}()
	}
	wg.Wait()
	st := bp.Stats()
	assert.EqualValues(t, 0, st.InUse)
	assert.LessOrEqual(t, st.TotalAlloc, int64(8))
}

func TestDefaultPoolSingleton(t *testing.T) {
	assert.Same(t, pool.DefaultPool(), pool.DefaultPool())
	assert.Equal(t, pool.DefaultBufferSize, pool.DefaultPool().BufferSize())
}
