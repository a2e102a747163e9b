// Package api
// Author: momentics
//
// PDU buffer pooling contracts shared by the pool and reactor packages.

package api

// BufferPoolStats aggregates buffer allocation/reuse stats.
type BufferPoolStats struct {
	TotalAlloc int64 // buffers created from scratch
	TotalReuse int64 // buffers handed out from the free list
	TotalFree  int64 // buffers returned to the pool
	InUse      int64
	Exhausted  int64 // Get calls refused because capacity was reached
}

// StatsProvider is implemented by pools that can report usage.
type StatsProvider interface {
	Stats() BufferPoolStats
}
