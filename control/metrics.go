// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics for one receive handler. Counters live on a private
// VictoriaMetrics set so several handlers can coexist in one process;
// per-descriptor dispatch counts are kept in a lock-free map.

package control

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/momentics/rxmux/api"
)

// Metrics is safe for concurrent use. A nil *Metrics ignores every update.
type Metrics struct {
	name string
	set  *metrics.Set

	registrations   *metrics.Counter
	removals        *metrics.Counter
	peerClosed      *metrics.Counter
	dispatches      *metrics.Counter
	controlErrors   *metrics.Counter
	unknownCommands *metrics.Counter
	bufferExhausted *metrics.Counter
	recvErrors      *metrics.Counter
	truncated       *metrics.Counter

	perFD *xsync.MapOf[int, *atomic.Uint64]
}

// NewMetrics creates the metric set of the handler called name.
func NewMetrics(name string) *Metrics {
	s := metrics.NewSet()
	counter := func(metric string) *metrics.Counter {
		return s.NewCounter(fmt.Sprintf(`rxmux_%s_total{handler=%q}`, metric, name))
	}
	return &Metrics{
		name:            name,
		set:             s,
		registrations:   counter("registrations"),
		removals:        counter("removals"),
		peerClosed:      counter("peer_closed"),
		dispatches:      counter("dispatches"),
		controlErrors:   counter("control_errors"),
		unknownCommands: counter("unknown_commands"),
		bufferExhausted: counter("buffer_exhausted"),
		recvErrors:      counter("recv_errors"),
		truncated:       counter("truncated"),
		perFD:           xsync.NewMapOf[int, *atomic.Uint64](),
	}
}

// Name returns the handler name the metrics are labelled with.
func (m *Metrics) Name() string { return m.name }

func (m *Metrics) IncRegistrations() {
	if m != nil {
		m.registrations.Inc()
	}
}

// IncRemovals counts a registration leaving the active set and forgets its
// per-descriptor counter.
func (m *Metrics) IncRemovals(fd int) {
	if m == nil {
		return
	}
	m.removals.Inc()
	m.perFD.Delete(fd)
}

func (m *Metrics) IncPeerClosed() {
	if m != nil {
		m.peerClosed.Inc()
	}
}

// IncDispatch counts one task invocation for fd.
func (m *Metrics) IncDispatch(fd int) {
	if m == nil {
		return
	}
	m.dispatches.Inc()
	c, _ := m.perFD.LoadOrCompute(fd, func() *atomic.Uint64 { return new(atomic.Uint64) })
	c.Add(1)
}

func (m *Metrics) IncControlErrors() {
	if m != nil {
		m.controlErrors.Inc()
	}
}

func (m *Metrics) IncUnknownCommands() {
	if m != nil {
		m.unknownCommands.Inc()
	}
}

func (m *Metrics) IncBufferExhausted() {
	if m != nil {
		m.bufferExhausted.Inc()
	}
}

func (m *Metrics) IncRecvErrors() {
	if m != nil {
		m.recvErrors.Inc()
	}
}

// IncTruncated counts messages cut short because they did not fit the
// receive buffer.
func (m *Metrics) IncTruncated() {
	if m != nil {
		m.truncated.Inc()
	}
}

// DispatchCount returns how many times the task of fd has been invoked since
// it was registered.
func (m *Metrics) DispatchCount(fd int) uint64 {
	if m == nil {
		return 0
	}
	if c, ok := m.perFD.Load(fd); ok {
		return c.Load()
	}
	return 0
}

// TrackPool exports the usage of a buffer pool as gauges.
func (m *Metrics) TrackPool(p api.StatsProvider) {
	gauge := func(metric string, f func(api.BufferPoolStats) int64) {
		m.set.GetOrCreateGauge(fmt.Sprintf(`rxmux_pool_%s{handler=%q}`, metric, m.name), func() float64 {
			return float64(f(p.Stats()))
		})
	}
	gauge("in_use", func(s api.BufferPoolStats) int64 { return s.InUse })
	gauge("allocated", func(s api.BufferPoolStats) int64 { return s.TotalAlloc })
	gauge("reused", func(s api.BufferPoolStats) int64 { return s.TotalReuse })
	gauge("exhausted", func(s api.BufferPoolStats) int64 { return s.Exhausted })
}

// TrackActive exports the number of active registrations reported by f.
func (m *Metrics) TrackActive(f func() int) {
	m.set.GetOrCreateGauge(fmt.Sprintf(`rxmux_active_sockets{handler=%q}`, m.name), func() float64 {
		return float64(f())
	})
}

// GetSnapshot returns the current counter values keyed by short name.
func (m *Metrics) GetSnapshot() map[string]uint64 {
	return map[string]uint64{
		"registrations":    m.registrations.Get(),
		"removals":         m.removals.Get(),
		"peer_closed":      m.peerClosed.Get(),
		"dispatches":       m.dispatches.Get(),
		"control_errors":   m.controlErrors.Get(),
		"unknown_commands": m.unknownCommands.Get(),
		"buffer_exhausted": m.bufferExhausted.Get(),
		"recv_errors":      m.recvErrors.Get(),
		"truncated":        m.truncated.Get(),
	}
}

// WritePrometheus writes every metric of the set in text exposition format.
func (m *Metrics) WritePrometheus(w io.Writer) {
	m.set.WritePrometheus(w)
}
