// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral handler state, options and PDU callback types.

package reactor

import (
	"net/netip"

	"github.com/sirupsen/logrus"

	"github.com/momentics/rxmux/affinity"
	"github.com/momentics/rxmux/api"
	"github.com/momentics/rxmux/control"
	"github.com/momentics/rxmux/pool"
	"github.com/momentics/rxmux/transport"
)

// State of the handler's background thread.
type State int32

const (
	StateStopped State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// DatagramHandler receives one UDP datagram. It owns pdu.
type DatagramHandler func(pdu *pool.ByteBuffer, from netip.AddrPort)

// SCTPHandler receives one SCTP message or notification. Notifications have
// transport.MsgNotification set in flags.
type SCTPHandler func(pdu *pool.ByteBuffer, from netip.AddrPort, info transport.SndRcvInfo, flags int)

// StreamHandler receives the bytes of one read on a TCP connection.
type StreamHandler func(pdu *pool.ByteBuffer)

type options struct {
	log      *logrus.Entry
	priority int
	cpu      int
	pool     *pool.BufferPool
	metrics  *control.Metrics
}

// Option configures a Handler.
type Option func(*options)

// WithLogger sets the entry the handler and its tasks log to.
func WithLogger(log *logrus.Entry) Option {
	return func(o *options) { o.log = log }
}

// WithPriority runs the background thread at a real-time priority; see
// affinity.SetPriority. The default is affinity.NoPriority.
func WithPriority(prio int) Option {
	return func(o *options) { o.priority = prio }
}

// WithCPU pins the background thread to cpu.
func WithCPU(cpu int) Option {
	return func(o *options) { o.cpu = cpu }
}

// WithPool sets the buffer pool receive tasks draw PDUs from. Defaults to
// pool.DefaultPool().
func WithPool(p *pool.BufferPool) Option {
	return func(o *options) { o.pool = p }
}

// WithMetrics enables counting into m.
func WithMetrics(m *control.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func buildOptions(opts []Option) options {
	o := options{
		priority: affinity.NoPriority,
		cpu:      -1,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.pool == nil {
		o.pool = pool.DefaultPool()
	}
	return o
}

var _ api.Registrar = (*Handler)(nil)
