//go:build linux
// +build linux

// File: reactor/task_linux.go
// Author: momentics <momentics@gmail.com>
//
// Receive tasks: one receive per readiness event into a pooled buffer, then
// hand-off to a protocol callback.

package reactor

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/momentics/rxmux/api"
	"github.com/momentics/rxmux/control"
	"github.com/momentics/rxmux/internal/logging"
	"github.com/momentics/rxmux/pool"
	"github.com/momentics/rxmux/transport"
)

// taskBase holds what every receive task shares. Tasks run on the reactor
// thread only.
type taskBase struct {
	log     *logrus.Entry
	pool    *pool.BufferPool
	metrics *control.Metrics
	// set while the pool is exhausted, so the outage is logged once
	starved bool
}

func newTaskBase(log *logrus.Entry, p *pool.BufferPool, m *control.Metrics) taskBase {
	if log == nil {
		log = logging.Discard()
	}
	if p == nil {
		p = pool.DefaultPool()
	}
	return taskBase{log: log, pool: p, metrics: m}
}

// getBuffer draws a PDU buffer. nil means the pool is exhausted and the
// cycle is skipped without touching the socket.
func (t *taskBase) getBuffer(fd int) *pool.ByteBuffer {
	pdu := t.pool.Get()
	if pdu == nil {
		t.metrics.IncBufferExhausted()
		if !t.starved {
			t.starved = true
			t.log.WithField("fd", fd).Error("Unable to allocate byte buffer")
		} else {
			t.log.WithField("fd", fd).Debug("Unable to allocate byte buffer")
		}
		return nil
	}
	if t.starved {
		t.starved = false
		t.log.WithField("fd", fd).Info("Byte buffers available again")
	}
	return pdu
}

// checkTrunc reports a message that was longer than the buffer.
func (t *taskBase) checkTrunc(fd, n, flags int) {
	if flags&transport.MsgTrunc == 0 {
		return
	}
	t.metrics.IncTruncated()
	t.log.WithFields(logrus.Fields{"fd": fd, "len": n}).Warn("Message truncated to buffer size")
}

func isWouldBlock(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK
}

// DatagramTask reads one datagram per invocation with recvfrom.
type DatagramTask struct {
	taskBase
	fn DatagramHandler
}

// NewDatagramTask builds a task delivering datagrams to fn. log, p and m
// may be nil.
func NewDatagramTask(log *logrus.Entry, p *pool.BufferPool, m *control.Metrics, fn DatagramHandler) *DatagramTask {
	return &DatagramTask{taskBase: newTaskBase(log, p, m), fn: fn}
}

// Invoke never reports the socket as closed.
func (t *DatagramTask) Invoke(fd int) bool {
	pdu := t.getBuffer(fd)
	if pdu == nil {
		return true
	}
	n, from, flags, err := transport.RecvFrom(fd, pdu.Tailroom())
	if err != nil {
		pdu.Release()
		if isWouldBlock(err) {
			t.log.WithField("fd", fd).Debug("Socket timeout reached")
			return true
		}
		t.metrics.IncRecvErrors()
		t.log.WithError(err).WithField("fd", fd).Error("Error reading from socket")
		return true
	}
	t.checkTrunc(fd, n, flags)
	pdu.SetLen(n)
	t.fn(pdu, from)
	return true
}

// SCTPTask reads one SCTP message or notification per invocation.
// Notifications, including SHUTDOWN, are delivered to the callback and do
// not end the registration.
type SCTPTask struct {
	taskBase
	fn SCTPHandler
}

// NewSCTPTask builds a task delivering SCTP messages to fn. log, p and m may
// be nil.
func NewSCTPTask(log *logrus.Entry, p *pool.BufferPool, m *control.Metrics, fn SCTPHandler) *SCTPTask {
	return &SCTPTask{taskBase: newTaskBase(log, p, m), fn: fn}
}

// Invoke never reports the socket as closed.
func (t *SCTPTask) Invoke(fd int) bool {
	pdu := t.getBuffer(fd)
	if pdu == nil {
		return true
	}
	n, from, info, flags, err := transport.RecvSCTPMsg(fd, pdu.Tailroom())
	if err != nil {
		pdu.Release()
		if isWouldBlock(err) {
			t.log.WithField("fd", fd).Debug("Socket timeout reached")
			return true
		}
		t.metrics.IncRecvErrors()
		t.log.WithError(err).WithField("fd", fd).Error("Error reading from SCTP socket")
		return true
	}
	t.checkTrunc(fd, n, flags)
	pdu.SetLen(n)
	t.fn(pdu, from, info, flags)
	return true
}

// StreamTask reads whatever is queued on a connected TCP socket. It reports
// the socket as closed on an orderly shutdown by the peer.
type StreamTask struct {
	taskBase
	fn StreamHandler
}

// NewStreamTask builds a task delivering stream reads to fn. log, p and m
// may be nil.
func NewStreamTask(log *logrus.Entry, p *pool.BufferPool, m *control.Metrics, fn StreamHandler) *StreamTask {
	return &StreamTask{taskBase: newTaskBase(log, p, m), fn: fn}
}

func (t *StreamTask) Invoke(fd int) bool {
	pdu := t.getBuffer(fd)
	if pdu == nil {
		return true
	}
	n, err := transport.TCPRead(t.log, fd, pdu.Tailroom())
	if err != nil {
		pdu.Release()
		if !isWouldBlock(err) {
			t.metrics.IncRecvErrors()
		}
		return true
	}
	if n == 0 {
		pdu.Release()
		return false
	}
	pdu.SetLen(n)
	t.fn(pdu)
	return true
}

var (
	_ api.ReceiveTask = (*DatagramTask)(nil)
	_ api.ReceiveTask = (*SCTPTask)(nil)
	_ api.ReceiveTask = (*StreamTask)(nil)
)
