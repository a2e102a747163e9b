//go:build linux
// +build linux

// File: reactor/handler_linux.go
// Author: momentics <momentics@gmail.com>
//
// Multiplexed receive handler: one locked OS thread waits on every active
// descriptor plus the control pipe and dispatches readable sockets to their
// tasks.

package reactor

import (
	"errors"
	"io"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/momentics/rxmux/affinity"
	"github.com/momentics/rxmux/api"
	"github.com/momentics/rxmux/control"
	"github.com/momentics/rxmux/internal/logging"
	"github.com/momentics/rxmux/pool"
)

// entry is one registration. Entries are compared by pointer so a
// descriptor that was removed and registered again is never confused with
// its previous registration.
type entry struct {
	task api.ReceiveTask
}

type readyTask struct {
	fd int
	e  *entry
}

// Handler services a dynamic set of receive sockets from one background
// thread. Register, Unregister and Len may be called from any goroutine,
// including from inside a task. Close waits for the thread and must not be
// called from a task.
type Handler struct {
	name    string
	log     *logrus.Entry
	pool    *pool.BufferPool
	metrics *control.Metrics
	opts    options

	mu     sync.Mutex
	active map[int]*entry // guarded by mu
	closed bool           // guarded by mu
	pipeW  int            // guarded by mu

	pipeR int
	ep    *epollSet
	state atomic.Int32
	done  chan struct{}

	closeOnce sync.Once
	closeErr  error

	// reactor thread only
	ready []int
	batch []readyTask
}

// New creates the control pipe and the readiness set, starts the background
// thread and returns once it is running.
func New(name string, opts ...Option) (*Handler, error) {
	o := buildOptions(opts)
	if o.log == nil {
		o.log = logging.New(name)
	}

	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_CLOEXEC); err != nil {
		o.log.WithError(err).Error("Failed to open control pipe")
		return nil, api.NewError(api.ErrCodeControlChannel, "create control pipe", err)
	}
	// a full pipe must fail the writer instead of blocking it under the lock
	if err := unix.SetNonblock(p[1], true); err != nil {
		_ = unix.Close(p[0])
		_ = unix.Close(p[1])
		return nil, api.NewError(api.ErrCodeControlChannel, "create control pipe", err)
	}

	ep, err := newEpollSet()
	if err == nil {
		err = ep.add(p[0])
		if err != nil {
			_ = ep.close()
		}
	}
	if err != nil {
		_ = unix.Close(p[0])
		_ = unix.Close(p[1])
		o.log.WithError(err).Error("Failed to create readiness set")
		return nil, api.NewError(api.ErrCodeControlChannel, "create readiness set", err)
	}

	h := &Handler{
		name:    name,
		log:     o.log,
		pool:    o.pool,
		metrics: o.metrics,
		opts:    o,
		active:  make(map[int]*entry),
		pipeR:   p[0],
		pipeW:   p[1],
		ep:      ep,
		done:    make(chan struct{}),
		ready:   make([]int, 0, maxEvents),
		batch:   make([]readyTask, 0, maxEvents),
	}
	if h.metrics != nil {
		h.metrics.TrackActive(h.Len)
		h.metrics.TrackPool(h.pool)
	}

	started := make(chan struct{})
	go h.run(started)
	<-started
	return h, nil
}

// Name returns the name given to New.
func (h *Handler) Name() string { return h.name }

// State reports the lifecycle state of the background thread.
func (h *Handler) State() State { return State(h.state.Load()) }

// Pool returns the buffer pool tasks created by this handler draw from.
func (h *Handler) Pool() *pool.BufferPool { return h.pool }

// Len returns the number of active registrations.
func (h *Handler) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.active)
}

// Has reports whether fd is currently registered.
func (h *Handler) Has(fd int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.active[fd]
	return ok
}

// Register attaches an open descriptor and the task that decodes it. The
// descriptor stays owned by the caller and must outlive the registration.
func (h *Handler) Register(fd int, task api.ReceiveTask) error {
	if fd < 0 {
		h.log.WithField("fd", fd).Error("Provided socket must be already open")
		return api.NewError(api.ErrCodeInvalidFD, "register", nil).WithContext("fd", fd)
	}
	if task == nil {
		return api.NewError(api.ErrCodeInvalidFD, "register", errors.New("nil task")).WithContext("fd", fd)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || h.State() != StateRunning {
		return api.NewError(api.ErrCodeClosed, "register", nil).WithContext("fd", fd)
	}
	if _, ok := h.active[fd]; ok {
		h.log.WithField("fd", fd).Error("Tried to register fd, but this fd already exists")
		return api.NewError(api.ErrCodeDuplicateFD, "register", nil).WithContext("fd", fd)
	}

	h.active[fd] = &entry{task: task}
	if err := h.writeControlLocked(ctrlMsg{cmd: cmdAddFD, fd: int32(fd)}); err != nil {
		delete(h.active, fd)
		return err
	}
	h.metrics.IncRegistrations()
	h.log.WithField("fd", fd).Debug("Socket has been registered")
	return nil
}

// Unregister removes fd from the active set. The task is not invoked
// again once Unregister returns, except for an invocation already in
// progress. Dropping fd from the readiness set completes on the background
// thread; the descriptor is not closed.
func (h *Handler) Unregister(fd int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return api.NewError(api.ErrCodeClosed, "unregister", nil).WithContext("fd", fd)
	}
	e, ok := h.active[fd]
	if !ok {
		h.log.WithField("fd", fd).Error("The socket to be removed does not exist")
		return api.NewError(api.ErrCodeNotFound, "unregister", nil).WithContext("fd", fd)
	}
	delete(h.active, fd)
	if err := h.writeControlLocked(ctrlMsg{cmd: cmdRemoveFD, fd: int32(fd)}); err != nil {
		h.active[fd] = e
		return err
	}
	h.metrics.IncRemovals(fd)
	h.log.WithField("fd", fd).Debug("Socket has been unregistered")
	return nil
}

// RegisterDatagram registers fd with a DatagramTask calling fn.
func (h *Handler) RegisterDatagram(fd int, fn DatagramHandler) error {
	return h.Register(fd, NewDatagramTask(h.log, h.pool, h.metrics, fn))
}

// RegisterSCTP registers fd with an SCTPTask calling fn.
func (h *Handler) RegisterSCTP(fd int, fn SCTPHandler) error {
	return h.Register(fd, NewSCTPTask(h.log, h.pool, h.metrics, fn))
}

// RegisterStream registers a connected TCP descriptor with a StreamTask
// calling fn. The registration ends when the peer closes the connection.
func (h *Handler) RegisterStream(fd int, fn StreamHandler) error {
	return h.Register(fd, NewStreamTask(h.log, h.pool, h.metrics, fn))
}

// Close stops the background thread and releases the control pipe and the
// readiness set. Registered descriptors are left open. Close is idempotent;
// later calls return the result of the first.
func (h *Handler) Close() error {
	h.closeOnce.Do(func() {
		h.closeErr = h.shutdown()
	})
	return h.closeErr
}

func (h *Handler) shutdown() error {
	h.mu.Lock()
	h.closed = true
	h.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
	err := h.writeControlLocked(ctrlMsg{cmd: cmdExit, fd: -1})
	if err != nil && h.pipeW >= 0 {
		// the reader sees EOF once every write end is gone
		_ = unix.Close(h.pipeW)
		h.pipeW = -1
	}
	h.mu.Unlock()

	h.log.Debug("Closing rx socket handler thread")
	<-h.done

	h.mu.Lock()
	if h.pipeW >= 0 {
		_ = unix.Close(h.pipeW)
		h.pipeW = -1
	}
	released := len(h.active)
	clear(h.active)
	h.mu.Unlock()

	_ = unix.Close(h.pipeR)
	_ = h.ep.close()
	h.state.Store(int32(StateStopped))
	h.log.WithField("released", released).Debug("Rx socket handler closed")
	return err
}

// writeControlLocked sends one control record. Caller holds h.mu.
func (h *Handler) writeControlLocked(msg ctrlMsg) error {
	if h.pipeW < 0 {
		return api.NewError(api.ErrCodeControlChannel, "write control message", unix.EBADF)
	}
	b := msg.marshal()
	var err error
	for attempt := 0; attempt < ctrlWriteAttempts; attempt++ {
		var n int
		n, err = unix.Write(h.pipeW, b[:])
		if err == nil {
			if n == len(b) {
				return nil
			}
			err = io.ErrShortWrite
			break
		}
		if err != unix.EINTR && err != unix.EAGAIN {
			break
		}
	}
	h.metrics.IncControlErrors()
	h.log.WithError(err).WithField("cmd", msg.cmd.String()).Error("Error while writing to control pipe")
	return api.NewError(api.ErrCodeControlChannel, "write control message", err).
		WithContext("cmd", msg.cmd.String())
}

func (h *Handler) run(started chan<- struct{}) {
	runtime.LockOSThread()
	tuned := h.tuneThread()
	if !tuned {
		defer runtime.UnlockOSThread()
	}
	// A tuned thread stays locked so it is destroyed with the goroutine.

	defer func() {
		h.state.Store(int32(StateStopped))
		close(h.done)
	}()
	h.state.Store(int32(StateRunning))
	close(started)

	for {
		events, err := h.ep.wait()
		if err != nil {
			h.log.WithError(err).WithField("sockets", h.Len()+1).Error("Error waiting for readable sockets")
			return
		}

		h.ready = h.ready[:0]
		ctrl := false
		for i := range events {
			fd := int(events[i].Fd)
			if fd == h.pipeR {
				ctrl = true
				continue
			}
			h.ready = append(h.ready, fd)
		}
		slices.Sort(h.ready)
		h.dispatch(h.ready)

		if ctrl && !h.handleControl() {
			return
		}
	}
}

// tuneThread applies priority and CPU pinning to the locked thread and
// reports whether anything was changed.
func (h *Handler) tuneThread() bool {
	tuned := false
	if h.opts.priority != affinity.NoPriority {
		if err := affinity.SetPriority(h.opts.priority); err != nil {
			h.log.WithError(err).WithField("priority", h.opts.priority).Warn("Failed to set thread priority")
		} else {
			tuned = true
		}
	}
	if h.opts.cpu >= 0 {
		if err := affinity.SetAffinity(h.opts.cpu); err != nil {
			h.log.WithError(err).WithField("cpu", h.opts.cpu).Warn("Failed to pin thread")
		} else {
			tuned = true
		}
	}
	return tuned
}

// dispatch invokes the task of every ready descriptor in ascending order.
// Tasks run without the lock held so they may call back into the handler.
func (h *Handler) dispatch(ready []int) {
	if len(ready) == 0 {
		return
	}
	h.batch = h.batch[:0]
	h.mu.Lock()
	for _, fd := range ready {
		if e, ok := h.active[fd]; ok {
			h.batch = append(h.batch, readyTask{fd: fd, e: e})
			continue
		}
		// stale readiness for a descriptor with no registration
		if err := h.ep.del(fd); err != nil {
			h.log.WithError(err).WithField("fd", fd).Warn("Failed to drop stale descriptor")
		}
	}
	h.mu.Unlock()

	for _, rt := range h.batch {
		h.metrics.IncDispatch(rt.fd)
		if h.invoke(rt) {
			continue
		}
		h.log.WithField("fd", rt.fd).Info("The socket has been closed by peer")
		h.metrics.IncPeerClosed()
		h.mu.Lock()
		if cur, ok := h.active[rt.fd]; ok && cur == rt.e {
			h.removeLocked(rt.fd)
		}
		h.mu.Unlock()
	}
	clear(h.batch)
}

// invoke runs one task. A panicking task keeps its registration so the
// reactor thread survives a faulty decoder.
func (h *Handler) invoke(rt readyTask) (stillValid bool) {
	defer func() {
		if r := recover(); r != nil {
			h.log.WithField("fd", rt.fd).WithField("panic", r).Error("Receive task panicked")
			stillValid = true
		}
	}()
	return rt.e.task.Invoke(rt.fd)
}

// removeLocked drops fd from the active set and the readiness universe.
// Caller holds h.mu.
func (h *Handler) removeLocked(fd int) {
	delete(h.active, fd)
	if err := h.ep.del(fd); err != nil {
		h.log.WithError(err).WithField("fd", fd).Warn("Failed to remove descriptor from readiness set")
	}
	h.metrics.IncRemovals(fd)
	h.log.WithField("fd", fd).Debug("Socket has been successfully removed")
}

// handleControl reads and applies exactly one control record. It returns
// false when the loop must stop.
func (h *Handler) handleControl() bool {
	var b [ctrlMsgSize]byte
	n, err := unix.Read(h.pipeR, b[:])
	switch {
	case err == unix.EINTR || err == unix.EAGAIN:
		return true
	case err != nil:
		h.metrics.IncControlErrors()
		h.log.WithError(err).Error("Unable to read control message")
		return true
	case n == 0:
		h.log.Debug("Control channel closed")
		return false
	}

	msg, err := unmarshalCtrlMsg(b[:n])
	if err != nil {
		h.metrics.IncControlErrors()
		h.log.WithError(err).Error("Unable to read control message")
		return true
	}

	fd := int(msg.fd)
	switch msg.cmd {
	case cmdExit:
		return false
	case cmdAddFD:
		if fd < 0 {
			h.log.WithField("fd", fd).Error("Added fd is not valid")
			return true
		}
		h.mu.Lock()
		if _, ok := h.active[fd]; ok {
			if err := h.ep.add(fd); err != nil {
				h.metrics.IncControlErrors()
				h.log.WithError(err).WithField("fd", fd).Error("Failed to watch descriptor, dropping it")
				h.removeLocked(fd)
			}
		}
		h.mu.Unlock()
	case cmdRemoveFD:
		if fd < 0 {
			h.log.WithField("fd", fd).Error("fd to be removed is not valid")
			return true
		}
		h.mu.Lock()
		if _, ok := h.active[fd]; ok {
			// registered again after Unregister; its ADD_FD follows in the pipe
			h.log.WithField("fd", fd).Debug("Socket registered again, keeping it")
		} else if err := h.ep.del(fd); err != nil {
			h.log.WithError(err).WithField("fd", fd).Warn("Failed to remove descriptor from readiness set")
		}
		h.mu.Unlock()
	default:
		h.metrics.IncUnknownCommands()
		h.log.WithField("cmd", msg.cmd.String()).Error("Control message command is not valid")
	}
	return true
}
