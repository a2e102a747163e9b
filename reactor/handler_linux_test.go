//go:build linux

package reactor

import (
	"errors"
	"net/netip"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/momentics/rxmux/api"
	"github.com/momentics/rxmux/control"
	"github.com/momentics/rxmux/internal/logging"
	"github.com/momentics/rxmux/pool"
	"github.com/momentics/rxmux/transport"
)

const waitFor = 3 * time.Second

type delivery struct {
	fd   int
	data []byte
	from netip.AddrPort
}

func newTestHandler(t *testing.T, opts ...Option) (*Handler, *control.Metrics) {
	t.Helper()
	m := control.NewMetrics(t.Name())
	opts = append([]Option{
		WithLogger(logging.Discard()),
		WithPool(pool.NewBufferPool(2048, 0)),
		WithMetrics(m),
	}, opts...)
	h, err := New(t.Name(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	require.Equal(t, StateRunning, h.State())
	return h, m
}

// udpReceiver returns a socket bound to an ephemeral loopback port.
func udpReceiver(t *testing.T) *transport.Socket {
	t.Helper()
	s := transport.NewSocket(nil)
	require.NoError(t, s.Open(transport.FamilyIPv4, transport.KindDatagram, transport.ProtoUDP))
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Bind("127.0.0.1", 0))
	return s
}

// udpSender returns a socket connected to dst.
func udpSender(t *testing.T, dst *transport.Socket) *transport.Socket {
	t.Helper()
	s := transport.NewSocket(nil)
	require.NoError(t, s.Open(transport.FamilyIPv4, transport.KindDatagram, transport.ProtoUDP))
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Bind("127.0.0.1", 0))
	require.NoError(t, s.Connect("127.0.0.1", transport.PortOf(dst.Addr())))
	return s
}

func send(t *testing.T, s *transport.Socket, payload []byte) {
	t.Helper()
	n, err := unix.Write(s.FD(), payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
}

func collect(ch chan<- delivery, fd int) DatagramHandler {
	return func(pdu *pool.ByteBuffer, from netip.AddrPort) {
		ch <- delivery{fd: fd, data: append([]byte(nil), pdu.Bytes()...), from: from}
		pdu.Release()
	}
}

func recvDelivery(t *testing.T, ch <-chan delivery) delivery {
	t.Helper()
	select {
	case d := <-ch:
		return d
	case <-time.After(waitFor):
		t.Fatal("no PDU delivered")
		return delivery{}
	}
}

func fdIsOpen(fd int) bool {
	_, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0)
	return err == nil
}

func TestRegisterRejectsInvalidFD(t *testing.T) {
	h, _ := newTestHandler(t)
	err := h.Register(-1, api.TaskFunc(func(int) bool { return true }))
	assert.ErrorIs(t, err, api.ErrInvalidFD)
	assert.Equal(t, api.ErrCodeInvalidFD, api.CodeOf(err))
	assert.Zero(t, h.Len())
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	h, m := newTestHandler(t)
	rx := udpReceiver(t)
	noop := api.TaskFunc(func(int) bool { return true })

	require.NoError(t, h.Register(rx.FD(), noop))
	err := h.Register(rx.FD(), noop)
	assert.ErrorIs(t, err, api.ErrDuplicateFD)
	assert.Equal(t, 1, h.Len())
	assert.EqualValues(t, 1, m.GetSnapshot()["registrations"])
}

func TestUnregisterUnknownFD(t *testing.T) {
	h, _ := newTestHandler(t)
	assert.ErrorIs(t, h.Unregister(12345), api.ErrNotFound)
}

func TestUnregisterStopsServiceAndLeavesFDOpen(t *testing.T) {
	h, m := newTestHandler(t)
	rx := udpReceiver(t)
	ch := make(chan delivery, 4)
	require.NoError(t, h.RegisterDatagram(rx.FD(), collect(ch, rx.FD())))

	require.NoError(t, h.Unregister(rx.FD()))
	assert.False(t, h.Has(rx.FD()))
	assert.Zero(t, h.Len())
	assert.True(t, fdIsOpen(rx.FD()))
	assert.EqualValues(t, 1, m.GetSnapshot()["removals"])

	// removed descriptors are no longer serviced
	send(t, udpSender(t, rx), []byte("late"))
	select {
	case d := <-ch:
		t.Fatalf("unexpected delivery %q", d.data)
	case <-time.After(50 * time.Millisecond):
	}

	// and can be registered again
	require.NoError(t, h.RegisterDatagram(rx.FD(), collect(ch, rx.FD())))
	assert.Equal(t, []byte("late"), recvDelivery(t, ch).data)
}

func TestDatagramDeliversExactLength(t *testing.T) {
	h, m := newTestHandler(t)
	rx := udpReceiver(t)
	tx := udpSender(t, rx)
	ch := make(chan delivery, 1)
	require.NoError(t, h.RegisterDatagram(rx.FD(), collect(ch, rx.FD())))

	payload := make([]byte, 1400)
	for i := range payload {
		payload[i] = byte(i)
	}
	send(t, tx, payload)

	d := recvDelivery(t, ch)
	assert.Len(t, d.data, 1400)
	assert.Equal(t, payload, d.data)
	local, err := transport.LocalAddress(tx.FD())
	require.NoError(t, err)
	assert.Equal(t, local, d.from)
	assert.EqualValues(t, 1, m.DispatchCount(rx.FD()))
}

func TestTwoSocketsOneCycle(t *testing.T) {
	h, _ := newTestHandler(t)
	a, b := udpReceiver(t), udpReceiver(t)
	ch := make(chan delivery, 2)
	require.NoError(t, h.RegisterDatagram(a.FD(), collect(ch, a.FD())))
	require.NoError(t, h.RegisterDatagram(b.FD(), collect(ch, b.FD())))

	send(t, udpSender(t, a), make([]byte, 10))
	send(t, udpSender(t, b), make([]byte, 5))

	got := map[int]int{}
	for i := 0; i < 2; i++ {
		d := recvDelivery(t, ch)
		got[d.fd] = len(d.data)
	}
	assert.Equal(t, map[int]int{a.FD(): 10, b.FD(): 5}, got)
	assert.Equal(t, 2, h.Len())
}

func TestConcurrentRegistration(t *testing.T) {
	const n = 32
	h, _ := newTestHandler(t)
	socks := make([]*transport.Socket, n)
	for i := range socks {
		socks[i] = udpReceiver(t)
	}
	ch := make(chan delivery, n)

	var g errgroup.Group
	for _, s := range socks {
		fd := s.FD()
		g.Go(func() error {
			return h.RegisterDatagram(fd, collect(ch, fd))
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, n, h.Len())

	for _, s := range socks {
		send(t, udpSender(t, s), []byte{0x00, 0x78})
	}
	seen := map[int]bool{}
	for i := 0; i < n; i++ {
		d := recvDelivery(t, ch)
		assert.Equal(t, []byte{0x00, 0x78}, d.data)
		seen[d.fd] = true
	}
	assert.Len(t, seen, n, "every registered socket must be serviced")
}

func TestTaskReportingClosedIsRemoved(t *testing.T) {
	h, m := newTestHandler(t)
	rx := udpReceiver(t)
	var calls atomic.Int32
	require.NoError(t, h.Register(rx.FD(), api.TaskFunc(func(fd int) bool {
		calls.Add(1)
		buf := make([]byte, 64)
		_, _, _ = unix.Recvfrom(fd, buf, unix.MSG_DONTWAIT)
		return false
	})))

	send(t, udpSender(t, rx), []byte("bye"))
	require.Eventually(t, func() bool { return !h.Has(rx.FD()) }, waitFor, time.Millisecond)
	assert.EqualValues(t, 1, calls.Load())
	assert.True(t, fdIsOpen(rx.FD()), "the reactor never closes descriptors it does not own")
	assert.EqualValues(t, 1, m.GetSnapshot()["peer_closed"])
}

func TestUnregisterFromInsideTask(t *testing.T) {
	h, _ := newTestHandler(t)
	rx := udpReceiver(t)
	errs := make(chan error, 1)
	require.NoError(t, h.Register(rx.FD(), api.TaskFunc(func(fd int) bool {
		buf := make([]byte, 64)
		_, _, _ = unix.Recvfrom(fd, buf, unix.MSG_DONTWAIT)
		select {
		case errs <- h.Unregister(fd):
		default:
		}
		return true
	})))

	send(t, udpSender(t, rx), []byte("x"))
	select {
	case err := <-errs:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("task was not invoked")
	}
	require.Eventually(t, func() bool { return h.Len() == 0 }, waitFor, time.Millisecond)
}

func TestBufferExhaustionSkipsCycle(t *testing.T) {
	bp := pool.NewBufferPool(256, 1)
	h, m := newTestHandler(t, WithPool(bp))
	held := bp.Get()
	require.NotNil(t, held)

	rx := udpReceiver(t)
	ch := make(chan delivery, 1)
	require.NoError(t, h.RegisterDatagram(rx.FD(), collect(ch, rx.FD())))
	send(t, udpSender(t, rx), []byte("queued"))

	require.Eventually(t, func() bool {
		return m.GetSnapshot()["buffer_exhausted"] > 0
	}, waitFor, time.Millisecond)
	assert.Empty(t, ch)
	assert.True(t, h.Has(rx.FD()), "exhaustion must not drop the registration")

	held.Release()
	assert.Equal(t, []byte("queued"), recvDelivery(t, ch).data)
}

func TestUnknownControlCommandIgnored(t *testing.T) {
	h, m := newTestHandler(t)

	h.mu.Lock()
	require.NoError(t, h.writeControlLocked(ctrlMsg{cmd: command(99), fd: -1}))
	h.mu.Unlock()
	require.Eventually(t, func() bool {
		return m.GetSnapshot()["unknown_commands"] == 1
	}, waitFor, time.Millisecond)
	assert.Equal(t, StateRunning, h.State())

	rx := udpReceiver(t)
	ch := make(chan delivery, 1)
	require.NoError(t, h.RegisterDatagram(rx.FD(), collect(ch, rx.FD())))
	send(t, udpSender(t, rx), []byte("still alive"))
	assert.Equal(t, []byte("still alive"), recvDelivery(t, ch).data)
}

func TestRemoveForUnknownFDIsIdempotent(t *testing.T) {
	h, m := newTestHandler(t)
	h.mu.Lock()
	require.NoError(t, h.writeControlLocked(ctrlMsg{cmd: cmdRemoveFD, fd: 4242}))
	h.mu.Unlock()

	rx := udpReceiver(t)
	ch := make(chan delivery, 1)
	require.NoError(t, h.RegisterDatagram(rx.FD(), collect(ch, rx.FD())))
	send(t, udpSender(t, rx), []byte("ok"))
	assert.Equal(t, []byte("ok"), recvDelivery(t, ch).data)
	assert.Zero(t, m.GetSnapshot()["removals"])
}

func TestCloseTerminatesUnderLoad(t *testing.T) {
	h, _ := newTestHandler(t)
	rx := udpReceiver(t)
	tx := udpSender(t, rx)
	require.NoError(t, h.RegisterDatagram(rx.FD(), func(pdu *pool.ByteBuffer, _ netip.AddrPort) {
		pdu.Release()
	}))

	stop := make(chan struct{})
	flooding := make(chan struct{})
	go func() {
		defer close(flooding)
		msg := make([]byte, 512)
		for {
			select {
			case <-stop:
				return
			default:
				_, _ = unix.Write(tx.FD(), msg)
			}
		}
	}()
	defer func() {
		close(stop)
		<-flooding
	}()
	time.Sleep(20 * time.Millisecond)

	closed := make(chan error, 1)
	go func() { closed <- h.Close() }()
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("EXIT starved by a busy socket")
	}
	assert.Equal(t, StateStopped, h.State())
	assert.True(t, fdIsOpen(rx.FD()))
	assert.Zero(t, h.Len(), "registrations are released on close")
}

func TestCloseIsIdempotentAndRejectsLateCalls(t *testing.T) {
	h, _ := newTestHandler(t)
	rx := udpReceiver(t)
	require.NoError(t, h.Register(rx.FD(), api.TaskFunc(func(int) bool { return true })))

	require.NoError(t, h.Close())
	require.NoError(t, h.Close())
	assert.Equal(t, StateStopped, h.State())
	assert.ErrorIs(t, h.Register(rx.FD(), api.TaskFunc(func(int) bool { return true })), api.ErrClosed)
	assert.ErrorIs(t, h.Unregister(rx.FD()), api.ErrClosed)
}

func TestControlEOFStopsLoop(t *testing.T) {
	h, _ := newTestHandler(t)

	h.mu.Lock()
	require.NoError(t, unix.Close(h.pipeW))
	h.pipeW = -1
	h.mu.Unlock()

	require.Eventually(t, func() bool { return h.State() == StateStopped }, waitFor, time.Millisecond)
	err := h.Close()
	assert.ErrorIs(t, err, api.ErrControlChannel, "the failed EXIT write is still reported")
}

func TestPanickingTaskKeepsReactorAlive(t *testing.T) {
	h, _ := newTestHandler(t)
	bad := udpReceiver(t)
	var once atomic.Bool
	require.NoError(t, h.Register(bad.FD(), api.TaskFunc(func(fd int) bool {
		buf := make([]byte, 64)
		_, _, _ = unix.Recvfrom(fd, buf, unix.MSG_DONTWAIT)
		if once.CompareAndSwap(false, true) {
			panic("decoder bug")
		}
		return true
	})))
	send(t, udpSender(t, bad), []byte("boom"))

	good := udpReceiver(t)
	ch := make(chan delivery, 1)
	require.NoError(t, h.RegisterDatagram(good.FD(), collect(ch, good.FD())))
	send(t, udpSender(t, good), []byte("fine"))
	assert.Equal(t, []byte("fine"), recvDelivery(t, ch).data)
	assert.True(t, h.Has(bad.FD()))
}

func TestStreamPeerCloseRemovesRegistration(t *testing.T) {
	h, m := newTestHandler(t)
	ln, err := transport.TCPListen(nil, "127.0.0.1", 0, 4)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	client := transport.NewSocket(nil)
	require.NoError(t, client.Open(transport.FamilyIPv4, transport.KindStream, transport.ProtoTCP))
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Connect("127.0.0.1", transport.PortOf(ln.Addr())))

	fd, peer, err := transport.TCPAccept(nil, ln)
	require.NoError(t, err)
	conn := transport.NewSocket(nil)
	require.NoError(t, conn.Adopt(fd, peer))
	t.Cleanup(func() { _ = conn.Close() })

	ch := make(chan []byte, 1)
	require.NoError(t, h.RegisterStream(conn.FD(), func(pdu *pool.ByteBuffer) {
		ch <- append([]byte(nil), pdu.Bytes()...)
		pdu.Release()
	}))

	_, err = transport.TCPSend(nil, client.FD(), []byte("abc"))
	require.NoError(t, err)
	select {
	case b := <-ch:
		assert.Equal(t, []byte("abc"), b)
	case <-time.After(waitFor):
		t.Fatal("stream data not delivered")
	}

	require.NoError(t, client.Close())
	require.Eventually(t, func() bool { return !h.Has(conn.FD()) }, waitFor, time.Millisecond)
	assert.True(t, fdIsOpen(conn.FD()))
	assert.EqualValues(t, 1, m.GetSnapshot()["peer_closed"])
}

func TestRLCStatusPDUsCarriedVerbatim(t *testing.T) {
	h, _ := newTestHandler(t)
	rx := udpReceiver(t)
	tx := udpSender(t, rx)
	ch := make(chan delivery, 2)
	require.NoError(t, h.RegisterDatagram(rx.FD(), collect(ch, rx.FD())))

	pdus := [][]byte{
		{0x00, 0x78},
		{0x00, 0x22, 0x00, 0x40, 0x0c, 0x01, 0xc0, 0x20},
	}
	for _, p := range pdus {
		send(t, tx, p)
	}
	for _, p := range pdus {
		assert.Equal(t, p, recvDelivery(t, ch).data)
	}
}

func TestSCTPShutdownNotificationKeepsRegistration(t *testing.T) {
	server, err := transport.SCTPListen(nil, transport.FamilyIPv4, transport.KindSeqPacket, "127.0.0.1", 0)
	if errors.Is(err, unix.EPROTONOSUPPORT) || errors.Is(err, unix.ESOCKTNOSUPPORT) || errors.Is(err, unix.EPERM) {
		t.Skipf("SCTP not available: %v", err)
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = server.Close() })

	h, _ := newTestHandler(t)
	type sctpMsg struct {
		data  []byte
		flags int
		info  transport.SndRcvInfo
	}
	ch := make(chan sctpMsg, 16)
	require.NoError(t, h.RegisterSCTP(server.FD(), func(pdu *pool.ByteBuffer, _ netip.AddrPort, info transport.SndRcvInfo, flags int) {
		ch <- sctpMsg{data: append([]byte(nil), pdu.Bytes()...), flags: flags, info: info}
		pdu.Release()
	}))

	client, err := transport.SCTPClient(nil, transport.FamilyIPv4, transport.KindSeqPacket, "127.0.0.1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	payload := []byte{0x00, 0x22, 0x00, 0x40, 0x0c, 0x01, 0xc0, 0x20}
	_, err = transport.SendSCTPMsg(client.FD(), payload, server.Addr(), transport.SndRcvInfo{PPID: 18})
	require.NoError(t, err)

	next := func() sctpMsg {
		select {
		case m := <-ch:
			return m
		case <-time.After(waitFor):
			t.Fatal("no SCTP message delivered")
			return sctpMsg{}
		}
	}
	for {
		m := next()
		if m.flags&transport.MsgNotification != 0 {
			continue
		}
		assert.Equal(t, payload, m.data)
		assert.EqualValues(t, 18, m.info.PPID)
		break
	}

	require.NoError(t, client.Close())
	for {
		m := next()
		if m.flags&transport.MsgNotification == 0 {
			continue
		}
		n, err := transport.ParseNotification(m.data)
		require.NoError(t, err)
		if n.Type == transport.NotifyShutdown {
			break
		}
	}
	assert.True(t, h.Has(server.FD()), "a shutdown notification must not end the registration")
}

func drain(fd int) {
	buf := make([]byte, 64)
	_, _, _ = unix.Recvfrom(fd, buf, unix.MSG_DONTWAIT)
}

// A descriptor unregistered by its own task and registered again before the
// REMOVE_FD record is processed must keep the new registration.
func TestReRegisterBeforePendingRemoveIsKept(t *testing.T) {
	h, _ := newTestHandler(t)
	a := udpReceiver(t)
	b := udpReceiver(t)
	if a.FD() > b.FD() {
		a, b = b, a
	}
	send(t, udpSender(t, a), []byte("first"))
	send(t, udpSender(t, b), []byte("wake"))

	var unregistered atomic.Bool
	require.NoError(t, h.Register(a.FD(), api.TaskFunc(func(fd int) bool {
		drain(fd)
		if h.Unregister(fd) == nil {
			unregistered.Store(true)
		}
		return false
	})))

	ch := make(chan delivery, 4)
	reregistered := make(chan error, 1)
	var once sync.Once
	require.NoError(t, h.Register(b.FD(), api.TaskFunc(func(fd int) bool {
		drain(fd)
		if unregistered.Load() {
			once.Do(func() {
				reregistered <- h.RegisterDatagram(a.FD(), collect(ch, a.FD()))
			})
		}
		return true
	})))

	select {
	case err := <-reregistered:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("descriptor was not registered again")
	}

	send(t, udpSender(t, a), []byte("second"))
	d := recvDelivery(t, ch)
	assert.Equal(t, a.FD(), d.fd)
	assert.Equal(t, []byte("second"), d.data)
	assert.True(t, h.Has(a.FD()))
}

func TestTruncatedDatagramIsCounted(t *testing.T) {
	h, m := newTestHandler(t, WithPool(pool.NewBufferPool(4, 0)))
	rx := udpReceiver(t)
	ch := make(chan delivery, 1)
	require.NoError(t, h.RegisterDatagram(rx.FD(), collect(ch, rx.FD())))

	send(t, udpSender(t, rx), []byte("0123456789"))
	assert.Equal(t, []byte("0123"), recvDelivery(t, ch).data)
	assert.EqualValues(t, 1, m.GetSnapshot()["truncated"])
}

func TestBufferExhaustionLoggedOnce(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	bp := pool.NewBufferPool(256, 1)
	h, m := newTestHandler(t, WithPool(bp), WithLogger(logrus.NewEntry(logger)))
	held := bp.Get()
	require.NotNil(t, held)

	rx := udpReceiver(t)
	ch := make(chan delivery, 1)
	require.NoError(t, h.RegisterDatagram(rx.FD(), collect(ch, rx.FD())))
	send(t, udpSender(t, rx), []byte("queued"))

	require.Eventually(t, func() bool {
		return m.GetSnapshot()["buffer_exhausted"] >= 5
	}, waitFor, time.Millisecond)

	held.Release()
	assert.Equal(t, []byte("queued"), recvDelivery(t, ch).data)

	errorsLogged, recovered := 0, 0
	for _, e := range hook.AllEntries() {
		switch {
		case e.Message == "Unable to allocate byte buffer" && e.Level == logrus.ErrorLevel:
			errorsLogged++
		case e.Message == "Byte buffers available again":
			recovered++
		}
	}
	assert.Equal(t, 1, errorsLogged)
	assert.Equal(t, 1, recovered)
}
