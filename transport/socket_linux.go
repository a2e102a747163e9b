//go:build linux
// +build linux

// File: transport/socket_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux socket creation, bind/connect/listen helpers and TCP stream i/o on
// raw descriptors.

package transport

import (
	"errors"
	"net"
	"net/netip"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/momentics/rxmux/api"
	"github.com/momentics/rxmux/internal/logging"
)

func orDiscard(log *logrus.Entry) *logrus.Entry {
	if log == nil {
		return logging.Discard()
	}
	return log
}

func sysFamily(f Family) (int, bool) {
	switch f {
	case FamilyIPv4:
		return unix.AF_INET, true
	case FamilyIPv6:
		return unix.AF_INET6, true
	}
	return 0, false
}

func sysKind(k Kind) (int, bool) {
	switch k {
	case KindStream:
		return unix.SOCK_STREAM, true
	case KindDatagram:
		return unix.SOCK_DGRAM, true
	case KindSeqPacket:
		return unix.SOCK_SEQPACKET, true
	}
	return 0, false
}

func sysProto(p Protocol) int {
	switch p {
	case ProtoTCP:
		return unix.IPPROTO_TCP
	case ProtoUDP:
		return unix.IPPROTO_UDP
	case ProtoSCTP:
		return unix.IPPROTO_SCTP
	}
	return 0
}

// OpenSocket creates a socket and, for SCTP, applies the event subscription
// and retransmission tuning described in SCTPTuningPolicy.
func OpenSocket(log *logrus.Entry, family Family, kind Kind, proto Protocol) (int, error) {
	log = orDiscard(log)
	af, ok := sysFamily(family)
	if !ok {
		return -1, api.NewError(api.ErrCodeOpenFailed, "open socket", unix.EAFNOSUPPORT).
			WithContext("family", family.String())
	}
	st, ok := sysKind(kind)
	if !ok {
		return -1, api.NewError(api.ErrCodeOpenFailed, "open socket", unix.ESOCKTNOSUPPORT).
			WithContext("kind", kind.String())
	}

	fd, err := unix.Socket(af, st|unix.SOCK_CLOEXEC, sysProto(proto))
	if err != nil {
		log.WithError(err).WithField("proto", proto.String()).Error("Failed to open socket")
		return -1, api.NewError(api.ErrCodeOpenFailed, "open socket", err).
			WithContext("proto", proto.String())
	}

	if proto == ProtoSCTP {
		if err := tuneSCTP(log, fd); err != nil {
			_ = unix.Close(fd)
			return -1, api.NewError(api.ErrCodeOpenFailed, "open socket", err).
				WithContext("proto", proto.String())
		}
	}
	return fd, nil
}

// CloseFD closes a raw descriptor. Negative descriptors are ignored.
func CloseFD(fd int) error {
	if fd < 0 {
		return nil
	}
	return unix.Close(fd)
}

// SetNonblock toggles O_NONBLOCK on fd.
func SetNonblock(fd int, nonblocking bool) error {
	return unix.SetNonblock(fd, nonblocking)
}

// SocketKindOf returns the socket type of fd, or KindNone when fd is not a
// socket.
func SocketKindOf(fd int) Kind {
	if fd < 0 {
		return KindNone
	}
	t, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TYPE)
	if err != nil {
		return KindNone
	}
	switch t {
	case unix.SOCK_STREAM:
		return KindStream
	case unix.SOCK_DGRAM:
		return KindDatagram
	case unix.SOCK_SEQPACKET:
		return KindSeqPacket
	}
	return KindNone
}

// toSockaddr converts addr for use on fd, mapping IPv4 addresses into IPv6
// when fd is an AF_INET6 socket.
func toSockaddr(fd int, addr netip.AddrPort) (unix.Sockaddr, error) {
	domain, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_DOMAIN)
	if err != nil {
		return nil, err
	}
	ip := addr.Addr()
	switch domain {
	case unix.AF_INET:
		ip = ip.Unmap()
		if !ip.Is4() {
			return nil, unix.EAFNOSUPPORT
		}
		return &unix.SockaddrInet4{Port: int(addr.Port()), Addr: ip.As4()}, nil
	case unix.AF_INET6:
		sa := &unix.SockaddrInet6{Port: int(addr.Port()), Addr: ip.As16()}
		if z := ip.Zone(); z != "" {
			if ifi, err := interfaceIndex(z); err == nil {
				sa.ZoneId = uint32(ifi)
			}
		}
		return sa, nil
	}
	return nil, unix.EAFNOSUPPORT
}

func interfaceIndex(zone string) (int, error) {
	ifi, err := net.InterfaceByName(zone)
	if err != nil {
		return 0, err
	}
	return ifi.Index, nil
}

func fromSockaddr(sa unix.Sockaddr) netip.AddrPort {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(a.Addr), uint16(a.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(a.Addr).Unmap(), uint16(a.Port))
	}
	return netip.AddrPort{}
}

// LocalAddress returns the address fd is bound to.
func LocalAddress(fd int) (netip.AddrPort, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return netip.AddrPort{}, err
	}
	return fromSockaddr(sa), nil
}

// BindAddress binds fd to addr.
func BindAddress(log *logrus.Entry, fd int, addr netip.AddrPort) error {
	log = orDiscard(log)
	if fd < 0 {
		log.Error("Trying to bind to a closed socket")
		return api.NewError(api.ErrCodeBindFailed, "bind", unix.EBADF)
	}
	sa, err := toSockaddr(fd, addr)
	if err == nil {
		err = unix.Bind(fd, sa)
	}
	if err != nil {
		log.WithError(err).WithFields(logrus.Fields{
			"addr":  FormatAddress(addr),
			"port":  PortOf(addr),
			"errno": errnoOf(err),
		}).Error("Failed to bind on address")
		return api.NewError(api.ErrCodeBindFailed, "bind", err).
			WithContext("addr", JoinHostPort(addr))
	}
	return nil
}

// Bind parses text/port, binds fd to it and returns the address the kernel
// actually assigned (port 0 resolves to the ephemeral port).
func Bind(log *logrus.Entry, fd int, text string, port int) (netip.AddrPort, error) {
	log = orDiscard(log)
	addr, err := ParseAddress(text, port)
	if err != nil {
		log.WithField("addr", text).Error("Failed to convert IP address to socket address")
		return netip.AddrPort{}, err
	}
	if err := BindAddress(log, fd, addr); err != nil {
		return netip.AddrPort{}, err
	}
	if bound, err := LocalAddress(fd); err == nil {
		return bound, nil
	}
	return addr, nil
}

// Connect parses text/port and connects fd to it. The parsed destination is
// returned even when connect fails so callers can log it.
func Connect(log *logrus.Entry, fd int, text string, port int) (netip.AddrPort, error) {
	log = orDiscard(log)
	if fd < 0 {
		log.Error("Tried to connect to remote address with an invalid socket")
		return netip.AddrPort{}, api.NewError(api.ErrCodeConnectFailed, "connect", unix.EBADF)
	}
	addr, err := ParseAddress(text, port)
	if err != nil {
		log.WithField("addr", text).Error("Error converting IP address to socket address")
		return netip.AddrPort{}, err
	}
	sa, err := toSockaddr(fd, addr)
	if err == nil {
		err = unix.Connect(fd, sa)
	}
	if err != nil {
		log.WithError(err).WithField("addr", JoinHostPort(addr)).Info("Failed to establish socket connection")
		return addr, api.NewError(api.ErrCodeConnectFailed, "connect", err).
			WithContext("addr", JoinHostPort(addr))
	}
	return addr, nil
}

func listen(log *logrus.Entry, s *Socket, backlog int, proto Protocol) error {
	if err := unix.Listen(s.FD(), backlog); err != nil {
		log.WithError(err).Errorf("Failed to listen to incoming %s connections", proto)
		return api.NewError(api.ErrCodeListenFailed, "listen", err).
			WithContext("proto", proto.String())
	}
	return nil
}

func sctpInitSocket(log *logrus.Entry, family Family, kind Kind, bindText string, port int) (*Socket, error) {
	s := NewSocket(log)
	if err := s.Open(family, kind, ProtoSCTP); err != nil {
		return nil, err
	}
	if err := s.Bind(bindText, port); err != nil {
		s.Reset()
		return nil, err
	}
	return s, nil
}

// SCTPClient opens an SCTP socket bound to bindText on an ephemeral port.
func SCTPClient(log *logrus.Entry, family Family, kind Kind, bindText string) (*Socket, error) {
	return sctpInitSocket(orDiscard(log), family, kind, bindText, 0)
}

// SCTPListen opens, binds and marks passive an SCTP socket.
func SCTPListen(log *logrus.Entry, family Family, kind Kind, bindText string, port int) (*Socket, error) {
	log = orDiscard(log)
	s, err := sctpInitSocket(log, family, kind, bindText, port)
	if err != nil {
		return nil, err
	}
	if err := listen(log, s, unix.SOMAXCONN, ProtoSCTP); err != nil {
		s.Reset()
		return nil, err
	}
	return s, nil
}

// TCPListen opens an IPv4 TCP socket bound to bindText:port and listening
// with the given backlog.
func TCPListen(log *logrus.Entry, bindText string, port, backlog int) (*Socket, error) {
	log = orDiscard(log)
	s := NewSocket(log)
	if err := s.Open(FamilyIPv4, KindStream, ProtoTCP); err != nil {
		return nil, err
	}
	_ = unix.SetsockoptInt(s.FD(), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	if err := s.Bind(bindText, port); err != nil {
		s.Reset()
		return nil, err
	}
	if err := listen(log, s, backlog, ProtoTCP); err != nil {
		s.Reset()
		return nil, err
	}
	return s, nil
}

// TCPAccept accepts one pending connection on the listening socket s. The
// returned descriptor belongs to the caller.
func TCPAccept(log *logrus.Entry, s *Socket) (int, netip.AddrPort, error) {
	log = orDiscard(log)
	for {
		nfd, sa, err := unix.Accept4(s.FD(), unix.SOCK_CLOEXEC)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			log.WithError(err).Error("Failed to accept connection")
			return -1, netip.AddrPort{}, api.NewError(api.ErrCodeAcceptFailed, "accept", err)
		}
		return nfd, fromSockaddr(sa), nil
	}
}

// TCPRead reads once from a connected stream socket without blocking. It
// returns 0, nil when the peer closed the connection and EAGAIN when nothing
// is queued. The descriptor is never closed here.
func TCPRead(log *logrus.Entry, fd int, buf []byte) (int, error) {
	log = orDiscard(log)
	n, _, err := unix.Recvfrom(fd, buf, unix.MSG_DONTWAIT)
	if err != nil {
		if err != unix.EAGAIN {
			log.WithError(err).WithField("fd", fd).Error("Failed to read from TCP socket")
		}
		return -1, err
	}
	if n == 0 {
		log.WithField("fd", fd).Info("TCP connection closed")
	}
	return n, nil
}

// TCPSend writes buf until every byte is sent, an error occurs or the
// kernel makes no progress. It returns the number of bytes actually sent.
func TCPSend(log *logrus.Entry, fd int, buf []byte) (int, error) {
	log = orDiscard(log)
	sent := 0
	for sent < len(buf) {
		n, err := unix.SendmsgN(fd, buf[sent:], nil, nil, unix.MSG_NOSIGNAL)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			log.WithError(err).WithField("fd", fd).Error("Failed to send data to TCP socket")
			return sent, err
		}
		if n < 1 {
			log.WithField("fd", fd).Error("Failed to send data to TCP socket: no progress")
			return sent, unix.EIO
		}
		sent += n
	}
	return sent, nil
}

// RecvFrom receives one datagram without blocking. It returns EAGAIN when
// nothing is queued. flags carries MsgTrunc when the datagram did not fit
// buf.
func RecvFrom(fd int, buf []byte) (n int, from netip.AddrPort, flags int, err error) {
	var sa unix.Sockaddr
	n, _, flags, sa, err = unix.Recvmsg(fd, buf, nil, unix.MSG_DONTWAIT)
	if err != nil {
		return -1, netip.AddrPort{}, 0, err
	}
	if sa != nil {
		from = fromSockaddr(sa)
	}
	return n, from, flags, nil
}

func errnoOf(err error) int {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return int(errno)
	}
	return 0
}
