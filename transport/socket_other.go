//go:build !linux
// +build !linux

// File: transport/socket_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Stubs for platforms without SCTP/epoll support.

package transport

import (
	"net/netip"

	"github.com/sirupsen/logrus"

	"github.com/momentics/rxmux/api"
	"github.com/momentics/rxmux/internal/logging"
)

func orDiscard(log *logrus.Entry) *logrus.Entry {
	if log == nil {
		return logging.Discard()
	}
	return log
}

func unsupported(op string) error {
	return api.NewError(api.ErrCodeNotSupported, op, nil)
}

func OpenSocket(log *logrus.Entry, family Family, kind Kind, proto Protocol) (int, error) {
	return -1, unsupported("open socket")
}

func CloseFD(fd int) error {
	if fd < 0 {
		return nil
	}
	return unsupported("close")
}

func SetNonblock(fd int, nonblocking bool) error { return unsupported("set nonblock") }

func SocketKindOf(fd int) Kind { return KindNone }

func LocalAddress(fd int) (netip.AddrPort, error) {
	return netip.AddrPort{}, unsupported("getsockname")
}

func BindAddress(log *logrus.Entry, fd int, addr netip.AddrPort) error {
	return unsupported("bind")
}

func Bind(log *logrus.Entry, fd int, text string, port int) (netip.AddrPort, error) {
	return netip.AddrPort{}, unsupported("bind")
}

func Connect(log *logrus.Entry, fd int, text string, port int) (netip.AddrPort, error) {
	return netip.AddrPort{}, unsupported("connect")
}

func SCTPClient(log *logrus.Entry, family Family, kind Kind, bindText string) (*Socket, error) {
	return nil, unsupported("sctp client")
}

func SCTPListen(log *logrus.Entry, family Family, kind Kind, bindText string, port int) (*Socket, error) {
	return nil, unsupported("sctp listen")
}

func TCPListen(log *logrus.Entry, bindText string, port, backlog int) (*Socket, error) {
	return nil, unsupported("tcp listen")
}

func TCPAccept(log *logrus.Entry, s *Socket) (int, netip.AddrPort, error) {
	return -1, netip.AddrPort{}, unsupported("accept")
}

func TCPRead(log *logrus.Entry, fd int, buf []byte) (int, error) {
	return -1, unsupported("tcp read")
}

func TCPSend(log *logrus.Entry, fd int, buf []byte) (int, error) {
	return 0, unsupported("tcp send")
}

func RecvFrom(fd int, buf []byte) (n int, from netip.AddrPort, flags int, err error) {
	return -1, netip.AddrPort{}, 0, unsupported("recvfrom")
}

func ReadSCTPTuning(fd int) (SCTPTuning, error) {
	return SCTPTuning{}, unsupported("sctp tuning")
}

func RecvSCTPMsg(fd int, buf []byte) (n int, from netip.AddrPort, info SndRcvInfo, flags int, err error) {
	return -1, netip.AddrPort{}, SndRcvInfo{}, 0, unsupported("sctp recvmsg")
}

func SendSCTPMsg(fd int, buf []byte, to netip.AddrPort, info SndRcvInfo) (int, error) {
	return 0, unsupported("sctp sendmsg")
}

func ParseNotification(b []byte) (Notification, error) {
	return Notification{}, unsupported("parse notification")
}
