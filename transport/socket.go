// File: transport/socket.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Socket is a move-only owner of one socket descriptor.

package transport

import (
	"net/netip"

	"github.com/sirupsen/logrus"

	"github.com/momentics/rxmux/api"
)

// noCopy makes go vet's copylocks check flag copies of Socket.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Socket owns at most one descriptor plus the address it was bound or
// connected to. The zero value is not usable; use NewSocket.
//
// A Socket is not safe for concurrent use.
type Socket struct {
	noCopy noCopy

	sysfd int
	addr  netip.AddrPort
	log   *logrus.Entry
}

// NewSocket returns an empty handle. A nil log discards output.
func NewSocket(log *logrus.Entry) *Socket {
	return &Socket{sysfd: -1, log: orDiscard(log)}
}

// IsOpen reports whether the handle owns a descriptor.
func (s *Socket) IsOpen() bool { return s.sysfd >= 0 }

// FD returns the owned descriptor, or -1.
func (s *Socket) FD() int { return s.sysfd }

// Addr returns the bound (or connected) address.
func (s *Socket) Addr() netip.AddrPort { return s.addr }

// Open creates a new descriptor. It fails with ErrAlreadyOpen when the handle
// already owns one.
func (s *Socket) Open(family Family, kind Kind, proto Protocol) error {
	if s.IsOpen() {
		s.log.WithField("fd", s.sysfd).Error("Socket is already open")
		return api.NewError(api.ErrCodeAlreadyOpen, "open", nil).WithContext("fd", s.sysfd)
	}
	fd, err := OpenSocket(s.log, family, kind, proto)
	if err != nil {
		return err
	}
	s.sysfd = fd
	return nil
}

// Bind binds the owned descriptor and records the resolved local address.
func (s *Socket) Bind(text string, port int) error {
	addr, err := Bind(s.log, s.sysfd, text, port)
	if err != nil {
		return err
	}
	s.addr = addr
	return nil
}

// Connect connects the owned descriptor and records the peer address.
func (s *Socket) Connect(text string, port int) error {
	addr, err := Connect(s.log, s.sysfd, text, port)
	if err != nil {
		return err
	}
	s.addr = addr
	return nil
}

// Close releases the descriptor. Calling it again is a no-op.
func (s *Socket) Close() error {
	if s.sysfd < 0 {
		return nil
	}
	fd := s.sysfd
	s.sysfd = -1
	if err := CloseFD(fd); err != nil {
		s.log.WithError(err).WithField("fd", fd).Warn("Error closing socket")
		return err
	}
	return nil
}

// Reset closes the descriptor and forgets the address.
func (s *Socket) Reset() {
	_ = s.Close()
	s.addr = netip.AddrPort{}
}

// Take moves ownership into a new handle and leaves s empty.
func (s *Socket) Take() *Socket {
	out := &Socket{sysfd: s.sysfd, addr: s.addr, log: s.log}
	s.sysfd = -1
	s.addr = netip.AddrPort{}
	return out
}

// Adopt takes ownership of a descriptor obtained elsewhere, such as from
// TCPAccept.
func (s *Socket) Adopt(fd int, addr netip.AddrPort) error {
	if fd < 0 {
		return api.NewError(api.ErrCodeInvalidFD, "adopt", nil).WithContext("fd", fd)
	}
	if s.IsOpen() {
		return api.NewError(api.ErrCodeAlreadyOpen, "adopt", nil).WithContext("fd", s.sysfd)
	}
	s.sysfd = fd
	s.addr = addr
	return nil
}
