//go:build linux
// +build linux

// File: transport/sctp_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// SCTP socket options, association-aware receive/send and notification
// decoding. Option structs mirror <linux/sctp.h>.

package transport

import (
	"encoding/binary"
	"net/netip"
	"unsafe"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/momentics/rxmux/api"
)

const (
	solSCTP = unix.IPPROTO_SCTP

	sctpRTOInfo = 0
	sctpInitMsg = 2
	sctpEvents  = 11

	sctpCmsgSndRcv = 1

	sndRcvInfoSize = 32
)

// rtoInfo mirrors struct sctp_rtoinfo.
type rtoInfo struct {
	AssocID int32
	Initial uint32
	Max     uint32
	Min     uint32
}

// initMsg mirrors struct sctp_initmsg.
type initMsg struct {
	NumOstreams    uint16
	MaxInstreams   uint16
	MaxAttempts    uint16
	MaxInitTimeout uint16
}

// eventSubscribe mirrors the first ten fields of struct
// sctp_event_subscribe; the kernel accepts a shorter option.
type eventSubscribe struct {
	DataIO          uint8
	Association     uint8
	Address         uint8
	SendFailure     uint8
	PeerError       uint8
	Shutdown        uint8
	PartialDelivery uint8
	AdaptationLayer uint8
	Authentication  uint8
	SenderDry       uint8
}

func setsockopt(fd, level, name int, val unsafe.Pointer, vallen uintptr) error {
	_, _, e := unix.Syscall6(unix.SYS_SETSOCKOPT,
		uintptr(fd), uintptr(level), uintptr(name),
		uintptr(val), vallen, 0)
	if e != 0 {
		return e
	}
	return nil
}

func getsockopt(fd, level, name int, val unsafe.Pointer, vallen uintptr) error {
	l := uint32(vallen) // socklen_t
	_, _, e := unix.Syscall6(unix.SYS_GETSOCKOPT,
		uintptr(fd),
		uintptr(level),
		uintptr(name),
		uintptr(val),
		uintptr(unsafe.Pointer(&l)),
		0,
	)
	if e != 0 {
		return e
	}
	return nil
}

// tuneSCTP subscribes to events and bounds retransmission timers on a fresh
// SCTP socket. Only the two set operations are fatal.
func tuneSCTP(log *logrus.Entry, fd int) error {
	// data_io enables sndrcvinfo delivery; shutdown covers graceful close and
	// address events catch an ungraceful loss of the link.
	ev := eventSubscribe{DataIO: 1, Shutdown: 1, Address: 1}
	if err := setsockopt(fd, solSCTP, sctpEvents, unsafe.Pointer(&ev), unsafe.Sizeof(ev)); err != nil {
		log.WithError(err).WithField("fd", fd).Warn("Failed to subscribe to SCTP_SHUTDOWN event")
	}

	var rto rtoInfo
	if err := getsockopt(fd, solSCTP, sctpRTOInfo, unsafe.Pointer(&rto), unsafe.Sizeof(rto)); err != nil {
		log.WithError(err).WithField("fd", fd).Warn("Error getting RTO_INFO sockopts")
		rto = rtoInfo{}
	}
	rto.AssocID = 0
	rto.Max = DefaultRTOMax
	log.WithFields(logrus.Fields{
		"assoc":   rto.AssocID,
		"initial": rto.Initial,
		"min":     rto.Min,
		"max":     rto.Max,
	}).Debug("Setting RTO_INFO options on SCTP socket")
	if err := setsockopt(fd, solSCTP, sctpRTOInfo, unsafe.Pointer(&rto), unsafe.Sizeof(rto)); err != nil {
		log.WithError(err).WithField("fd", fd).Error("Error setting RTO_INFO sockopts")
		return err
	}

	var im initMsg
	if err := getsockopt(fd, solSCTP, sctpInitMsg, unsafe.Pointer(&im), unsafe.Sizeof(im)); err != nil {
		log.WithError(err).WithField("fd", fd).Warn("Error getting SCTP_INITMSG sockopts")
	}
	im.MaxAttempts = DefaultInitMaxAttempts
	im.MaxInitTimeout = DefaultInitMaxTimeout
	log.WithFields(logrus.Fields{
		"max_attempts": im.MaxAttempts,
		"max_init_ms":  im.MaxInitTimeout,
	}).Debug("Setting SCTP_INITMSG options on SCTP socket")
	if err := setsockopt(fd, solSCTP, sctpInitMsg, unsafe.Pointer(&im), unsafe.Sizeof(im)); err != nil {
		log.WithError(err).WithField("fd", fd).Error("Error setting SCTP_INITMSG sockopts")
		return err
	}
	return nil
}

// ReadSCTPTuning reads back the RTO and INITMSG options of an SCTP socket.
func ReadSCTPTuning(fd int) (SCTPTuning, error) {
	var rto rtoInfo
	if err := getsockopt(fd, solSCTP, sctpRTOInfo, unsafe.Pointer(&rto), unsafe.Sizeof(rto)); err != nil {
		return SCTPTuning{}, err
	}
	var im initMsg
	if err := getsockopt(fd, solSCTP, sctpInitMsg, unsafe.Pointer(&im), unsafe.Sizeof(im)); err != nil {
		return SCTPTuning{}, err
	}
	return SCTPTuning{
		RTOInitial:      rto.Initial,
		RTOMin:          rto.Min,
		RTOMax:          rto.Max,
		InitMaxAttempts: im.MaxAttempts,
		InitMaxTimeout:  im.MaxInitTimeout,
		NumOutStreams:   im.NumOstreams,
		MaxInStreams:    im.MaxInstreams,
	}, nil
}

// sctpOOBSpace is the ancillary buffer needed for one sndrcvinfo message.
var sctpOOBSpace = unix.CmsgSpace(sndRcvInfoSize)

// RecvSCTPMsg receives one message together with its association metadata.
// Notifications arrive as ordinary messages with MsgNotification set in
// flags; telling them apart from data is left to the caller. It never
// blocks and returns EAGAIN when nothing is queued.
func RecvSCTPMsg(fd int, buf []byte) (n int, from netip.AddrPort, info SndRcvInfo, flags int, err error) {
	oob := make([]byte, sctpOOBSpace)
	var oobn int
	var sa unix.Sockaddr
	n, oobn, flags, sa, err = unix.Recvmsg(fd, buf, oob, unix.MSG_DONTWAIT)
	if err != nil {
		return -1, netip.AddrPort{}, SndRcvInfo{}, 0, err
	}
	if sa != nil {
		from = fromSockaddr(sa)
	}
	if oobn > 0 {
		info = parseSndRcvInfo(oob[:oobn])
	}
	return n, from, info, flags, nil
}

func parseSndRcvInfo(oob []byte) SndRcvInfo {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return SndRcvInfo{}
	}
	for _, m := range msgs {
		if m.Header.Level != solSCTP || m.Header.Type != sctpCmsgSndRcv || len(m.Data) < sndRcvInfoSize {
			continue
		}
		d := m.Data
		return SndRcvInfo{
			Stream:     binary.NativeEndian.Uint16(d[0:]),
			SSN:        binary.NativeEndian.Uint16(d[2:]),
			Flags:      binary.NativeEndian.Uint16(d[4:]),
			PPID:       binary.NativeEndian.Uint32(d[8:]),
			Context:    binary.NativeEndian.Uint32(d[12:]),
			TimeToLive: binary.NativeEndian.Uint32(d[16:]),
			TSN:        binary.NativeEndian.Uint32(d[20:]),
			CumTSN:     binary.NativeEndian.Uint32(d[24:]),
			AssocID:    int32(binary.NativeEndian.Uint32(d[28:])),
		}
	}
	return SndRcvInfo{}
}

func marshalSndRcvInfo(info SndRcvInfo) []byte {
	b := make([]byte, unix.CmsgSpace(sndRcvInfoSize))
	h := (*unix.Cmsghdr)(unsafe.Pointer(&b[0]))
	h.Level = solSCTP
	h.Type = sctpCmsgSndRcv
	h.SetLen(unix.CmsgLen(sndRcvInfoSize))
	d := b[unix.CmsgLen(0):]
	binary.NativeEndian.PutUint16(d[0:], info.Stream)
	binary.NativeEndian.PutUint16(d[2:], info.SSN)
	binary.NativeEndian.PutUint16(d[4:], info.Flags)
	binary.NativeEndian.PutUint32(d[8:], info.PPID)
	binary.NativeEndian.PutUint32(d[12:], info.Context)
	binary.NativeEndian.PutUint32(d[16:], info.TimeToLive)
	binary.NativeEndian.PutUint32(d[20:], info.TSN)
	binary.NativeEndian.PutUint32(d[24:], info.CumTSN)
	binary.NativeEndian.PutUint32(d[28:], uint32(info.AssocID))
	return b
}

// SendSCTPMsg sends buf on stream info.Stream with payload protocol id
// info.PPID. to may be the zero address on connected sockets.
func SendSCTPMsg(fd int, buf []byte, to netip.AddrPort, info SndRcvInfo) (int, error) {
	var sa unix.Sockaddr
	if to.IsValid() {
		var err error
		if sa, err = toSockaddr(fd, to); err != nil {
			return 0, err
		}
	}
	return unix.SendmsgN(fd, buf, marshalSndRcvInfo(info), sa, unix.MSG_NOSIGNAL)
}

// ParseNotification decodes the header of an SCTP notification received
// with MsgNotification set.
func ParseNotification(b []byte) (Notification, error) {
	if len(b) < 8 {
		return Notification{}, api.NewError(api.ErrCodeNotSupported, "parse notification", unix.EINVAL).
			WithContext("len", len(b))
	}
	n := Notification{
		Type:   NotificationType(binary.NativeEndian.Uint16(b[0:])),
		Flags:  binary.NativeEndian.Uint16(b[2:]),
		Length: binary.NativeEndian.Uint32(b[4:]),
	}
	switch n.Type {
	case NotifyShutdown, NotifySenderDry:
		// assoc id follows the header directly
		if len(b) >= 12 {
			n.AssocID = int32(binary.NativeEndian.Uint32(b[8:]))
		}
	case NotifyPeerAddrChange:
		// sockaddr_storage(128) + state(4) + error(4) precede the assoc id
		if len(b) >= 148 {
			n.AssocID = int32(binary.NativeEndian.Uint32(b[144:]))
		}
	case NotifyAssocChange:
		// state, error, outbound, inbound precede the assoc id
		if len(b) >= 20 {
			n.AssocID = int32(binary.NativeEndian.Uint32(b[16:]))
		}
	}
	return n, nil
}
