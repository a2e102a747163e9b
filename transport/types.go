// File: transport/types.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

// Family selects the address family of a socket.
type Family int

const (
	FamilyIPv4 Family = iota + 1
	FamilyIPv6
)

func (f Family) String() string {
	switch f {
	case FamilyIPv4:
		return "ipv4"
	case FamilyIPv6:
		return "ipv6"
	default:
		return "unknown"
	}
}

// Kind selects the socket type.
type Kind int

const (
	KindNone Kind = iota
	KindStream
	KindDatagram
	KindSeqPacket
)

func (k Kind) String() string {
	switch k {
	case KindStream:
		return "stream"
	case KindDatagram:
		return "dgram"
	case KindSeqPacket:
		return "seqpacket"
	default:
		return "none"
	}
}

// Protocol selects the transport protocol of a socket.
type Protocol int

const (
	ProtoDefault Protocol = iota
	ProtoTCP
	ProtoUDP
	ProtoSCTP
)

func (p Protocol) String() string {
	switch p {
	case ProtoTCP:
		return "TCP"
	case ProtoUDP:
		return "UDP"
	case ProtoSCTP:
		return "SCTP"
	default:
		return ""
	}
}

// SCTP tuning applied by OpenSocket. Not run-time configurable.
const (
	DefaultRTOMax          = 6000 // ms
	DefaultInitMaxAttempts = 3
	DefaultInitMaxTimeout  = 5000 // ms
)

// SCTPTuningPolicy documents which tuning steps are allowed to fail.
//
// Failing to set RTO_MAX or INITMSG fails socket creation. Failing to
// subscribe to events, or to read the current RTO/INITMSG values before
// overwriting them, is only logged and the socket is still returned.
const SCTPTuningPolicy = "set-rto,set-initmsg:fatal;events,get-rto,get-initmsg:warn"

// SCTPTuning is the read-back view of the SCTP options OpenSocket adjusts.
type SCTPTuning struct {
	RTOInitial      uint32 // ms
	RTOMin          uint32 // ms
	RTOMax          uint32 // ms
	InitMaxAttempts uint16
	InitMaxTimeout  uint16 // ms
	NumOutStreams   uint16
	MaxInStreams    uint16
}

// SndRcvInfo is the per-message association metadata delivered with every
// SCTP receive (struct sctp_sndrcvinfo).
type SndRcvInfo struct {
	Stream     uint16
	SSN        uint16
	Flags      uint16
	_          uint16
	PPID       uint32
	Context    uint32
	TimeToLive uint32
	TSN        uint32
	CumTSN     uint32
	AssocID    int32
}

// MsgNotification is set in the receive flags when the message is an SCTP
// event notification instead of user data.
const MsgNotification = 0x8000

// MsgTrunc is set in the receive flags when a datagram or SCTP message was
// longer than the receive buffer and its tail was discarded.
const MsgTrunc = 0x20

// NotificationType identifies an SCTP event notification.
type NotificationType uint16

const (
	NotifyDataIO         NotificationType = 0x8000
	NotifyAssocChange    NotificationType = 0x8001
	NotifyPeerAddrChange NotificationType = 0x8002
	NotifySendFailed     NotificationType = 0x8003
	NotifyRemoteError    NotificationType = 0x8004
	NotifyShutdown       NotificationType = 0x8005
	NotifyPartialDeliver NotificationType = 0x8006
	NotifyAdaptation     NotificationType = 0x8007
	NotifyAuth           NotificationType = 0x8008
	NotifySenderDry      NotificationType = 0x8009
)

func (t NotificationType) String() string {
	switch t {
	case NotifyDataIO:
		return "data_io"
	case NotifyAssocChange:
		return "assoc_change"
	case NotifyPeerAddrChange:
		return "peer_addr_change"
	case NotifySendFailed:
		return "send_failed"
	case NotifyRemoteError:
		return "remote_error"
	case NotifyShutdown:
		return "shutdown"
	case NotifyPartialDeliver:
		return "partial_delivery"
	case NotifyAdaptation:
		return "adaptation"
	case NotifyAuth:
		return "auth"
	case NotifySenderDry:
		return "sender_dry"
	default:
		return "unknown"
	}
}

// Notification is the common header of every SCTP notification, plus the
// association id for the event types that carry one at a fixed offset.
type Notification struct {
	Type    NotificationType
	Flags   uint16
	Length  uint32
	AssocID int32
}
