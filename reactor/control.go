// File: reactor/control.go
// Author: momentics <momentics@gmail.com>
//
// Control messages exchanged over the self-pipe. A record is 8 bytes,
// little-endian {cmd uint32, fd int32}, well below PIPE_BUF so every write
// and read moves a whole record.

package reactor

import (
	"encoding/binary"
	"fmt"
)

type command uint32

const (
	cmdExit command = iota
	cmdAddFD
	cmdRemoveFD
)

func (c command) String() string {
	switch c {
	case cmdExit:
		return "EXIT"
	case cmdAddFD:
		return "ADD_FD"
	case cmdRemoveFD:
		return "REMOVE_FD"
	default:
		return fmt.Sprintf("CMD(%d)", uint32(c))
	}
}

const (
	ctrlMsgSize = 8
	// attempts for a control write interrupted by a signal or a full pipe
	ctrlWriteAttempts = 3
)

type ctrlMsg struct {
	cmd command
	fd  int32 // -1 when the command carries no descriptor
}

func (m ctrlMsg) marshal() [ctrlMsgSize]byte {
	var b [ctrlMsgSize]byte
	binary.LittleEndian.PutUint32(b[0:], uint32(m.cmd))
	binary.LittleEndian.PutUint32(b[4:], uint32(m.fd))
	return b
}

func unmarshalCtrlMsg(b []byte) (ctrlMsg, error) {
	if len(b) != ctrlMsgSize {
		return ctrlMsg{}, fmt.Errorf("control message of %d bytes, want %d", len(b), ctrlMsgSize)
	}
	return ctrlMsg{
		cmd: command(binary.LittleEndian.Uint32(b[0:])),
		fd:  int32(binary.LittleEndian.Uint32(b[4:])),
	}, nil
}
