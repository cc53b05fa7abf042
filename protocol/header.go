package protocol

import (
	"encoding/binary"
)

const (
	TCPHeaderSize = 6
	AoEHeaderSize = 32
)

// TCPHeader precedes every frame and declares the length of the AoE header
// plus payload that follow.
type TCPHeader struct {
	Reserved uint16
	Length   uint32
}

// AoEHeader carries addressing and correlation for a single command.
type AoEHeader struct {
	Target     Addr
	Source     Addr
	CmdID      CommandID
	StateFlags uint16
	Length     uint32
	ErrorCode  uint32
	InvokeID   uint32
}

// Marshal encodes the header into b, which must be at least TCPHeaderSize
// long.
func (h *TCPHeader) Marshal(b []byte) {
	_ = b[TCPHeaderSize-1]

	binary.LittleEndian.PutUint16(b[0:2], h.Reserved)
	binary.LittleEndian.PutUint32(b[2:6], h.Length)
}

func (h *TCPHeader) Unmarshal(b []byte) error {
	if len(b) < TCPHeaderSize {
		return ErrFrameTooShort
	}

	h.Reserved = binary.LittleEndian.Uint16(b[0:2])
	h.Length = binary.LittleEndian.Uint32(b[2:6])

	return nil
}

// Marshal encodes the header into b, which must be at least AoEHeaderSize
// long.
func (h *AoEHeader) Marshal(b []byte) {
	_ = b[AoEHeaderSize-1]

	copy(b[0:6], h.Target.NetID[:])
	binary.LittleEndian.PutUint16(b[6:8], h.Target.Port)
	copy(b[8:14], h.Source.NetID[:])
	binary.LittleEndian.PutUint16(b[14:16], h.Source.Port)
	binary.LittleEndian.PutUint16(b[16:18], uint16(h.CmdID))
	binary.LittleEndian.PutUint16(b[18:20], h.StateFlags)
	binary.LittleEndian.PutUint32(b[20:24], h.Length)
	binary.LittleEndian.PutUint32(b[24:28], h.ErrorCode)
	binary.LittleEndian.PutUint32(b[28:32], h.InvokeID)
}

func (h *AoEHeader) Unmarshal(b []byte) error {
	if len(b) < AoEHeaderSize {
		return ErrFrameTooShort
	}

	copy(h.Target.NetID[:], b[0:6])
	h.Target.Port = binary.LittleEndian.Uint16(b[6:8])
	copy(h.Source.NetID[:], b[8:14])
	h.Source.Port = binary.LittleEndian.Uint16(b[14:16])
	h.CmdID = CommandID(binary.LittleEndian.Uint16(b[16:18]))
	h.StateFlags = binary.LittleEndian.Uint16(b[18:20])
	h.Length = binary.LittleEndian.Uint32(b[20:24])
	h.ErrorCode = binary.LittleEndian.Uint32(b[24:28])
	h.InvokeID = binary.LittleEndian.Uint32(b[28:32])

	return nil
}

// IsResponse reports whether the state flags mark the frame as a reply.
func (h *AoEHeader) IsResponse() bool {
	return h.StateFlags&StateFlagResponse != 0
}
