package protocol

import (
	"io"

	"github.com/luma/ams/frame"
)

// PrependHeaders wraps the payload already held by f with an AoE header
// described by h and the AMS/TCP header in front of that. h.Length is set to
// the payload length.
func PrependHeaders(f *frame.Frame, h *AoEHeader) {
	h.Length = uint32(f.Len())

	var aoe [AoEHeaderSize]byte
	h.Marshal(aoe[:])
	f.Prepend(aoe[:])

	var tcp [TCPHeaderSize]byte
	(&TCPHeader{Length: uint32(f.Len())}).Marshal(tcp[:])
	f.Prepend(tcp[:])
}

// WriteFrame writes a complete frame, headers and payload, in a single Write.
func WriteFrame(w io.Writer, h *AoEHeader, payload []byte) error {
	f := frame.New(TCPHeaderSize + AoEHeaderSize + len(payload))
	f.Prepend(payload)
	PrependHeaders(f, h)

	n, err := w.Write(f.Bytes())
	if err != nil {
		return err
	}

	if n != f.Len() {
		return io.ErrShortWrite
	}

	return nil
}
