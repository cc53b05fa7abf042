package protocol

import (
	"errors"
	"fmt"
	"io"
)

var (
	ErrFrameTooShort        = errors.New("Frame is malformed, it appears to be too short")
	ErrFrameLengthMismatch  = errors.New("Frame is malformed, the AoE payload length disagrees with the AMS/TCP length")
	ErrPayloadTooShort      = errors.New("Payload is malformed, it appears to be too short")
	ErrPayloadTooLarge      = errors.New("Frame payload exceeds the receive limit")
	ErrInvalidNetID         = errors.New("NetID must be six dot separated bytes")
	ErrNotificationTooShort = errors.New("Notification stream is malformed, it appears to be too short")
)

// junkBufferSize bounds the scratch space used to drain unwanted bytes.
const junkBufferSize = 1024

// ReadTCPHeader reads exactly one AMS/TCP header from r.
func ReadTCPHeader(r io.Reader, h *TCPHeader) error {
	var b [TCPHeaderSize]byte

	if _, err := io.ReadFull(r, b[:]); err != nil {
		return err
	}

	return h.Unmarshal(b[:])
}

// ReadAoEHeader reads exactly one AoE header from r.
func ReadAoEHeader(r io.Reader, h *AoEHeader) error {
	var b [AoEHeaderSize]byte

	if _, err := io.ReadFull(r, b[:]); err != nil {
		return err
	}

	return h.Unmarshal(b[:])
}

// Drain reads and discards exactly n bytes from r so the stream stays aligned
// on the next frame.
func Drain(r io.Reader, n int64) error {
	var junk [junkBufferSize]byte

	for n > 0 {
		chunk := int64(len(junk))
		if n < chunk {
			chunk = n
		}

		read, err := io.ReadFull(r, junk[:chunk])
		n -= int64(read)

		if err != nil {
			return err
		}
	}

	return nil
}

// ReadFrame reads a whole frame from r: both headers and the payload.
//
// To avoid denial of service attacks, frames declaring more than maxPayload
// bytes are drained and rejected with ErrPayloadTooLarge wrapped in the
// returned error, leaving r aligned on the next frame.
func ReadFrame(r io.Reader, maxPayload int) (*AoEHeader, []byte, error) {
	var tcp TCPHeader

	if err := ReadTCPHeader(r, &tcp); err != nil {
		return nil, nil, err
	}

	if tcp.Length < AoEHeaderSize {
		if err := Drain(r, int64(tcp.Length)); err != nil {
			return nil, nil, err
		}

		return nil, nil, fmt.Errorf("Failed to read frame of %d bytes: %w", tcp.Length, ErrFrameTooShort)
	}

	var h AoEHeader
	if err := ReadAoEHeader(r, &h); err != nil {
		return nil, nil, err
	}

	remaining := int64(tcp.Length) - AoEHeaderSize
	if int64(h.Length) != remaining {
		if err := Drain(r, remaining); err != nil {
			return nil, nil, err
		}

		return nil, nil, fmt.Errorf("Failed to read frame, declared %d got %d: %w",
			h.Length, remaining, ErrFrameLengthMismatch)
	}

	if remaining > int64(maxPayload) {
		if err := Drain(r, remaining); err != nil {
			return nil, nil, err
		}

		return &h, nil, fmt.Errorf("Failed to read frame of %d bytes: %w", remaining, ErrPayloadTooLarge)
	}

	payload := make([]byte, remaining)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, nil, err
	}

	return &h, payload, nil
}
