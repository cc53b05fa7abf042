package protocol

import (
	"encoding/binary"
)

type Marshaler interface {
	Marshal() []byte
}

type Unmarshaler interface {
	Unmarshal(data []byte) error
}

type Marshalable interface {
	Marshaler
	Unmarshaler
}

// ReadRequest asks for Length bytes at IndexGroup/IndexOffset.
type ReadRequest struct {
	IndexGroup  uint32
	IndexOffset uint32
	Length      uint32
}

func (r *ReadRequest) Marshal() []byte {
	b := make([]byte, 12)
	binary.LittleEndian.PutUint32(b[0:4], r.IndexGroup)
	binary.LittleEndian.PutUint32(b[4:8], r.IndexOffset)
	binary.LittleEndian.PutUint32(b[8:12], r.Length)
	return b
}

func (r *ReadRequest) Unmarshal(data []byte) error {
	if len(data) < 12 {
		return ErrPayloadTooShort
	}

	r.IndexGroup = binary.LittleEndian.Uint32(data[0:4])
	r.IndexOffset = binary.LittleEndian.Uint32(data[4:8])
	r.Length = binary.LittleEndian.Uint32(data[8:12])
	return nil
}

// WriteRequest writes Data at IndexGroup/IndexOffset.
type WriteRequest struct {
	IndexGroup  uint32
	IndexOffset uint32
	Data        []byte
}

func (r *WriteRequest) Marshal() []byte {
	b := make([]byte, 12+len(r.Data))
	binary.LittleEndian.PutUint32(b[0:4], r.IndexGroup)
	binary.LittleEndian.PutUint32(b[4:8], r.IndexOffset)
	binary.LittleEndian.PutUint32(b[8:12], uint32(len(r.Data)))
	copy(b[12:], r.Data)
	return b
}

func (r *WriteRequest) Unmarshal(data []byte) error {
	if len(data) < 12 {
		return ErrPayloadTooShort
	}

	r.IndexGroup = binary.LittleEndian.Uint32(data[0:4])
	r.IndexOffset = binary.LittleEndian.Uint32(data[4:8])

	length := binary.LittleEndian.Uint32(data[8:12])
	if uint64(len(data)-12) < uint64(length) {
		return ErrPayloadTooShort
	}

	r.Data = data[12 : 12+length]
	return nil
}

// Transmission modes for device notifications.
const (
	TransModeNone           uint32 = 0
	TransModeClientCycle    uint32 = 1
	TransModeClientOnChange uint32 = 2
	TransModeCyclic         uint32 = 3
	TransModeOnChange       uint32 = 4
)

// AddNotificationRequest subscribes to Length bytes at
// IndexGroup/IndexOffset. MaxDelay and CycleTime are in 100ns units.
type AddNotificationRequest struct {
	IndexGroup  uint32
	IndexOffset uint32
	Length      uint32
	TransMode   uint32
	MaxDelay    uint32
	CycleTime   uint32
}

const addNotificationRequestSize = 40

func (r *AddNotificationRequest) Marshal() []byte {
	// The last 16 bytes are reserved and stay zero.
	b := make([]byte, addNotificationRequestSize)
	binary.LittleEndian.PutUint32(b[0:4], r.IndexGroup)
	binary.LittleEndian.PutUint32(b[4:8], r.IndexOffset)
	binary.LittleEndian.PutUint32(b[8:12], r.Length)
	binary.LittleEndian.PutUint32(b[12:16], r.TransMode)
	binary.LittleEndian.PutUint32(b[16:20], r.MaxDelay)
	binary.LittleEndian.PutUint32(b[20:24], r.CycleTime)
	return b
}

func (r *AddNotificationRequest) Unmarshal(data []byte) error {
	if len(data) < addNotificationRequestSize {
		return ErrPayloadTooShort
	}

	r.IndexGroup = binary.LittleEndian.Uint32(data[0:4])
	r.IndexOffset = binary.LittleEndian.Uint32(data[4:8])
	r.Length = binary.LittleEndian.Uint32(data[8:12])
	r.TransMode = binary.LittleEndian.Uint32(data[12:16])
	r.MaxDelay = binary.LittleEndian.Uint32(data[16:20])
	r.CycleTime = binary.LittleEndian.Uint32(data[20:24])
	return nil
}

// DeleteNotificationRequest cancels the notification Handle.
type DeleteNotificationRequest struct {
	Handle uint32
}

func (r *DeleteNotificationRequest) Marshal() []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, r.Handle)
	return b
}

func (r *DeleteNotificationRequest) Unmarshal(data []byte) error {
	if len(data) < 4 {
		return ErrPayloadTooShort
	}

	r.Handle = binary.LittleEndian.Uint32(data)
	return nil
}

var _ Marshalable = (*ReadRequest)(nil)
var _ Marshalable = (*WriteRequest)(nil)
var _ Marshalable = (*AddNotificationRequest)(nil)
var _ Marshalable = (*DeleteNotificationRequest)(nil)
