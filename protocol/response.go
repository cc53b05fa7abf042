package protocol

import (
	"encoding/binary"
	"strings"
)

// ResultOK is the result code of a successful command.
const ResultOK uint32 = 0

// ResultError returns nil for ResultOK and an AdsError otherwise.
func ResultError(code uint32) error {
	if code == ResultOK {
		return nil
	}

	return AdsError(code)
}

func readResult(data []byte) (uint32, error) {
	if len(data) < 4 {
		return 0, ErrPayloadTooShort
	}

	return binary.LittleEndian.Uint32(data), nil
}

// failed reports whether data is an error reply. Devices answer failed
// commands with the result code alone, so the rest of the payload is not
// required then.
func failed(data []byte, result *uint32) bool {
	code, err := readResult(data)
	if err != nil || code == ResultOK {
		return false
	}

	*result = code
	return true
}

// ResultResponse is the reply to commands that only return a result code:
// WRITE, WRITE_CONTROL and DEL_DEVICE_NOTIFICATION.
type ResultResponse struct {
	Result uint32
}

func (r *ResultResponse) Marshal() []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, r.Result)
	return b
}

func (r *ResultResponse) Unmarshal(data []byte) (err error) {
	r.Result, err = readResult(data)
	return err
}

// DeviceInfo is the reply to READ_DEVICE_INFO.
type DeviceInfo struct {
	Result uint32
	Major  uint8
	Minor  uint8
	Build  uint16
	Name   string
}

const deviceInfoSize = 24

func (r *DeviceInfo) Marshal() []byte {
	b := make([]byte, deviceInfoSize)
	binary.LittleEndian.PutUint32(b[0:4], r.Result)
	b[4] = r.Major
	b[5] = r.Minor
	binary.LittleEndian.PutUint16(b[6:8], r.Build)
	copy(b[8:24], r.Name)
	return b
}

func (r *DeviceInfo) Unmarshal(data []byte) error {
	if failed(data, &r.Result) {
		return nil
	}

	if len(data) < deviceInfoSize {
		return ErrPayloadTooShort
	}

	r.Result = binary.LittleEndian.Uint32(data[0:4])
	r.Major = data[4]
	r.Minor = data[5]
	r.Build = binary.LittleEndian.Uint16(data[6:8])
	r.Name = strings.TrimRight(string(data[8:24]), "\x00")
	return nil
}

// ADS states reported by READ_STATE.
const (
	StateInvalid uint16 = 0
	StateIdle    uint16 = 1
	StateReset   uint16 = 2
	StateInit    uint16 = 3
	StateStart   uint16 = 4
	StateRun     uint16 = 5
	StateStop    uint16 = 6
	StateConfig  uint16 = 15
)

// DeviceState is the reply to READ_STATE.
type DeviceState struct {
	Result      uint32
	AdsState    uint16
	DeviceState uint16
}

func (r *DeviceState) Marshal() []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint32(b[0:4], r.Result)
	binary.LittleEndian.PutUint16(b[4:6], r.AdsState)
	binary.LittleEndian.PutUint16(b[6:8], r.DeviceState)
	return b
}

func (r *DeviceState) Unmarshal(data []byte) error {
	if failed(data, &r.Result) {
		return nil
	}

	if len(data) < 8 {
		return ErrPayloadTooShort
	}

	r.Result = binary.LittleEndian.Uint32(data[0:4])
	r.AdsState = binary.LittleEndian.Uint16(data[4:6])
	r.DeviceState = binary.LittleEndian.Uint16(data[6:8])
	return nil
}

// ReadResponse is the reply to READ and READ_WRITE.
type ReadResponse struct {
	Result uint32
	Data   []byte
}

func (r *ReadResponse) Marshal() []byte {
	b := make([]byte, 8+len(r.Data))
	binary.LittleEndian.PutUint32(b[0:4], r.Result)
	binary.LittleEndian.PutUint32(b[4:8], uint32(len(r.Data)))
	copy(b[8:], r.Data)
	return b
}

// Unmarshal copies the data out of the payload so it stays valid after the
// receive buffer is reused.
func (r *ReadResponse) Unmarshal(data []byte) error {
	if failed(data, &r.Result) {
		return nil
	}

	if len(data) < 8 {
		return ErrPayloadTooShort
	}

	r.Result = binary.LittleEndian.Uint32(data[0:4])

	length := binary.LittleEndian.Uint32(data[4:8])
	if uint64(len(data)-8) < uint64(length) {
		return ErrPayloadTooShort
	}

	r.Data = append([]byte(nil), data[8:8+length]...)
	return nil
}

// AddNotificationResponse is the reply to ADD_DEVICE_NOTIFICATION.
type AddNotificationResponse struct {
	Result uint32
	Handle uint32
}

func (r *AddNotificationResponse) Marshal() []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint32(b[0:4], r.Result)
	binary.LittleEndian.PutUint32(b[4:8], r.Handle)
	return b
}

func (r *AddNotificationResponse) Unmarshal(data []byte) error {
	if failed(data, &r.Result) {
		return nil
	}

	if len(data) < 8 {
		return ErrPayloadTooShort
	}

	r.Result = binary.LittleEndian.Uint32(data[0:4])
	r.Handle = binary.LittleEndian.Uint32(data[4:8])
	return nil
}

var _ Marshalable = (*ResultResponse)(nil)
var _ Marshalable = (*DeviceInfo)(nil)
var _ Marshalable = (*DeviceState)(nil)
var _ Marshalable = (*ReadResponse)(nil)
var _ Marshalable = (*AddNotificationResponse)(nil)
