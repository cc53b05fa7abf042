package protocol

import (
	"encoding/binary"
	"time"
)

// fileTimeEpochOffset is the number of 100ns ticks between 1601-01-01 and
// 1970-01-01.
const fileTimeEpochOffset = 116444736000000000

// FileTime converts t to a Windows FILETIME as used by notification stamps.
func FileTime(t time.Time) uint64 {
	return uint64(t.UnixNano()/100 + fileTimeEpochOffset)
}

// TimeFromFileTime converts a Windows FILETIME to a time.Time in UTC.
func TimeFromFileTime(ft uint64) time.Time {
	return time.Unix(0, (int64(ft)-fileTimeEpochOffset)*100).UTC()
}

// Sample is the value of a single notification handle.
type Sample struct {
	Handle uint32
	Data   []byte
}

// Stamp groups the samples taken at the same time.
type Stamp struct {
	Timestamp time.Time
	Samples   []Sample
}

// MarshalNotificationStream encodes stamps as the payload of a
// DEVICE_NOTIFICATION frame.
func MarshalNotificationStream(stamps []Stamp) []byte {
	size := 8
	for _, stamp := range stamps {
		size += 12
		for _, sample := range stamp.Samples {
			size += 8 + len(sample.Data)
		}
	}

	b := make([]byte, size)
	binary.LittleEndian.PutUint32(b[0:4], uint32(size-4))
	binary.LittleEndian.PutUint32(b[4:8], uint32(len(stamps)))

	pos := 8
	for _, stamp := range stamps {
		binary.LittleEndian.PutUint64(b[pos:], FileTime(stamp.Timestamp))
		binary.LittleEndian.PutUint32(b[pos+8:], uint32(len(stamp.Samples)))
		pos += 12

		for _, sample := range stamp.Samples {
			binary.LittleEndian.PutUint32(b[pos:], sample.Handle)
			binary.LittleEndian.PutUint32(b[pos+4:], uint32(len(sample.Data)))
			pos += 8
			pos += copy(b[pos:], sample.Data)
		}
	}

	return b
}

// NotificationStreamLength returns the total size of the stream starting at
// data, including its own length field.
func NotificationStreamLength(data []byte) (int, error) {
	if len(data) < 4 {
		return 0, ErrNotificationTooShort
	}

	return 4 + int(binary.LittleEndian.Uint32(data)), nil
}

// UnmarshalNotificationStream decodes a DEVICE_NOTIFICATION payload. Sample
// data aliases data.
func UnmarshalNotificationStream(data []byte) ([]Stamp, error) {
	total, err := NotificationStreamLength(data)
	if err != nil {
		return nil, err
	}

	if total > len(data) || total < 8 {
		return nil, ErrNotificationTooShort
	}

	data = data[:total]
	count := binary.LittleEndian.Uint32(data[4:8])
	pos := 8

	stamps := make([]Stamp, 0, minInt(int(count), (total-8)/12))
	for i := uint32(0); i < count; i++ {
		if len(data)-pos < 12 {
			return nil, ErrNotificationTooShort
		}

		stamp := Stamp{
			Timestamp: TimeFromFileTime(binary.LittleEndian.Uint64(data[pos:])),
		}
		samples := binary.LittleEndian.Uint32(data[pos+8:])
		pos += 12

		for j := uint32(0); j < samples; j++ {
			if len(data)-pos < 8 {
				return nil, ErrNotificationTooShort
			}

			handle := binary.LittleEndian.Uint32(data[pos:])
			size := binary.LittleEndian.Uint32(data[pos+4:])
			pos += 8

			if uint64(len(data)-pos) < uint64(size) {
				return nil, ErrNotificationTooShort
			}

			stamp.Samples = append(stamp.Samples, Sample{
				Handle: handle,
				Data:   data[pos : pos+int(size)],
			})
			pos += int(size)
		}

		stamps = append(stamps, stamp)
	}

	return stamps, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
