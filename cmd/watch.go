package cmd

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidWatch = errors.New("Watch must be <name>=<indexGroup>:<indexOffset>:<length>")

// watch is a variable subscribed to by the monitor command.
type watch struct {
	Name        string
	IndexGroup  uint32
	IndexOffset uint32
	Length      uint32
}

// parseWatch parses name=group:offset:length. Numbers may be given in any
// base strconv understands, 0x4020 for example.
func parseWatch(s string) (watch, error) {
	var w watch

	name, location := splitOnce(s, "=")
	if name == "" || location == "" {
		return w, fmt.Errorf("Failed to parse '%s': %w", s, ErrInvalidWatch)
	}

	parts := strings.Split(location, ":")
	if len(parts) != 3 {
		return w, fmt.Errorf("Failed to parse '%s': %w", s, ErrInvalidWatch)
	}

	var numbers [3]uint32
	for i, part := range parts {
		v, err := strconv.ParseUint(part, 0, 32)
		if err != nil {
			return w, fmt.Errorf("Failed to parse '%s': %w", s, ErrInvalidWatch)
		}

		numbers[i] = uint32(v)
	}

	if numbers[2] == 0 {
		return w, fmt.Errorf("Failed to parse '%s', length is zero: %w", s, ErrInvalidWatch)
	}

	w.Name = name
	w.IndexGroup, w.IndexOffset, w.Length = numbers[0], numbers[1], numbers[2]

	return w, nil
}

func splitOnce(s, sep string) (string, string) {
	i := strings.Index(s, sep)
	if i < 0 {
		return s, ""
	}

	return s[:i], s[i+len(sep):]
}

// watchValue is what the monitor stores for the latest sample of a watch.
// Value is the little endian reading of samples up to 8 bytes long.
type watchValue struct {
	Timestamp time.Time `json:"timestamp"`
	Hex       string    `json:"hex"`
	Value     *uint64   `json:"value,omitempty"`
}

func newWatchValue(timestamp time.Time, data []byte) watchValue {
	v := watchValue{
		Timestamp: timestamp,
		Hex:       hex.EncodeToString(data),
	}

	if len(data) <= 8 {
		var b [8]byte
		copy(b[:], data)

		value := binary.LittleEndian.Uint64(b[:])
		v.Value = &value
	}

	return v
}
