package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// NetID is the 6 byte AMS network identifier, written as 192.168.0.1.1.1.
// It has no relation to the IP address of the device even though it often
// looks like one.
type NetID [6]byte

func (n NetID) String() string {
	return fmt.Sprintf("%d.%d.%d.%d.%d.%d", n[0], n[1], n[2], n[3], n[4], n[5])
}

// ParseNetID parses the dotted form of a NetID.
func ParseNetID(s string) (NetID, error) {
	var id NetID

	parts := strings.Split(s, ".")
	if len(parts) != len(id) {
		return id, fmt.Errorf("Failed to parse NetID '%s': %w", s, ErrInvalidNetID)
	}

	for i, part := range parts {
		v, err := strconv.ParseUint(part, 10, 8)
		if err != nil {
			return id, fmt.Errorf("Failed to parse NetID '%s': %w", s, ErrInvalidNetID)
		}

		id[i] = byte(v)
	}

	return id, nil
}

// Addr is a protocol address: a NetID plus an AMS port.
type Addr struct {
	NetID NetID
	Port  uint16
}

func (a Addr) String() string {
	return a.NetID.String() + ":" + strconv.Itoa(int(a.Port))
}
