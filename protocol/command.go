package protocol

import "fmt"

// CommandID identifies the ADS command carried by a frame.
type CommandID uint16

const (
	CmdInvalid               CommandID = 0
	CmdReadDeviceInfo        CommandID = 1
	CmdRead                  CommandID = 2
	CmdWrite                 CommandID = 3
	CmdReadState             CommandID = 4
	CmdWriteControl          CommandID = 5
	CmdAddDeviceNotification CommandID = 6
	CmdDelDeviceNotification CommandID = 7
	CmdDeviceNotification    CommandID = 8
	CmdReadWrite             CommandID = 9
)

// State flags of the AoE header.
const (
	StateFlagResponse uint16 = 0x0001
	StateFlagADS      uint16 = 0x0004

	StateFlagsRequest  = StateFlagADS
	StateFlagsResponse = StateFlagADS | StateFlagResponse
)

// IsResponseKind reports whether replies to this command are correlated with a
// pending request. DEVICE_NOTIFICATION is pushed by the device and is not.
func (c CommandID) IsResponseKind() bool {
	switch c {
	case CmdReadDeviceInfo,
		CmdRead,
		CmdWrite,
		CmdReadState,
		CmdWriteControl,
		CmdAddDeviceNotification,
		CmdDelDeviceNotification,
		CmdReadWrite:
		return true
	}

	return false
}

func (c CommandID) String() string {
	switch c {
	case CmdInvalid:
		return "INVALID"
	case CmdReadDeviceInfo:
		return "READ_DEVICE_INFO"
	case CmdRead:
		return "READ"
	case CmdWrite:
		return "WRITE"
	case CmdReadState:
		return "READ_STATE"
	case CmdWriteControl:
		return "WRITE_CONTROL"
	case CmdAddDeviceNotification:
		return "ADD_DEVICE_NOTIFICATION"
	case CmdDelDeviceNotification:
		return "DEL_DEVICE_NOTIFICATION"
	case CmdDeviceNotification:
		return "DEVICE_NOTIFICATION"
	case CmdReadWrite:
		return "READ_WRITE"
	default:
		return fmt.Sprintf("CommandID(%d)", uint16(c))
	}
}
