package protocol

import "fmt"

// AdsError is a non-zero result code returned by a device.
type AdsError uint32

const (
	ErrCodeTargetPortNotFound    AdsError = 0x006
	ErrCodeTargetMachineNotFound AdsError = 0x007
	ErrCodeDeviceError           AdsError = 0x700
	ErrCodeServiceNotSupported   AdsError = 0x701
	ErrCodeInvalidGroup          AdsError = 0x702
	ErrCodeInvalidOffset         AdsError = 0x703
	ErrCodeInvalidAccess         AdsError = 0x704
	ErrCodeInvalidSize           AdsError = 0x705
	ErrCodeInvalidData           AdsError = 0x706
	ErrCodeNotReady              AdsError = 0x707
	ErrCodeBusy                  AdsError = 0x708
	ErrCodeInvalidNotifyHandle   AdsError = 0x714
	ErrCodeClientTimeout         AdsError = 0x745
)

var errorTexts = map[AdsError]string{
	ErrCodeTargetPortNotFound:    "target port not found",
	ErrCodeTargetMachineNotFound: "target machine not found",
	ErrCodeDeviceError:           "general device error",
	ErrCodeServiceNotSupported:   "service is not supported by server",
	ErrCodeInvalidGroup:          "invalid index group",
	ErrCodeInvalidOffset:         "invalid index offset",
	ErrCodeInvalidAccess:         "reading/writing not permitted",
	ErrCodeInvalidSize:           "parameter size not correct",
	ErrCodeInvalidData:           "invalid parameter value(s)",
	ErrCodeNotReady:              "device is not in a ready state",
	ErrCodeBusy:                  "device is busy",
	ErrCodeInvalidNotifyHandle:   "notification handle is invalid",
	ErrCodeClientTimeout:         "timeout elapsed",
}

func (e AdsError) Error() string {
	if text, ok := errorTexts[e]; ok {
		return fmt.Sprintf("ads error 0x%x: %s", uint32(e), text)
	}

	return fmt.Sprintf("ads error 0x%x", uint32(e))
}
