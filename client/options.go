package client

import (
	"go.uber.org/zap"

	"github.com/luma/ams/protocol"
)

const (
	DefaultPortBase               = 30000
	DefaultNumPorts               = 128
	DefaultFrameSize              = 4096
	DefaultNotificationBufferSize = 4 * 1024 * 1024
)

type Options struct {
	// LocalNetID is the source NetID of requests built by the helpers
	LocalNetID protocol.NetID

	// PortBase is the first local port with a response slot
	PortBase uint16

	// NumPorts is the number of response slots, one per local port
	NumPorts int

	// FrameSize bounds the payload of a single response. Larger responses
	// are dropped.
	FrameSize int

	// NotificationBufferSize is the ring buffer size of each notification
	// dispatcher
	NotificationBufferSize int

	Log *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.PortBase == 0 {
		o.PortBase = DefaultPortBase
	}

	if o.NumPorts < 1 {
		o.NumPorts = DefaultNumPorts
	}

	if o.FrameSize < 1 {
		o.FrameSize = DefaultFrameSize
	}

	if o.NotificationBufferSize < 1 {
		o.NotificationBufferSize = DefaultNotificationBufferSize
	}

	if o.Log == nil {
		o.Log = zap.NewNop()
	}

	return o
}
