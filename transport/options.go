package transport

import (
	"go.uber.org/zap"
)

type Options struct {
	// Host to listen on
	Host string

	// Port to listen on, 0 picks a free port and forces a single listener
	Port int

	// Reuseport controls setting SO_REUSEPORT
	Reuseport bool

	NumListeners int

	// MaxPayload bounds the payload of a single incoming frame. Larger frames
	// are drained and dropped.
	MaxPayload int

	// Handler receives every well formed frame
	Handler Handler

	Log *zap.Logger
}
