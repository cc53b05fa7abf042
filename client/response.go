package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/luma/ams/frame"
)

// Response is the slot of a single local port. It holds the invoke id of the
// request in flight on that port, zero when the port is free, and the frame
// the receive loop copies the reply into.
type Response struct {
	invokeID uint32

	// mu guards frame and answered while the receive loop fills them, so a
	// concurrent Release never observes a half written frame.
	mu       sync.Mutex
	frame    *frame.Frame
	answered bool

	signal chan struct{}
	closed <-chan struct{}
}

func (r *Response) init(frameSize int, closed <-chan struct{}) {
	r.frame = frame.New(frameSize)
	r.signal = make(chan struct{}, 1)
	r.closed = closed
}

// InvokeID is the id of the request currently using the slot, or zero.
func (r *Response) InvokeID() uint32 {
	return atomic.LoadUint32(&r.invokeID)
}

// Wait blocks until the reply arrives, timeout elapses or the connection
// stops. It reports whether the reply arrived.
func (r *Response) Wait(timeout time.Duration) bool {
	select {
	case <-r.signal:
		return true

	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-r.signal:
		return true

	case <-timer.C:
		return false

	case <-r.closed:
		return false
	}
}

// WaitContext is Wait with the deadline taken from ctx.
func (r *Response) WaitContext(ctx context.Context) error {
	select {
	case <-r.signal:
		return nil

	default:
	}

	select {
	case <-r.signal:
		return nil

	case <-ctx.Done():
		return ctx.Err()

	case <-r.closed:
		return ErrClosed
	}
}

// Bytes returns the reply payload. It is empty when the reply was too large
// for the slot or carried an unknown command, and only valid until Release.
func (r *Response) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.frame.Bytes()
}

// deliver fills the frame of a slot still claimed by id and wakes the
// waiter. It reports false, without calling fill, when the slot was
// released or already answered in the meantime.
func (r *Response) deliver(id uint32, fill func(f *frame.Frame) error) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if atomic.LoadUint32(&r.invokeID) != id || r.answered {
		return false, nil
	}

	if err := fill(r.frame); err != nil {
		return true, err
	}

	r.answered = true

	select {
	case r.signal <- struct{}{}:
	default:
	}

	return true, nil
}

func (r *Response) release() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.frame.Clear()
	r.answered = false

	select {
	case <-r.signal:
	default:
	}

	atomic.StoreUint32(&r.invokeID, 0)
}

func (c *Conn) slot(port uint16) *Response {
	if port < c.portBase {
		return nil
	}

	i := int(port - c.portBase)
	if i >= len(c.responses) {
		return nil
	}

	return &c.responses[i]
}

// Reserve claims the response slot of port for invoke id. It fails with
// ErrPortInUse, leaving the slot untouched, if the port already has a
// request in flight.
func (c *Conn) Reserve(id uint32, port uint16) (*Response, error) {
	response := c.slot(port)
	if response == nil {
		return nil, ErrPortOutOfRange
	}

	if !atomic.CompareAndSwapUint32(&response.invokeID, 0, id) {
		c.log.Warn("Port already in use",
			zap.Uint16("port", port),
			zap.Uint32("invokeID", response.InvokeID()))
		return nil, ErrPortInUse
	}

	return response, nil
}

// GetPending returns the slot of port if it is waiting for invoke id, nil
// otherwise.
func (c *Conn) GetPending(id uint32, port uint16) *Response {
	response := c.slot(port)
	if response == nil {
		c.log.Warn("Response for unknown port", zap.Uint16("port", port))
		return nil
	}

	if current := response.InvokeID(); current != id {
		c.log.Warn("InvokeID mismatch",
			zap.Uint16("port", port),
			zap.Uint32("waiting", current),
			zap.Uint32("received", id))
		return nil
	}

	return response
}

// Release clears the slot and frees its port for the next request. Releasing
// a free slot, or nil, does nothing.
func (c *Conn) Release(response *Response) {
	if response == nil {
		return
	}

	response.release()
}
