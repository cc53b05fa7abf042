package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/luma/ams/frame"
	"github.com/luma/ams/notify"
	"github.com/luma/ams/protocol"
	"github.com/luma/ams/transport"
)

var (
	ErrPortInUse      = errors.New("Port already has a request in flight")
	ErrPortOutOfRange = errors.New("Port is outside of the range served by this connection")
	ErrShortWrite     = errors.New("Request was not written to the connection in full")
	ErrClosed         = errors.New("Connection is closed")
	ErrTimeout        = errors.New("Timed out waiting for a response")
)

// Socket is the byte stream a Conn runs on. Shutdown must make a Read that
// is blocked in another goroutine return an error.
type Socket interface {
	io.Reader
	io.Writer
	Shutdown() error
}

// Conn multiplexes requests from many local ports and device notifications
// over a single AMS/TCP connection.
//
// Each local port can have one request in flight. Responses are matched to
// the waiting request by invoke id and port, notifications are routed to the
// dispatcher of their (port, source address) pair.
type Conn struct {
	sock    Socket
	writeMu sync.Mutex

	localNetID protocol.NetID
	portBase   uint16
	responses  []Response

	invokeIDs invokeIDs

	dispatchers *notify.Registry

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	log *zap.Logger
}

// New starts the receive loop on sock. The Conn owns sock from now on and
// shuts it down in Close.
func New(sock Socket, options Options) *Conn {
	options = options.withDefaults()

	c := &Conn{
		sock:        sock,
		localNetID:  options.LocalNetID,
		portBase:    options.PortBase,
		responses:   make([]Response, options.NumPorts),
		dispatchers: notify.NewRegistry(options.NotificationBufferSize, options.Log.Named("notify")),
		done:        make(chan struct{}),
		log:         options.Log,
	}

	for i := range c.responses {
		c.responses[i].init(options.FrameSize, c.done)
	}

	go c.receiveLoop()

	return c
}

// Dial connects to an AMS router at address and starts a Conn on the
// connection.
func Dial(ctx context.Context, network, address string, options Options) (*Conn, error) {
	sock, err := transport.Dial(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("Failed to connect to %s: %w", address, err)
	}

	return New(sock, options), nil
}

// LocalNetID is the NetID used as source address by the request helpers.
func (c *Conn) LocalNetID() protocol.NetID {
	return c.localNetID
}

// Done is closed once the receive loop has exited. The connection is
// unusable from then on.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close shuts the socket down and waits for the receive loop and all
// notification dispatchers to stop.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.log.Info("Closing connection")

		c.closeErr = c.sock.Shutdown()
		<-c.done

		c.dispatchers.Close()
	})

	return c.closeErr
}

// GetInvokeID returns a fresh, non-zero invoke id.
func (c *Conn) GetInvokeID() uint32 {
	return c.invokeIDs.Next()
}

// Write reserves the response slot of src.Port, wraps the payload held by
// request with the protocol headers and sends the frame. A request that
// fails to reserve the slot is left as it was and can be written again.
//
// The returned Response must be released with Release once the caller is
// done with it, whether Wait succeeded or not.
func (c *Conn) Write(
	request *frame.Frame,
	dest protocol.Addr,
	src protocol.Addr,
	cmdID protocol.CommandID,
) (*Response, error) {
	if !c.isRunning() {
		return nil, ErrClosed
	}

	header := protocol.AoEHeader{
		Target:     dest,
		Source:     src,
		CmdID:      cmdID,
		StateFlags: protocol.StateFlagsRequest,
		InvokeID:   c.GetInvokeID(),
	}

	// request is left untouched when the port cannot be reserved
	response, err := c.Reserve(header.InvokeID, src.Port)
	if err != nil {
		return nil, err
	}

	protocol.PrependHeaders(request, &header)

	c.writeMu.Lock()
	n, err := c.sock.Write(request.Bytes())
	c.writeMu.Unlock()

	if err != nil {
		c.Release(response)
		return nil, fmt.Errorf("Failed to write %s request: %w", cmdID, err)
	}

	if n != request.Len() {
		c.Release(response)
		return nil, fmt.Errorf("Failed to write %s request, wrote %d of %d bytes: %w",
			cmdID, n, request.Len(), ErrShortWrite)
	}

	return response, nil
}

// CreateNotifyMapping registers callback for notifications with handle
// hNotify that the device at addr sends to port.
func (c *Conn) CreateNotifyMapping(
	port uint16,
	addr protocol.Addr,
	callback notify.Callback,
	hUser uint32,
	length uint32,
	hNotify uint32,
) notify.NotificationID {
	dispatcher := c.dispatchers.Add(notify.VirtualConnection{Port: port, Addr: addr})
	dispatcher.Emplace(hNotify, callback, hUser, length)

	return notify.NotificationID{Handle: hNotify, Dispatcher: dispatcher}
}

// isRunning returns true while the receive loop is running
func (c *Conn) isRunning() bool {
	select {
	case <-c.done:
		return false

	default:
		return true
	}
}
