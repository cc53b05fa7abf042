package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"runtime"
	"strconv"
	"sync"

	reuseport "github.com/kavu/go_reuseport"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/ams/protocol"
)

const (
	WriteQueueSize    = 127
	DefaultMaxPayload = 1024 * 1024
)

var ErrConnClosed = errors.New("Connection is closed")

// Handler serves the frames read from the connections of a TCP server. It is
// called from the read loop of each connection, concurrently for different
// connections.
type Handler interface {
	ServeFrame(conn *TCPConn, header *protocol.AoEHeader, payload []byte)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(conn *TCPConn, header *protocol.AoEHeader, payload []byte)

func (f HandlerFunc) ServeFrame(conn *TCPConn, header *protocol.AoEHeader, payload []byte) {
	f(conn, header, payload)
}

// TCP is the device side of AMS/TCP: it accepts connections and feeds the
// frames they carry to a Handler.
type TCP struct {
	cancel     context.CancelFunc
	stopWaiter sync.WaitGroup

	addr string

	numListeners int
	listeners    []*TCPListener
	reuseport    bool

	maxPayload int
	handler    Handler

	log *zap.Logger
}

func NewTCP(options Options) *TCP {
	numListeners := options.NumListeners

	if numListeners < 1 {
		numListeners = runtime.NumCPU()
	}

	if options.Port == 0 || !options.Reuseport {
		// Only SO_REUSEPORT lets listeners share a port
		numListeners = 1
	}

	maxPayload := options.MaxPayload
	if maxPayload < 1 {
		maxPayload = DefaultMaxPayload
	}

	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	return &TCP{
		addr:         net.JoinHostPort(options.Host, strconv.Itoa(options.Port)),
		numListeners: numListeners,
		listeners:    make([]*TCPListener, 0, numListeners),
		reuseport:    options.Reuseport,
		maxPayload:   maxPayload,
		handler:      options.Handler,
		log:          log,
	}
}

// Start binds every listener before returning, so clients can connect as soon
// as it succeeds.
func (w *TCP) Start(parentCtx context.Context) error {
	ctx, cancel := context.WithCancel(parentCtx)
	w.cancel = cancel

	w.log.Info("Starting tcp listeners", zap.Int("count", w.numListeners))

	for i := 0; i < w.numListeners; i++ {
		if err := w.startListener(ctx); err != nil {
			cancel()
			return multierr.Append(err, w.closeListeners())
		}
	}

	return nil
}

// Addr returns the address the first listener is bound to.
func (w *TCP) Addr() net.Addr {
	if len(w.listeners) == 0 {
		return nil
	}

	return w.listeners[0].Addr()
}

func (w *TCP) startListener(ctx context.Context) error {
	listener := NewTCPListener(
		ctx,
		w.maxPayload,
		w.handler,
		w.log.Named("listener").With(zap.Int("listener", len(w.listeners))),
	)

	if err := listener.Bind(w.addr, w.reuseport); err != nil {
		return err
	}

	w.listeners = append(w.listeners, listener)

	w.stopWaiter.Add(1)
	go func() {
		defer w.stopWaiter.Done()

		if err := listener.Serve(); err != nil {
			w.log.Error("Listener failed", zap.Error(err))
		}
	}()

	return nil
}

// Broadcast writes a frame to every connected client.
func (w *TCP) Broadcast(header *protocol.AoEHeader, payload []byte) (err error) {
	for _, listener := range w.listeners {
		err = multierr.Append(err, listener.Broadcast(header, payload))
	}

	return err
}

// Close immediately closes all listeners and connections and waits for
// their loops to exit.
func (w *TCP) Close() error {
	w.log.Info("Stopping TCP server")

	if w.cancel != nil {
		w.cancel()
	}

	err := w.closeListeners()

	w.stopWaiter.Wait()
	w.log.Info("Listeners stopped")

	return err
}

func (w *TCP) closeListeners() (err error) {
	for _, listener := range w.listeners {
		err = multierr.Append(err, listener.Close())
	}

	return err
}

type TCPListener struct {
	ctx context.Context

	listener   net.Listener
	loopWaiter sync.WaitGroup

	mu          sync.Mutex
	activeConns map[*TCPConn]struct{}

	maxPayload int
	handler    Handler

	log *zap.Logger
}

func NewTCPListener(
	ctx context.Context,
	maxPayload int,
	handler Handler,
	log *zap.Logger,
) *TCPListener {
	return &TCPListener{
		ctx:         ctx,
		activeConns: make(map[*TCPConn]struct{}),
		maxPayload:  maxPayload,
		handler:     handler,
		log:         log,
	}
}

func (t *TCPListener) Bind(addr string, reuse bool) (err error) {
	if reuse {
		t.listener, err = reuseport.Listen("tcp", addr)
	} else {
		t.listener, err = net.Listen("tcp", addr)
	}

	return err
}

func (t *TCPListener) Addr() net.Addr {
	return t.listener.Addr()
}

// Close closes the listener and every connection it accepted.
func (t *TCPListener) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	err := t.listener.Close()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}

	for conn := range t.activeConns {
		err = multierr.Append(err, conn.Close())
		delete(t.activeConns, conn)
	}

	return err
}

// Serve accepts connections until the listener is closed.
func (t *TCPListener) Serve() error {
	go func() {
		<-t.ctx.Done()

		t.log.Info("Closing listener")
		if err := t.Close(); err != nil {
			t.log.Warn("TCP Listener did not close cleanly", zap.Error(err))
		}
	}()

	defer func() {
		t.log.Info("Waiting for Read/Write loops to stop")
		t.loopWaiter.Wait()
		t.log.Info("Listener stopped")
	}()

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				// The listener was closed while we were waiting for new
				// connections, that's fine.
				return nil
			}

			return err
		}

		tcpConn := NewTCPConn(t.ctx, conn, t.maxPayload, t.handler, t.log.Named("conn"))

		if !t.addConn(tcpConn) {
			tcpConn.Close()
			return nil
		}

		t.loopWaiter.Add(1)
		go func() {
			defer t.loopWaiter.Done()
			defer t.removeConn(tcpConn)

			tcpConn.Start()
		}()
	}
}

func (t *TCPListener) Broadcast(header *protocol.AoEHeader, payload []byte) (err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for conn := range t.activeConns {
		if werr := conn.WriteFrame(header, payload); werr != nil {
			err = multierr.Append(err, werr)
		}
	}

	return err
}

// addConn tracks conn unless the listener is shutting down.
func (t *TCPListener) addConn(conn *TCPConn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ctx.Err() != nil {
		return false
	}

	t.activeConns[conn] = struct{}{}
	return true
}

func (t *TCPListener) removeConn(conn *TCPConn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.activeConns, conn)
}

type TCPConn struct {
	ctx        context.Context
	cancel     context.CancelFunc
	loopWaiter sync.WaitGroup

	conn       net.Conn
	maxPayload int
	handler    Handler

	writeQueue chan []byte
	closeOnce  sync.Once

	log *zap.Logger
}

func NewTCPConn(
	parentCtx context.Context,
	conn net.Conn,
	maxPayload int,
	handler Handler,
	log *zap.Logger,
) *TCPConn {
	ctx, cancel := context.WithCancel(parentCtx)

	return &TCPConn{
		ctx:        ctx,
		cancel:     cancel,
		conn:       conn,
		maxPayload: maxPayload,
		handler:    handler,
		writeQueue: make(chan []byte, WriteQueueSize),
		log:        log.With(zap.Stringer("remote", conn.RemoteAddr())),
	}
}

// Close stops the read/write loops and closes the connection. It does not
// wait for the loops, Start returns once they have exited.
func (t *TCPConn) Close() (err error) {
	t.closeOnce.Do(func() {
		t.cancel()
		err = t.conn.Close()
	})

	return err
}

// Start runs the read and write loops and blocks until both exited.
func (t *TCPConn) Start() {
	t.loopWaiter.Add(2)

	go func() {
		defer t.loopWaiter.Done()
		t.ReadLoop()
	}()

	go func() {
		defer t.loopWaiter.Done()
		t.WriteLoop()
	}()

	t.loopWaiter.Wait()
}

func (t *TCPConn) ReadLoop() {
	log := t.log.Named("readLoop")

	defer func() {
		// Stop the write loop with us
		t.cancel()
		log.Info("Read loop exited")
	}()

	for {
		header, payload, err := protocol.ReadFrame(t.conn, t.maxPayload)
		if err != nil {
			if errors.Is(err, protocol.ErrFrameTooShort) ||
				errors.Is(err, protocol.ErrFrameLengthMismatch) ||
				errors.Is(err, protocol.ErrPayloadTooLarge) {
				// The frame was drained, the stream is still aligned
				log.Warn("Dropped malformed frame", zap.Error(err))
				continue
			}

			if !t.isRunning() || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				log.Info("Connection closed, exiting...")
				return
			}

			log.Warn("Failed to read client frame", zap.Error(err))
			return
		}

		t.handler.ServeFrame(t, header, payload)
	}
}

func (t *TCPConn) WriteLoop() {
	log := t.log.Named("writeLoop")

	defer func() {
		// Unblock the read loop
		t.Close()
		log.Info("Write loop exited")
	}()

	for {
		select {
		case <-t.ctx.Done():
			return

		case data := <-t.writeQueue:
			if _, err := t.conn.Write(data); err != nil {
				log.Error("Failed to write from write queue",
					zap.Int("length", len(data)),
					zap.Error(err))
				t.cancel()
				return
			}
		}
	}
}

// Write queues data for the write loop. Each call is written to the
// connection in one piece.
func (t *TCPConn) Write(data []byte) (int, error) {
	select {
	case t.writeQueue <- data:
		return len(data), nil

	case <-t.ctx.Done():
		return 0, ErrConnClosed
	}
}

func (t *TCPConn) WriteFrame(header *protocol.AoEHeader, payload []byte) error {
	return protocol.WriteFrame(t, header, payload)
}

// isRunning returns true if Close has not been called
func (t *TCPConn) isRunning() bool {
	select {
	case <-t.ctx.Done():
		// if we can read on this channel then it's been closed
		return false

	default:
		return true
	}
}
