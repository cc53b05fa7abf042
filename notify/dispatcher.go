// Package notify buffers device notifications per virtual connection and
// fans them out to the registered callbacks.
package notify

import (
	"encoding/binary"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/luma/ams/protocol"
	"github.com/luma/ams/ring"
)

// RecordHeaderSize is the length prefix written in front of every payload
// deposited in a dispatcher's ring.
const RecordHeaderSize = 4

// VirtualConnection identifies a subscription channel: the local port the
// notifications are sent to and the address of the device sending them.
type VirtualConnection struct {
	Port uint16
	Addr protocol.Addr
}

// Notification is a single sample delivered to a Callback. Data is only valid
// for the duration of the callback.
type Notification struct {
	Handle    uint32
	Timestamp time.Time
	Data      []byte
}

// Callback receives the samples of one notification handle. It runs on the
// dispatcher goroutine and must not block for long, the ring fills up and
// further notifications are dropped while it does.
type Callback func(source protocol.Addr, n *Notification, user uint32)

type registration struct {
	callback Callback
	user     uint32
	length   uint32
}

// Dispatcher owns the ring buffer of one virtual connection. The connection
// receive loop is its only producer and the dispatcher goroutine its only
// consumer.
type Dispatcher struct {
	conn VirtualConnection
	ring *ring.Ring

	mu            sync.RWMutex
	registrations map[uint32]registration

	signal   chan struct{}
	stop     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	scratch []byte

	log *zap.Logger
}

// NewDispatcher creates a dispatcher with a ring of bufferSize bytes and
// starts its consumer goroutine. Stop it with Close.
func NewDispatcher(conn VirtualConnection, bufferSize int, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}

	d := &Dispatcher{
		conn:          conn,
		ring:          ring.New(bufferSize),
		registrations: make(map[uint32]registration),
		signal:        make(chan struct{}, 1),
		stop:          make(chan struct{}),
		stopped:       make(chan struct{}),
		log:           log.With(zap.Uint16("port", conn.Port), zap.Stringer("source", conn.Addr)),
	}

	go d.run()

	return d
}

func (d *Dispatcher) Connection() VirtualConnection {
	return d.conn
}

// Ring is the producer side of the dispatcher. Only the receive loop may
// write to it.
func (d *Dispatcher) Ring() *ring.Ring {
	return d.ring
}

// Emplace registers callback for notification handle, replacing any
// previous registration. Samples longer than length are truncated.
func (d *Dispatcher) Emplace(handle uint32, callback Callback, user uint32, length uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.registrations[handle] = registration{
		callback: callback,
		user:     user,
		length:   length,
	}
}

// Erase drops the registration of handle and reports whether there was one.
func (d *Dispatcher) Erase(handle uint32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := d.registrations[handle]
	delete(d.registrations, handle)

	return ok
}

// Len returns the number of registered handles.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return len(d.registrations)
}

// BeginRecord checks that a payload of n bytes plus its record header fits
// in the ring and, if it does, writes the header. The caller must then write
// exactly n bytes and call Notify.
func (d *Dispatcher) BeginRecord(n int) bool {
	if n+RecordHeaderSize > d.ring.BytesFree() {
		return false
	}

	var header [RecordHeaderSize]byte
	binary.LittleEndian.PutUint32(header[:], uint32(n))

	return d.ring.Write(header[:])
}

// Notify wakes the consumer. It never blocks.
func (d *Dispatcher) Notify() {
	select {
	case d.signal <- struct{}{}:
	default:
		// A wake up is already pending
	}
}

// Close stops the consumer goroutine and waits for it to exit. Buffered
// notifications that were not dispatched yet are dropped.
func (d *Dispatcher) Close() {
	d.stopOnce.Do(func() {
		close(d.stop)
	})

	<-d.stopped
}

func (d *Dispatcher) run() {
	defer close(d.stopped)

	for {
		select {
		case <-d.stop:
			return

		case <-d.signal:
			d.drain()
		}
	}
}

// drain dispatches every complete record in the ring. A record whose
// payload is still being copied stays put until the next signal.
func (d *Dispatcher) drain() {
	for {
		var header [RecordHeaderSize]byte
		if d.ring.Peek(header[:]) < RecordHeaderSize {
			return
		}

		n := int(binary.LittleEndian.Uint32(header[:]))
		if d.ring.BytesAvailable() < RecordHeaderSize+n {
			return
		}

		d.ring.Consume(RecordHeaderSize)

		if cap(d.scratch) < n {
			d.scratch = make([]byte, n)
		}

		payload := d.scratch[:n]
		d.ring.Read(payload)

		d.dispatch(payload)
	}
}

func (d *Dispatcher) dispatch(payload []byte) {
	stamps, err := protocol.UnmarshalNotificationStream(payload)
	if err != nil {
		d.log.Warn("Dropping malformed notification",
			zap.Int("length", len(payload)),
			zap.Error(err))
		return
	}

	for _, stamp := range stamps {
		for _, sample := range stamp.Samples {
			d.mu.RLock()
			reg, ok := d.registrations[sample.Handle]
			d.mu.RUnlock()

			if !ok {
				d.log.Debug("No callback for notification handle",
					zap.Uint32("handle", sample.Handle))
				continue
			}

			data := sample.Data
			if uint32(len(data)) > reg.length {
				data = data[:reg.length]
			}

			reg.callback(d.conn.Addr, &Notification{
				Handle:    sample.Handle,
				Timestamp: stamp.Timestamp,
				Data:      data,
			}, reg.user)
		}
	}
}
