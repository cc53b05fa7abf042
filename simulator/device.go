// Package simulator implements an AMS device for tests and local development.
//
// It answers READ_DEVICE_INFO, READ_STATE, WRITE_CONTROL, READ, WRITE and the
// notification commands from an in-memory variable table, and pushes device
// notifications when subscribed variables change.
package simulator

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/luma/ams/protocol"
	"github.com/luma/ams/transport"
)

type Options struct {
	// Addr is the AMS address of the device
	Addr protocol.Addr

	Info protocol.DeviceInfo

	// Host and Port to accept AMS/TCP connections on
	Host string
	Port int

	Reuseport bool

	Log *zap.Logger
}

type variable struct {
	group  uint32
	offset uint32
}

type subscription struct {
	conn   *transport.TCPConn
	client protocol.Addr
	target variable
	length uint32
}

type Device struct {
	addr protocol.Addr
	info protocol.DeviceInfo
	tcp  *transport.TCP

	mu            sync.Mutex
	adsState      uint16
	deviceState   uint16
	memory        map[variable][]byte
	subscriptions map[uint32]subscription
	lastHandle    uint32
	requests      map[protocol.CommandID]int

	log *zap.Logger
}

func New(options Options) *Device {
	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	d := &Device{
		addr:          options.Addr,
		info:          options.Info,
		adsState:      protocol.StateRun,
		memory:        make(map[variable][]byte),
		subscriptions: make(map[uint32]subscription),
		requests:      make(map[protocol.CommandID]int),
		log:           log,
	}

	d.tcp = transport.NewTCP(transport.Options{
		Host:      options.Host,
		Port:      options.Port,
		Reuseport: options.Reuseport,
		Handler:   d,
		Log:       log.Named("transport"),
	})

	return d
}

func (d *Device) Start(ctx context.Context) error {
	return d.tcp.Start(ctx)
}

func (d *Device) Close() error {
	return d.tcp.Close()
}

// Addr is the TCP address the device listens on.
func (d *Device) Addr() net.Addr {
	return d.tcp.Addr()
}

// AmsAddr is the AMS address of the device.
func (d *Device) AmsAddr() protocol.Addr {
	return d.addr
}

func (d *Device) SetState(adsState, deviceState uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.adsState = adsState
	d.deviceState = deviceState
}

// Requests returns how many requests of cmdID the device has served.
func (d *Device) Requests(cmdID protocol.CommandID) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.requests[cmdID]
}

// Subscriptions returns the number of active notification handles.
func (d *Device) Subscriptions() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.subscriptions)
}

// SetValue stores data at group/offset and notifies every subscriber of that
// variable.
func (d *Device) SetValue(group, offset uint32, data []byte) error {
	target := variable{group: group, offset: offset}

	d.mu.Lock()
	d.memory[target] = append([]byte(nil), data...)

	var subscribers []uint32
	for handle, sub := range d.subscriptions {
		if sub.target == target {
			subscribers = append(subscribers, handle)
		}
	}
	d.mu.Unlock()

	for _, handle := range subscribers {
		if err := d.Notify(handle, data); err != nil {
			return err
		}
	}

	return nil
}

// Notify pushes a single sample for handle to its subscriber.
func (d *Device) Notify(handle uint32, data []byte) error {
	d.mu.Lock()
	sub, ok := d.subscriptions[handle]
	d.mu.Unlock()

	if !ok {
		return protocol.ErrCodeInvalidNotifyHandle
	}

	if uint32(len(data)) > sub.length {
		data = data[:sub.length]
	}

	payload := protocol.MarshalNotificationStream([]protocol.Stamp{
		{Timestamp: time.Now(), Samples: []protocol.Sample{{Handle: handle, Data: data}}},
	})

	return sub.conn.WriteFrame(&protocol.AoEHeader{
		Target:     sub.client,
		Source:     d.addr,
		CmdID:      protocol.CmdDeviceNotification,
		StateFlags: protocol.StateFlagsRequest,
	}, payload)
}

// ServeFrame answers a single request.
func (d *Device) ServeFrame(conn *transport.TCPConn, header *protocol.AoEHeader, payload []byte) {
	log := d.log.With(
		zap.Stringer("cmdID", header.CmdID),
		zap.Uint32("invokeID", header.InvokeID))

	d.mu.Lock()
	d.requests[header.CmdID]++
	d.mu.Unlock()

	if header.Target.Port != d.addr.Port {
		d.reply(conn, header, &protocol.ResultResponse{Result: uint32(protocol.ErrCodeTargetPortNotFound)}, log)
		return
	}

	switch header.CmdID {
	case protocol.CmdReadDeviceInfo:
		info := d.info
		d.reply(conn, header, &info, log)

	case protocol.CmdReadState:
		d.mu.Lock()
		state := &protocol.DeviceState{AdsState: d.adsState, DeviceState: d.deviceState}
		d.mu.Unlock()

		d.reply(conn, header, state, log)

	case protocol.CmdWriteControl:
		d.reply(conn, header, d.writeControl(payload), log)

	case protocol.CmdRead:
		d.reply(conn, header, d.read(payload), log)

	case protocol.CmdWrite:
		d.reply(conn, header, d.write(payload), log)

	case protocol.CmdAddDeviceNotification:
		d.reply(conn, header, d.addNotification(conn, header.Source, payload), log)

	case protocol.CmdDelDeviceNotification:
		d.reply(conn, header, d.deleteNotification(payload), log)

	default:
		d.reply(conn, header, &protocol.ResultResponse{Result: uint32(protocol.ErrCodeServiceNotSupported)}, log)
	}
}

func (d *Device) reply(
	conn *transport.TCPConn,
	request *protocol.AoEHeader,
	response protocol.Marshaler,
	log *zap.Logger,
) {
	header := &protocol.AoEHeader{
		Target:     request.Source,
		Source:     request.Target,
		CmdID:      request.CmdID,
		StateFlags: protocol.StateFlagsResponse,
		InvokeID:   request.InvokeID,
	}

	if err := conn.WriteFrame(header, response.Marshal()); err != nil {
		log.Warn("Failed to reply", zap.Error(err))
	}
}

func (d *Device) writeControl(payload []byte) protocol.Marshaler {
	if len(payload) < 8 {
		return &protocol.ResultResponse{Result: uint32(protocol.ErrCodeInvalidSize)}
	}

	d.SetState(
		uint16(payload[0])|uint16(payload[1])<<8,
		uint16(payload[2])|uint16(payload[3])<<8)

	return &protocol.ResultResponse{}
}

func (d *Device) read(payload []byte) protocol.Marshaler {
	var request protocol.ReadRequest
	if err := request.Unmarshal(payload); err != nil {
		return &protocol.ReadResponse{Result: uint32(protocol.ErrCodeInvalidSize)}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	value, ok := d.memory[variable{group: request.IndexGroup, offset: request.IndexOffset}]
	if !ok {
		return &protocol.ReadResponse{Result: uint32(protocol.ErrCodeInvalidOffset)}
	}

	if request.Length > uint32(len(value)) {
		return &protocol.ReadResponse{Result: uint32(protocol.ErrCodeInvalidSize)}
	}

	return &protocol.ReadResponse{Data: value[:request.Length]}
}

func (d *Device) write(payload []byte) protocol.Marshaler {
	var request protocol.WriteRequest
	if err := request.Unmarshal(payload); err != nil {
		return &protocol.ResultResponse{Result: uint32(protocol.ErrCodeInvalidSize)}
	}

	if err := d.SetValue(request.IndexGroup, request.IndexOffset, request.Data); err != nil {
		d.log.Warn("Failed to notify subscribers", zap.Error(err))
	}

	return &protocol.ResultResponse{}
}

func (d *Device) addNotification(conn *transport.TCPConn, client protocol.Addr, payload []byte) protocol.Marshaler {
	var request protocol.AddNotificationRequest
	if err := request.Unmarshal(payload); err != nil {
		return &protocol.AddNotificationResponse{Result: uint32(protocol.ErrCodeInvalidSize)}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.lastHandle++
	d.subscriptions[d.lastHandle] = subscription{
		conn:   conn,
		client: client,
		target: variable{group: request.IndexGroup, offset: request.IndexOffset},
		length: request.Length,
	}

	return &protocol.AddNotificationResponse{Handle: d.lastHandle}
}

func (d *Device) deleteNotification(payload []byte) protocol.Marshaler {
	var request protocol.DeleteNotificationRequest
	if err := request.Unmarshal(payload); err != nil {
		return &protocol.ResultResponse{Result: uint32(protocol.ErrCodeInvalidSize)}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.subscriptions[request.Handle]; !ok {
		return &protocol.ResultResponse{Result: uint32(protocol.ErrCodeInvalidNotifyHandle)}
	}

	delete(d.subscriptions, request.Handle)

	return &protocol.ResultResponse{}
}

var _ transport.Handler = (*Device)(nil)
