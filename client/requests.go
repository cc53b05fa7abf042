package client

import (
	"fmt"
	"time"

	"github.com/luma/ams/frame"
	"github.com/luma/ams/notify"
	"github.com/luma/ams/protocol"
)

// Request sends payload as a cmdID request from the local port to dest and
// waits up to timeout for the reply. The response slot is always released
// before returning, the returned bytes are a copy.
func (c *Conn) Request(
	payload protocol.Marshaler,
	dest protocol.Addr,
	port uint16,
	cmdID protocol.CommandID,
	timeout time.Duration,
) ([]byte, error) {
	request := newRequestFrame(payload)
	src := protocol.Addr{NetID: c.localNetID, Port: port}

	response, err := c.Write(request, dest, src, cmdID)
	if err != nil {
		return nil, err
	}
	defer c.Release(response)

	if !response.Wait(timeout) {
		if !c.isRunning() {
			return nil, ErrClosed
		}

		return nil, fmt.Errorf("Failed to receive %s response from %s within %s: %w",
			cmdID, dest, timeout, ErrTimeout)
	}

	return append([]byte(nil), response.Bytes()...), nil
}

// ReadDeviceInfo returns the name and version of the device at dest.
func (c *Conn) ReadDeviceInfo(dest protocol.Addr, port uint16, timeout time.Duration) (*protocol.DeviceInfo, error) {
	payload, err := c.Request(nil, dest, port, protocol.CmdReadDeviceInfo, timeout)
	if err != nil {
		return nil, err
	}

	var info protocol.DeviceInfo
	if err := info.Unmarshal(payload); err != nil {
		return nil, err
	}

	if err := protocol.ResultError(info.Result); err != nil {
		return nil, err
	}

	return &info, nil
}

// ReadState returns the ADS and device state of the device at dest.
func (c *Conn) ReadState(dest protocol.Addr, port uint16, timeout time.Duration) (*protocol.DeviceState, error) {
	payload, err := c.Request(nil, dest, port, protocol.CmdReadState, timeout)
	if err != nil {
		return nil, err
	}

	var state protocol.DeviceState
	if err := state.Unmarshal(payload); err != nil {
		return nil, err
	}

	if err := protocol.ResultError(state.Result); err != nil {
		return nil, err
	}

	return &state, nil
}

// Read reads length bytes at indexGroup/indexOffset.
func (c *Conn) Read(
	dest protocol.Addr,
	port uint16,
	indexGroup, indexOffset, length uint32,
	timeout time.Duration,
) ([]byte, error) {
	request := &protocol.ReadRequest{
		IndexGroup:  indexGroup,
		IndexOffset: indexOffset,
		Length:      length,
	}

	payload, err := c.Request(request, dest, port, protocol.CmdRead, timeout)
	if err != nil {
		return nil, err
	}

	var response protocol.ReadResponse
	if err := response.Unmarshal(payload); err != nil {
		return nil, err
	}

	if err := protocol.ResultError(response.Result); err != nil {
		return nil, err
	}

	return response.Data, nil
}

// WriteData writes data at indexGroup/indexOffset.
func (c *Conn) WriteData(
	dest protocol.Addr,
	port uint16,
	indexGroup, indexOffset uint32,
	data []byte,
	timeout time.Duration,
) error {
	request := &protocol.WriteRequest{
		IndexGroup:  indexGroup,
		IndexOffset: indexOffset,
		Data:        data,
	}

	payload, err := c.Request(request, dest, port, protocol.CmdWrite, timeout)
	if err != nil {
		return err
	}

	return resultOf(payload)
}

// AddNotification subscribes to the variable described by attrib and routes
// its samples to callback.
func (c *Conn) AddNotification(
	dest protocol.Addr,
	port uint16,
	attrib *protocol.AddNotificationRequest,
	callback notify.Callback,
	hUser uint32,
	timeout time.Duration,
) (notify.NotificationID, error) {
	// Register the dispatcher before asking, the first sample can arrive
	// right behind the reply.
	dispatcher := c.dispatchers.Add(notify.VirtualConnection{Port: port, Addr: dest})

	payload, err := c.Request(attrib, dest, port, protocol.CmdAddDeviceNotification, timeout)
	if err != nil {
		return notify.NotificationID{}, err
	}

	var response protocol.AddNotificationResponse
	if err := response.Unmarshal(payload); err != nil {
		return notify.NotificationID{}, err
	}

	if err := protocol.ResultError(response.Result); err != nil {
		return notify.NotificationID{}, err
	}

	dispatcher.Emplace(response.Handle, callback, hUser, attrib.Length)

	return notify.NotificationID{Handle: response.Handle, Dispatcher: dispatcher}, nil
}

// DeleteNotification asks the device at dest to stop sending hNotify. The
// local registration is left alone, drop it with NotificationID.Erase once
// this succeeded.
func (c *Conn) DeleteNotification(dest protocol.Addr, hNotify uint32, timeout time.Duration, port uint16) error {
	request := &protocol.DeleteNotificationRequest{Handle: hNotify}

	payload, err := c.Request(request, dest, port, protocol.CmdDelDeviceNotification, timeout)
	if err != nil {
		return err
	}

	return resultOf(payload)
}

func resultOf(payload []byte) error {
	var response protocol.ResultResponse
	if err := response.Unmarshal(payload); err != nil {
		return err
	}

	return protocol.ResultError(response.Result)
}

func newRequestFrame(payload protocol.Marshaler) *frame.Frame {
	var body []byte
	if payload != nil {
		body = payload.Marshal()
	}

	f := frame.New(protocol.TCPHeaderSize + protocol.AoEHeaderSize + len(body))
	f.Prepend(body)

	return f
}
