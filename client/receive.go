package client

import (
	"errors"
	"io"
	"net"

	"go.uber.org/zap"

	"github.com/luma/ams/frame"
	"github.com/luma/ams/notify"
	"github.com/luma/ams/protocol"
)

func (c *Conn) receiveLoop() {
	log := c.log.Named("receiveLoop")

	defer func() {
		close(c.done)
		log.Info("Receive loop exited")
	}()

	err := c.receive()

	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		log.Info("Connection closed, exiting...", zap.Error(err))

	default:
		log.Warn("Connection failed, exiting...", zap.Error(err))
	}
}

// receive reads frames until the socket fails. Malformed frames and frames
// nobody waits for are drained so the stream stays aligned.
func (c *Conn) receive() error {
	var (
		tcpHeader protocol.TCPHeader
		aoeHeader protocol.AoEHeader
	)

	for {
		if err := protocol.ReadTCPHeader(c.sock, &tcpHeader); err != nil {
			return err
		}

		if tcpHeader.Length < protocol.AoEHeaderSize {
			c.log.Warn("Frame too short to be AoE", zap.Uint32("length", tcpHeader.Length))

			if err := protocol.Drain(c.sock, int64(tcpHeader.Length)); err != nil {
				return err
			}
			continue
		}

		if err := protocol.ReadAoEHeader(c.sock, &aoeHeader); err != nil {
			return err
		}

		if remaining := tcpHeader.Length - protocol.AoEHeaderSize; aoeHeader.Length != remaining {
			c.log.Warn("AoE length disagrees with AMS/TCP length",
				zap.Uint32("aoeLength", aoeHeader.Length),
				zap.Uint32("tcpLength", remaining))

			if err := protocol.Drain(c.sock, int64(remaining)); err != nil {
				return err
			}
			continue
		}

		if aoeHeader.CmdID == protocol.CmdDeviceNotification {
			if err := c.receiveNotification(&aoeHeader); err != nil {
				return err
			}
			continue
		}

		if err := c.receiveResponse(&aoeHeader); err != nil {
			return err
		}
	}
}

func (c *Conn) receiveResponse(header *protocol.AoEHeader) error {
	response := c.GetPending(header.InvokeID, header.Target.Port)
	if response == nil {
		// GetPending logged why
		return protocol.Drain(c.sock, int64(header.Length))
	}

	delivered, err := response.deliver(header.InvokeID, func(f *frame.Frame) error {
		if err := c.receiveFrame(f, header.Length); err != nil {
			return err
		}

		if !header.CmdID.IsResponseKind() {
			c.log.Warn("Unknown AMS command id", zap.Stringer("cmdID", header.CmdID))
			f.Clear()
		}

		return nil
	})
	if err != nil {
		return err
	}

	if !delivered {
		// Released by a caller that gave up, or already answered.
		c.log.Warn("Response slot is no longer waiting",
			zap.Uint16("port", header.Target.Port),
			zap.Uint32("invokeID", header.InvokeID))
		return protocol.Drain(c.sock, int64(header.Length))
	}

	return nil
}

// receiveFrame reads length bytes into f, or drains them and leaves f empty
// when they do not fit.
func (c *Conn) receiveFrame(f *frame.Frame, length uint32) error {
	if int64(length) > int64(f.Capacity()) {
		c.log.Warn("Frame too long",
			zap.Uint32("length", length),
			zap.Int("capacity", f.Capacity()))

		if err := protocol.Drain(c.sock, int64(length)); err != nil {
			return err
		}

		f.Clear()
		return nil
	}

	if _, err := io.ReadFull(c.sock, f.RawData()[:length]); err != nil {
		return err
	}

	f.Limit(int(length))
	return nil
}

func (c *Conn) receiveNotification(header *protocol.AoEHeader) error {
	dispatcher := c.dispatchers.Get(notify.VirtualConnection{
		Port: header.Target.Port,
		Addr: header.Source,
	})
	if dispatcher == nil {
		c.log.Warn("No dispatcher found for notification",
			zap.Uint16("port", header.Target.Port),
			zap.Stringer("source", header.Source))
		return protocol.Drain(c.sock, int64(header.Length))
	}

	bytesLeft := int(header.Length)
	if !dispatcher.BeginRecord(bytesLeft) {
		c.log.Warn("Receive buffer was full",
			zap.Uint16("port", header.Target.Port),
			zap.Uint32("length", header.Length))
		return protocol.Drain(c.sock, int64(header.Length))
	}

	ring := dispatcher.Ring()

	chunk := ring.WriteChunk()
	for bytesLeft > chunk {
		if _, err := io.ReadFull(c.sock, ring.WriteSlice()[:chunk]); err != nil {
			return err
		}

		ring.Commit(chunk)
		bytesLeft -= chunk
		chunk = ring.WriteChunk()
	}

	if _, err := io.ReadFull(c.sock, ring.WriteSlice()[:bytesLeft]); err != nil {
		return err
	}

	ring.Commit(bytesLeft)
	dispatcher.Notify()

	return nil
}
