package client_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/ams/client"
	"github.com/luma/ams/notify"
	"github.com/luma/ams/protocol"
	"github.com/luma/ams/simulator"
)

var _ = Describe("Conn against a device", func() {
	const (
		port    = 30010
		timeout = 2 * time.Second
	)

	var (
		device *simulator.Device
		conn   *client.Conn
		plc    protocol.Addr
	)

	BeforeEach(func() {
		plc = protocol.Addr{NetID: protocol.NetID{5, 1, 2, 3, 1, 1}, Port: 851}

		device = simulator.New(simulator.Options{
			Addr: plc,
			Info: protocol.DeviceInfo{Major: 3, Minor: 1, Build: 4024, Name: "Simulator"},
			Host: "127.0.0.1",
		})
		Expect(device.Start(context.Background())).To(Succeed())

		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		var err error
		conn, err = client.Dial(ctx, "tcp", device.Addr().String(), client.Options{LocalNetID: localNetID})
		Expect(err).To(Succeed())
	})

	AfterEach(func() {
		Expect(conn.Close()).To(Succeed())
		Expect(device.Close()).To(Succeed())
	})

	It("reads the device info", func() {
		info, err := conn.ReadDeviceInfo(plc, port, timeout)
		Expect(err).To(Succeed())
		Expect(info.Name).To(Equal("Simulator"))
		Expect(info.Major).To(Equal(uint8(3)))
		Expect(info.Build).To(Equal(uint16(4024)))
	})

	It("reads the device state", func() {
		device.SetState(protocol.StateStop, 7)

		state, err := conn.ReadState(plc, port, timeout)
		Expect(err).To(Succeed())
		Expect(state.AdsState).To(Equal(uint16(protocol.StateStop)))
		Expect(state.DeviceState).To(Equal(uint16(7)))
	})

	It("writes and reads back a variable", func() {
		Expect(conn.WriteData(plc, port, 0x4020, 8, []byte{1, 2, 3, 4}, timeout)).To(Succeed())

		data, err := conn.Read(plc, port, 0x4020, 8, 4, timeout)
		Expect(err).To(Succeed())
		Expect(data).To(Equal([]byte{1, 2, 3, 4}))
	})

	It("surfaces device errors", func() {
		_, err := conn.Read(plc, port, 0x4020, 64, 4, timeout)
		Expect(err).To(MatchError(protocol.ErrCodeInvalidOffset))

		other := plc
		other.Port = 852
		_, err = conn.ReadState(other, port, timeout)
		Expect(err).To(MatchError(protocol.ErrCodeTargetPortNotFound))
	})

	It("subscribes to and unsubscribes from a variable", func() {
		values := make(chan []byte, 4)
		callback := func(source protocol.Addr, n *notify.Notification, user uint32) {
			Expect(source).To(Equal(plc))
			Expect(user).To(Equal(uint32(42)))
			values <- append([]byte(nil), n.Data...)
		}

		id, err := conn.AddNotification(plc, port, &protocol.AddNotificationRequest{
			IndexGroup:  0x4020,
			IndexOffset: 16,
			Length:      2,
			TransMode:   protocol.TransModeOnChange,
		}, callback, 42, timeout)
		Expect(err).To(Succeed())
		Expect(id.Handle).NotTo(BeZero())
		Expect(device.Subscriptions()).To(Equal(1))

		Expect(device.SetValue(0x4020, 16, []byte{9, 8, 7})).To(Succeed())
		Eventually(values).Should(Receive(Equal([]byte{9, 8})))

		Expect(conn.DeleteNotification(plc, id.Handle, timeout, port)).To(Succeed())
		Expect(id.Erase()).To(BeTrue())
		Expect(device.Subscriptions()).To(BeZero())

		err = conn.DeleteNotification(plc, id.Handle, timeout, port)
		Expect(err).To(MatchError(protocol.ErrCodeInvalidNotifyHandle))
	})
})
