package simulator_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/luma/ams/protocol"
	"github.com/luma/ams/simulator"
	"github.com/luma/ams/transport"
)

var _ = Describe("Device", func() {
	var (
		device *simulator.Device
		sock   *transport.Socket
		plc    = protocol.Addr{NetID: protocol.NetID{5, 1, 2, 3, 1, 1}, Port: 851}
		me     = protocol.Addr{NetID: protocol.NetID{10, 0, 0, 1, 1, 1}, Port: 30000}
		invoke uint32
	)

	request := func(target protocol.Addr, cmdID protocol.CommandID, payload []byte) {
		invoke++
		Expect(protocol.WriteFrame(sock, &protocol.AoEHeader{
			Target:     target,
			Source:     me,
			CmdID:      cmdID,
			StateFlags: protocol.StateFlagsRequest,
			InvokeID:   invoke,
		}, payload)).To(Succeed())
	}

	read := func() (*protocol.AoEHeader, []byte) {
		header, payload, err := protocol.ReadFrame(sock, 4096)
		Expect(err).To(Succeed())

		return header, payload
	}

	BeforeEach(func() {
		device = simulator.New(simulator.Options{
			Addr: plc,
			Info: protocol.DeviceInfo{Major: 1, Name: "Test"},
			Host: "127.0.0.1",
		})
		Expect(device.Start(context.Background())).To(Succeed())

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var err error
		sock, err = transport.Dial(ctx, "tcp", device.Addr().String())
		Expect(err).To(Succeed())
	})

	AfterEach(func() {
		Expect(sock.Shutdown()).To(Succeed())
		Expect(device.Close()).To(Succeed())
	})

	It("answers with swapped addresses and the request invoke id", func() {
		request(plc, protocol.CmdReadState, nil)

		header, payload := read()
		Expect(header.Target).To(Equal(me))
		Expect(header.Source).To(Equal(plc))
		Expect(header.CmdID).To(Equal(protocol.CmdReadState))
		Expect(header.IsResponse()).To(BeTrue())
		Expect(header.InvokeID).To(Equal(invoke))

		var state protocol.DeviceState
		Expect(state.Unmarshal(payload)).To(Succeed())
		Expect(state.AdsState).To(Equal(protocol.StateRun))
		Expect(device.Requests(protocol.CmdReadState)).To(Equal(1))
	})

	It("changes state on WRITE_CONTROL", func() {
		request(plc, protocol.CmdWriteControl, []byte{6, 0, 2, 0, 0, 0, 0, 0})

		_, payload := read()
		var result protocol.ResultResponse
		Expect(result.Unmarshal(payload)).To(Succeed())
		Expect(result.Result).To(Equal(protocol.ResultOK))

		request(plc, protocol.CmdReadState, nil)

		_, payload = read()
		var state protocol.DeviceState
		Expect(state.Unmarshal(payload)).To(Succeed())
		Expect(state.AdsState).To(Equal(protocol.StateStop))
		Expect(state.DeviceState).To(Equal(uint16(2)))
	})

	It("rejects unsupported commands", func() {
		request(plc, protocol.CmdReadWrite, nil)

		_, payload := read()
		var result protocol.ResultResponse
		Expect(result.Unmarshal(payload)).To(Succeed())
		Expect(protocol.ResultError(result.Result)).To(MatchError(protocol.ErrCodeServiceNotSupported))
	})

	It("pushes notifications for subscribed variables", func() {
		request(plc, protocol.CmdAddDeviceNotification, (&protocol.AddNotificationRequest{
			IndexGroup: 1,
			Length:     2,
		}).Marshal())

		_, payload := read()
		var added protocol.AddNotificationResponse
		Expect(added.Unmarshal(payload)).To(Succeed())
		Expect(added.Result).To(Equal(protocol.ResultOK))

		Expect(device.SetValue(1, 0, []byte{1, 2, 3})).To(Succeed())

		header, payload := read()
		Expect(header.CmdID).To(Equal(protocol.CmdDeviceNotification))
		Expect(header.Target).To(Equal(me))
		Expect(header.Source).To(Equal(plc))

		stamps, err := protocol.UnmarshalNotificationStream(payload)
		Expect(err).To(Succeed())
		Expect(stamps).To(HaveLen(1))
		Expect(stamps[0].Samples).To(HaveLen(1))
		Expect(stamps[0].Samples[0].Handle).To(Equal(added.Handle))
		Expect(stamps[0].Samples[0].Data).To(Equal([]byte{1, 2}))

		Expect(device.Notify(added.Handle+1, nil)).To(MatchError(protocol.ErrCodeInvalidNotifyHandle))
	})
})
