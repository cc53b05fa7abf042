package client_test

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/luma/ams/client"
	"github.com/luma/ams/frame"
	"github.com/luma/ams/notify"
	"github.com/luma/ams/protocol"
	"github.com/luma/ams/transport"
)

var (
	localNetID = protocol.NetID{192, 168, 0, 1, 1, 1}
	deviceAddr = protocol.Addr{NetID: protocol.NetID{192, 168, 0, 2, 1, 1}, Port: 851}
)

// peer plays the router end of a piped connection. Requests read from the
// client are queued on requests, replies are written by the test.
type peer struct {
	conn     net.Conn
	requests chan *protocol.AoEHeader
}

func newPeer(conn net.Conn) *peer {
	p := &peer{
		conn:     conn,
		requests: make(chan *protocol.AoEHeader, 256),
	}

	go func() {
		defer close(p.requests)

		for {
			header, _, err := protocol.ReadFrame(conn, 1<<16)
			if err != nil {
				return
			}

			p.requests <- header
		}
	}()

	return p
}

func (p *peer) next() *protocol.AoEHeader {
	var header *protocol.AoEHeader
	Eventually(p.requests).Should(Receive(&header))

	return header
}

func (p *peer) respond(request *protocol.AoEHeader, cmdID protocol.CommandID, payload []byte) {
	Expect(protocol.WriteFrame(p.conn, &protocol.AoEHeader{
		Target:     request.Source,
		Source:     request.Target,
		CmdID:      cmdID,
		StateFlags: protocol.StateFlagsResponse,
		InvokeID:   request.InvokeID,
	}, payload)).To(Succeed())
}

func (p *peer) notify(port uint16, payload []byte) {
	Expect(protocol.WriteFrame(p.conn, &protocol.AoEHeader{
		Target:     protocol.Addr{NetID: localNetID, Port: port},
		Source:     deviceAddr,
		CmdID:      protocol.CmdDeviceNotification,
		StateFlags: protocol.StateFlagsRequest,
	}, payload)).To(Succeed())
}

func (p *peer) writeRaw(b []byte) {
	_, err := p.conn.Write(b)
	Expect(err).To(Succeed())
}

func makeConn(options client.Options) (*client.Conn, *peer) {
	local, remote := net.Pipe()

	options.LocalNetID = localNetID
	conn := client.New(transport.NewSocket(local), options)

	return conn, newPeer(remote)
}

func requestFrame(body []byte) *frame.Frame {
	f := frame.New(protocol.TCPHeaderSize + protocol.AoEHeaderSize + len(body))
	f.Prepend(body)

	return f
}

func from(port uint16) protocol.Addr {
	return protocol.Addr{NetID: localNetID, Port: port}
}

// tcpHeader builds an AMS/TCP header declaring length bytes.
func tcpHeader(length uint32) []byte {
	b := make([]byte, protocol.TCPHeaderSize)
	binary.LittleEndian.PutUint32(b[2:], length)

	return b
}

// shortSocket accepts only part of every write.
type shortSocket struct {
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *shortSocket) Read(p []byte) (int, error) {
	<-s.closed
	return 0, io.EOF
}

func (s *shortSocket) Write(p []byte) (int, error) {
	return len(p) - 1, nil
}

func (s *shortSocket) Shutdown() error {
	s.closeOnce.Do(func() {
		close(s.closed)
	})

	return nil
}

var _ = Describe("Conn", func() {
	var (
		conn *client.Conn
		p    *peer
	)

	AfterEach(func() {
		if conn != nil {
			Expect(conn.Close()).To(Succeed())
		}
	})

	Describe("response slots", func() {
		BeforeEach(func() {
			conn, p = makeConn(client.Options{})
		})

		It("refuses a second reservation of a busy port", func() {
			response, err := conn.Reserve(5, 30000)
			Expect(err).To(Succeed())

			_, err = conn.Reserve(6, 30000)
			Expect(err).To(MatchError(client.ErrPortInUse))
			Expect(response.InvokeID()).To(Equal(uint32(5)))

			conn.Release(response)
			Expect(response.InvokeID()).To(BeZero())

			_, err = conn.Reserve(6, 30000)
			Expect(err).To(Succeed())
		})

		It("rejects ports outside of the served range", func() {
			_, err := conn.Reserve(1, client.DefaultPortBase-1)
			Expect(err).To(MatchError(client.ErrPortOutOfRange))

			_, err = conn.Reserve(1, client.DefaultPortBase+client.DefaultNumPorts)
			Expect(err).To(MatchError(client.ErrPortOutOfRange))

			Expect(conn.GetPending(1, client.DefaultPortBase-1)).To(BeNil())
		})

		It("releases idempotently", func() {
			response, err := conn.Reserve(9, 30001)
			Expect(err).To(Succeed())

			conn.Release(response)
			conn.Release(response)
			conn.Release(nil)

			Expect(response.InvokeID()).To(BeZero())
			Expect(conn.GetPending(9, 30001)).To(BeNil())
		})

		It("finds pending slots by invoke id and port", func() {
			response, err := conn.Reserve(11, 30002)
			Expect(err).To(Succeed())
			defer conn.Release(response)

			Expect(conn.GetPending(11, 30002)).To(BeIdenticalTo(response))
			Expect(conn.GetPending(12, 30002)).To(BeNil())
			Expect(conn.GetPending(11, 30003)).To(BeNil())
		})
	})

	Describe("Write", func() {
		BeforeEach(func() {
			conn, p = makeConn(client.Options{FrameSize: 16, NotificationBufferSize: 64})
		})

		It("sends a request frame with fresh invoke id", func() {
			response, err := conn.Write(requestFrame([]byte{1, 2, 3}), deviceAddr, from(30000), protocol.CmdRead)
			Expect(err).To(Succeed())
			defer conn.Release(response)

			request := p.next()
			Expect(request.Target).To(Equal(deviceAddr))
			Expect(request.Source).To(Equal(from(30000)))
			Expect(request.CmdID).To(Equal(protocol.CmdRead))
			Expect(request.StateFlags).To(Equal(protocol.StateFlagsRequest))
			Expect(request.Length).To(Equal(uint32(3)))
			Expect(request.InvokeID).To(Equal(response.InvokeID()))
			Expect(request.InvokeID).NotTo(BeZero())
		})

		It("matches out of order responses to their ports", func() {
			first, err := conn.Write(requestFrame(nil), deviceAddr, from(30000), protocol.CmdRead)
			Expect(err).To(Succeed())
			defer conn.Release(first)

			second, err := conn.Write(requestFrame(nil), deviceAddr, from(30001), protocol.CmdRead)
			Expect(err).To(Succeed())
			defer conn.Release(second)

			r1 := p.next()
			r2 := p.next()

			p.respond(r2, protocol.CmdRead, []byte("second"))
			p.respond(r1, protocol.CmdRead, []byte("first"))

			Expect(first.Wait(time.Second)).To(BeTrue())
			Expect(second.Wait(time.Second)).To(BeTrue())
			Expect(first.Bytes()).To(Equal([]byte("first")))
			Expect(second.Bytes()).To(Equal([]byte("second")))
		})

		It("drops a response too large for the slot and keeps reading", func() {
			big, err := conn.Write(requestFrame(nil), deviceAddr, from(30000), protocol.CmdRead)
			Expect(err).To(Succeed())
			defer conn.Release(big)

			small, err := conn.Write(requestFrame(nil), deviceAddr, from(30001), protocol.CmdRead)
			Expect(err).To(Succeed())
			defer conn.Release(small)

			p.respond(p.next(), protocol.CmdRead, make([]byte, 32))
			p.respond(p.next(), protocol.CmdRead, []byte{4, 5, 6})

			Expect(big.Wait(time.Second)).To(BeTrue())
			Expect(big.Bytes()).To(BeEmpty())

			Expect(small.Wait(time.Second)).To(BeTrue())
			Expect(small.Bytes()).To(Equal([]byte{4, 5, 6}))
		})

		It("signals but empties a response with an unknown command id", func() {
			response, err := conn.Write(requestFrame(nil), deviceAddr, from(30000), protocol.CmdRead)
			Expect(err).To(Succeed())
			defer conn.Release(response)

			p.respond(p.next(), protocol.CommandID(42), []byte{1})

			Expect(response.Wait(time.Second)).To(BeTrue())
			Expect(response.Bytes()).To(BeEmpty())
		})

		It("ignores a response with a foreign invoke id", func() {
			response, err := conn.Write(requestFrame(nil), deviceAddr, from(30000), protocol.CmdRead)
			Expect(err).To(Succeed())
			defer conn.Release(response)

			request := p.next()
			stale := *request
			stale.InvokeID++

			p.respond(&stale, protocol.CmdRead, []byte("stale"))
			Expect(response.Wait(50 * time.Millisecond)).To(BeFalse())

			p.respond(request, protocol.CmdRead, []byte("fresh"))
			Expect(response.Wait(time.Second)).To(BeTrue())
			Expect(response.Bytes()).To(Equal([]byte("fresh")))
		})

		It("skips frames too short to carry an AoE header", func() {
			response, err := conn.Write(requestFrame(nil), deviceAddr, from(30000), protocol.CmdRead)
			Expect(err).To(Succeed())
			defer conn.Release(response)

			p.writeRaw(append(tcpHeader(4), 1, 2, 3, 4))
			p.respond(p.next(), protocol.CmdRead, []byte{7})

			Expect(response.Wait(time.Second)).To(BeTrue())
			Expect(response.Bytes()).To(Equal([]byte{7}))
		})

		It("skips frames whose two length fields disagree", func() {
			response, err := conn.Write(requestFrame(nil), deviceAddr, from(30000), protocol.CmdRead)
			Expect(err).To(Succeed())
			defer conn.Release(response)

			request := p.next()

			aoe := make([]byte, protocol.AoEHeaderSize)
			(&protocol.AoEHeader{
				Target:   request.Source,
				Source:   request.Target,
				CmdID:    protocol.CmdRead,
				Length:   3,
				InvokeID: request.InvokeID,
			}).Marshal(aoe)

			raw := tcpHeader(protocol.AoEHeaderSize + 8)
			raw = append(raw, aoe...)
			raw = append(raw, make([]byte, 8)...)
			p.writeRaw(raw)

			p.respond(request, protocol.CmdRead, []byte{8})

			Expect(response.Wait(time.Second)).To(BeTrue())
			Expect(response.Bytes()).To(Equal([]byte{8}))
		})

		It("leaves the request untouched when the port cannot be reserved", func() {
			busy, err := conn.Reserve(conn.GetInvokeID(), 30000)
			Expect(err).To(Succeed())

			request := requestFrame([]byte{1, 2, 3})

			_, err = conn.Write(request, deviceAddr, from(30000), protocol.CmdRead)
			Expect(err).To(MatchError(client.ErrPortInUse))
			Expect(request.Bytes()).To(Equal([]byte{1, 2, 3}))

			_, err = conn.Write(request, deviceAddr, from(client.DefaultPortBase-1), protocol.CmdRead)
			Expect(err).To(MatchError(client.ErrPortOutOfRange))
			Expect(request.Bytes()).To(Equal([]byte{1, 2, 3}))

			conn.Release(busy)

			response, err := conn.Write(request, deviceAddr, from(30000), protocol.CmdRead)
			Expect(err).To(Succeed())
			defer conn.Release(response)

			sent := p.next()
			Expect(sent.Length).To(Equal(uint32(3)))
			Expect(sent.InvokeID).To(Equal(response.InvokeID()))
		})

		It("logs a response with a foreign invoke id once", func() {
			Expect(conn.Close()).To(Succeed())

			core, logs := observer.New(zap.WarnLevel)

			local, remote := net.Pipe()
			conn = client.New(transport.NewSocket(local), client.Options{
				LocalNetID: localNetID,
				Log:        zap.New(core),
			})
			p = newPeer(remote)

			response, err := conn.Write(requestFrame(nil), deviceAddr, from(30000), protocol.CmdRead)
			Expect(err).To(Succeed())
			defer conn.Release(response)

			request := p.next()
			stale := *request
			stale.InvokeID++

			p.respond(&stale, protocol.CmdRead, []byte("stale"))
			p.respond(request, protocol.CmdRead, []byte("fresh"))
			Expect(response.Wait(time.Second)).To(BeTrue())

			Expect(logs.FilterMessage("InvokeID mismatch").Len()).To(Equal(1))
			Expect(logs.Len()).To(Equal(1))
		})

		It("releases the slot on a short write", func() {
			Expect(conn.Close()).To(Succeed())

			conn = client.New(&shortSocket{closed: make(chan struct{})}, client.Options{})

			_, err := conn.Write(requestFrame([]byte{1}), deviceAddr, from(30000), protocol.CmdRead)
			Expect(errors.Is(err, client.ErrShortWrite)).To(BeTrue())

			response, err := conn.Reserve(1, 30000)
			Expect(err).To(Succeed())
			conn.Release(response)
		})
	})

	Describe("Request", func() {
		BeforeEach(func() {
			conn, p = makeConn(client.Options{})
		})

		It("returns a copy of the response payload", func() {
			done := make(chan []byte, 1)
			go func() {
				defer GinkgoRecover()

				payload, err := conn.Request(nil, deviceAddr, 30000, protocol.CmdReadState, time.Second)
				Expect(err).To(Succeed())
				done <- payload
			}()

			p.respond(p.next(), protocol.CmdReadState, []byte{0, 0, 0, 0, 5, 0, 0, 0})

			Eventually(done).Should(Receive(Equal([]byte{0, 0, 0, 0, 5, 0, 0, 0})))
		})

		It("releases the slot on timeout and drops the late response", func() {
			_, err := conn.Request(nil, deviceAddr, 30000, protocol.CmdReadState, 20*time.Millisecond)
			Expect(errors.Is(err, client.ErrTimeout)).To(BeTrue())

			late := p.next()

			done := make(chan []byte, 1)
			go func() {
				defer GinkgoRecover()

				payload, err := conn.Request(nil, deviceAddr, 30000, protocol.CmdReadState, time.Second)
				Expect(err).To(Succeed())
				done <- payload
			}()

			current := p.next()
			Expect(current.InvokeID).NotTo(Equal(late.InvokeID))

			p.respond(late, protocol.CmdReadState, []byte("late"))
			p.respond(current, protocol.CmdReadState, []byte("current"))

			Eventually(done).Should(Receive(Equal([]byte("current"))))
		})

		It("serves concurrent callers on distinct ports", func() {
			const (
				callers   = 16
				perCaller = 25
			)

			go func() {
				for request := range p.requests {
					payload := make([]byte, 6)
					binary.LittleEndian.PutUint32(payload, request.InvokeID)
					binary.LittleEndian.PutUint16(payload[4:], request.Source.Port)

					response := &protocol.AoEHeader{
						Target:     request.Source,
						Source:     request.Target,
						CmdID:      request.CmdID,
						StateFlags: protocol.StateFlagsResponse,
						InvokeID:   request.InvokeID,
					}
					if protocol.WriteFrame(p.conn, response, payload) != nil {
						return
					}
				}
			}()

			var wg sync.WaitGroup
			for i := 0; i < callers; i++ {
				port := uint16(30000 + i)

				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()

					for j := 0; j < perCaller; j++ {
						payload, err := conn.Request(nil, deviceAddr, port, protocol.CmdRead, 5*time.Second)
						Expect(err).To(Succeed())
						Expect(payload).To(HaveLen(6))
						Expect(binary.LittleEndian.Uint16(payload[4:])).To(Equal(port))
					}
				}()
			}

			wg.Wait()
		})
	})

	Describe("notifications", func() {
		type received struct {
			source protocol.Addr
			handle uint32
			user   uint32
			data   []byte
		}

		var (
			notifications chan received
			callback      notify.Callback
		)

		BeforeEach(func() {
			conn, p = makeConn(client.Options{FrameSize: 64, NotificationBufferSize: 64})

			notifications = make(chan received, 16)
			callback = func(source protocol.Addr, n *notify.Notification, user uint32) {
				notifications <- received{
					source: source,
					handle: n.Handle,
					user:   user,
					data:   append([]byte(nil), n.Data...),
				}
			}
		})

		stream := func(handle uint32, data []byte) []byte {
			return protocol.MarshalNotificationStream([]protocol.Stamp{{
				Timestamp: time.Unix(1600000000, 0),
				Samples:   []protocol.Sample{{Handle: handle, Data: data}},
			}})
		}

		It("routes samples to the mapped callback", func() {
			id := conn.CreateNotifyMapping(30000, deviceAddr, callback, 77, 4, 3)
			Expect(id.Handle).To(Equal(uint32(3)))

			p.notify(30000, stream(3, []byte{1, 2, 3, 4}))

			var n received
			Eventually(notifications).Should(Receive(&n))
			Expect(n.source).To(Equal(deviceAddr))
			Expect(n.handle).To(Equal(uint32(3)))
			Expect(n.user).To(Equal(uint32(77)))
			Expect(n.data).To(Equal([]byte{1, 2, 3, 4}))
		})

		It("stops delivering after Erase", func() {
			id := conn.CreateNotifyMapping(30000, deviceAddr, callback, 0, 4, 3)
			Expect(id.Erase()).To(BeTrue())
			Expect(id.Erase()).To(BeFalse())

			p.notify(30000, stream(3, []byte{1}))
			Consistently(notifications, 50*time.Millisecond).ShouldNot(Receive())
		})

		It("drains notifications nobody subscribed to", func() {
			response, err := conn.Write(requestFrame(nil), deviceAddr, from(30001), protocol.CmdRead)
			Expect(err).To(Succeed())
			defer conn.Release(response)

			p.notify(30005, stream(3, []byte{1, 2}))
			p.respond(p.next(), protocol.CmdRead, []byte{9})

			Expect(response.Wait(time.Second)).To(BeTrue())
			Expect(response.Bytes()).To(Equal([]byte{9}))
		})

		It("drops notifications that do not fit the ring", func() {
			id := conn.CreateNotifyMapping(30000, deviceAddr, callback, 0, 128, 3)

			p.notify(30000, stream(3, make([]byte, 100)))
			p.notify(30000, stream(3, []byte{5}))

			var n received
			Eventually(notifications).Should(Receive(&n))
			Expect(n.data).To(Equal([]byte{5}))
			Consistently(notifications, 50*time.Millisecond).ShouldNot(Receive())

			Eventually(id.Dispatcher.Ring().BytesAvailable).Should(BeZero())
		})
	})

	Describe("WaitContext", func() {
		BeforeEach(func() {
			conn, p = makeConn(client.Options{})
		})

		It("returns once the reply arrives", func() {
			response, err := conn.Write(requestFrame(nil), deviceAddr, from(30000), protocol.CmdRead)
			Expect(err).To(Succeed())
			defer conn.Release(response)

			done := make(chan error, 1)
			go func() {
				done <- response.WaitContext(context.Background())
			}()

			p.respond(p.next(), protocol.CmdRead, []byte{1})

			Eventually(done).Should(Receive(BeNil()))
			Expect(response.Bytes()).To(Equal([]byte{1}))
		})

		It("reports the context error when no reply arrives", func() {
			response, err := conn.Write(requestFrame(nil), deviceAddr, from(30000), protocol.CmdRead)
			Expect(err).To(Succeed())
			defer conn.Release(response)
			p.next()

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()

			Expect(response.WaitContext(ctx)).To(MatchError(context.DeadlineExceeded))
		})

		It("prefers a delivered reply over a connection closed afterwards", func() {
			for i := 0; i < 40; i++ {
				c, router := makeConn(client.Options{})

				response, err := c.Write(requestFrame(nil), deviceAddr, from(30000), protocol.CmdRead)
				Expect(err).To(Succeed())

				router.respond(router.next(), protocol.CmdRead, []byte{1})
				Eventually(response.Bytes).Should(Equal([]byte{1}))

				Expect(router.conn.Close()).To(Succeed())
				Eventually(c.Done()).Should(BeClosed())

				Expect(response.WaitContext(context.Background())).To(Succeed())

				c.Release(response)
				Expect(c.Close()).To(Succeed())
			}
		})
	})

	Describe("Close", func() {
		BeforeEach(func() {
			conn, p = makeConn(client.Options{})
		})

		It("stops the receive loop and fails further writes", func() {
			Expect(conn.Close()).To(Succeed())
			Eventually(conn.Done()).Should(BeClosed())

			_, err := conn.Write(requestFrame(nil), deviceAddr, from(30000), protocol.CmdRead)
			Expect(err).To(MatchError(client.ErrClosed))
		})

		It("wakes pending waiters", func() {
			response, err := conn.Write(requestFrame(nil), deviceAddr, from(30000), protocol.CmdRead)
			Expect(err).To(Succeed())
			p.next()

			go conn.Close()

			start := time.Now()
			Expect(response.Wait(5 * time.Second)).To(BeFalse())
			Expect(time.Since(start)).To(BeNumerically("<", time.Second))

			conn.Release(response)
		})

		It("notices the router hanging up", func() {
			done := make(chan error, 1)
			go func() {
				_, err := conn.Request(nil, deviceAddr, 30000, protocol.CmdReadState, 5*time.Second)
				done <- err
			}()

			p.next()
			Expect(p.conn.Close()).To(Succeed())

			Eventually(done).Should(Receive(MatchError(client.ErrClosed)))
			Eventually(conn.Done()).Should(BeClosed())
		})
	})
})
