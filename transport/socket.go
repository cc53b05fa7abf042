package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/mdlayher/vsock"
)

// AmsTCPPort is the port AMS routers accept AMS/TCP connections on.
const AmsTCPPort = 48898

var (
	ErrUnsupportedNetwork = errors.New("Network must be one of tcp, tcp4, tcp6 or vsock")
	ErrInvalidVsockAddr   = errors.New("vsock address must be <contextID>:<port>")
)

// Socket is a connected byte stream to an AMS router.
type Socket struct {
	conn net.Conn
}

// NewSocket wraps an established connection.
func NewSocket(conn net.Conn) *Socket {
	return &Socket{conn: conn}
}

// Dial connects to address. For tcp networks a missing port defaults to
// AmsTCPPort; vsock addresses are <contextID>:<port>.
func Dial(ctx context.Context, network, address string) (*Socket, error) {
	switch network {
	case "tcp", "tcp4", "tcp6":
		var dialer net.Dialer

		conn, err := dialer.DialContext(ctx, network, RouterAddress(address))
		if err != nil {
			return nil, err
		}

		return NewSocket(conn), nil

	case "vsock":
		contextID, port, err := parseVsockAddr(address)
		if err != nil {
			return nil, err
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		conn, err := vsock.Dial(contextID, port, nil)
		if err != nil {
			return nil, err
		}

		return NewSocket(conn), nil

	default:
		return nil, fmt.Errorf("Failed to dial %s network: %w", network, ErrUnsupportedNetwork)
	}
}

// RouterAddress appends AmsTCPPort to host unless it already has a port.
func RouterAddress(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}

	return net.JoinHostPort(strings.Trim(host, "[]"), strconv.Itoa(AmsTCPPort))
}

func parseVsockAddr(address string) (uint32, uint32, error) {
	parts := strings.Split(address, ":")
	if len(parts) != 2 {
		return 0, 0, ErrInvalidVsockAddr
	}

	contextID, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("Failed to parse '%s': %w", address, ErrInvalidVsockAddr)
	}

	port, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("Failed to parse '%s': %w", address, ErrInvalidVsockAddr)
	}

	return uint32(contextID), uint32(port), nil
}

func (s *Socket) Read(p []byte) (int, error) {
	return s.conn.Read(p)
}

func (s *Socket) Write(p []byte) (int, error) {
	return s.conn.Write(p)
}

// Shutdown closes the connection. A Read blocked in another goroutine
// returns net.ErrClosed.
func (s *Socket) Shutdown() error {
	return s.conn.Close()
}

func (s *Socket) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

func (s *Socket) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}
