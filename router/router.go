// Package router allocates local AMS ports and maps remote NetIDs to the
// connections that reach them. Routes to NetIDs behind the same host share a
// single connection.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/luma/ams/client"
	"github.com/luma/ams/protocol"
)

const (
	PortBase = client.DefaultPortBase
	NumPorts = client.DefaultNumPorts
)

var (
	ErrNoFreePort    = errors.New("All local ports are open")
	ErrPortNotOpen   = errors.New("Port is not open")
	ErrNoRoute       = errors.New("No route to NetID")
	ErrRouteConflict = errors.New("NetID is already routed to another host")
)

type Options struct {
	// LocalNetID is the source NetID of every connection
	LocalNetID protocol.NetID

	// Network is passed to client.Dial, "tcp" when empty
	Network string

	// FrameSize and NotificationBufferSize configure each connection
	FrameSize              int
	NotificationBufferSize int

	Log *zap.Logger
}

type connEntry struct {
	conn *client.Conn
	refs int
}

type Router struct {
	localNetID  protocol.NetID
	network     string
	connOptions client.Options

	mu     sync.Mutex
	ports  [NumPorts]bool
	routes map[protocol.NetID]string
	conns  map[string]*connEntry

	log *zap.Logger
}

func New(options Options) *Router {
	log := options.Log
	if log == nil {
		log = zap.NewNop()
	}

	network := options.Network
	if network == "" {
		network = "tcp"
	}

	return &Router{
		localNetID: options.LocalNetID,
		network:    network,
		connOptions: client.Options{
			LocalNetID:             options.LocalNetID,
			PortBase:               PortBase,
			NumPorts:               NumPorts,
			FrameSize:              options.FrameSize,
			NotificationBufferSize: options.NotificationBufferSize,
		},
		routes: make(map[protocol.NetID]string),
		conns:  make(map[string]*connEntry),
		log:    log,
	}
}

func (r *Router) LocalNetID() protocol.NetID {
	return r.localNetID
}

// OpenPort hands out the lowest local port that is not open yet.
func (r *Router) OpenPort() (uint16, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, open := range r.ports {
		if !open {
			r.ports[i] = true
			return uint16(PortBase + i), nil
		}
	}

	return 0, ErrNoFreePort
}

func (r *Router) ClosePort(port uint16) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if port < PortBase || int(port-PortBase) >= NumPorts || !r.ports[port-PortBase] {
		return fmt.Errorf("Failed to close port %d: %w", port, ErrPortNotOpen)
	}

	r.ports[port-PortBase] = false
	return nil
}

// AddRoute routes netID to the AMS router at host, dialing host unless a
// live connection to it exists already.
func (r *Router) AddRoute(ctx context.Context, netID protocol.NetID, host string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.routes[netID]; ok {
		if current == host {
			return nil
		}

		return fmt.Errorf("Failed to route %s to %s, routed to %s: %w", netID, host, current, ErrRouteConflict)
	}

	entry, ok := r.conns[host]
	if ok && !isAlive(entry.conn) {
		r.log.Info("Replacing dead connection", zap.String("host", host))

		if err := entry.conn.Close(); err != nil {
			r.log.Warn("Failed to close dead connection", zap.String("host", host), zap.Error(err))
		}
		ok = false
	}

	if !ok {
		options := r.connOptions
		options.Log = r.log.Named("conn").With(zap.String("host", host))

		conn, err := client.Dial(ctx, r.network, host, options)
		if err != nil {
			return err
		}

		var refs int
		if entry != nil {
			refs = entry.refs
		}

		entry = &connEntry{conn: conn, refs: refs}
		r.conns[host] = entry
	}

	entry.refs++
	r.routes[netID] = host

	r.log.Info("Added route", zap.Stringer("netID", netID), zap.String("host", host))

	return nil
}

// DelRoute drops the route of netID and closes its connection once no other
// route uses it.
func (r *Router) DelRoute(netID protocol.NetID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	host, ok := r.routes[netID]
	if !ok {
		return fmt.Errorf("Failed to delete route of %s: %w", netID, ErrNoRoute)
	}

	delete(r.routes, netID)

	entry := r.conns[host]
	entry.refs--
	if entry.refs > 0 {
		return nil
	}

	delete(r.conns, host)

	r.log.Info("Closing unused connection", zap.String("host", host))

	return entry.conn.Close()
}

// GetConnection returns the connection netID is routed over, or nil.
func (r *Router) GetConnection(netID protocol.NetID) *client.Conn {
	r.mu.Lock()
	defer r.mu.Unlock()

	host, ok := r.routes[netID]
	if !ok {
		return nil
	}

	return r.conns[host].conn
}

// Close closes every connection and forgets all routes.
func (r *Router) Close() (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for host, entry := range r.conns {
		err = multierr.Append(err, entry.conn.Close())
		delete(r.conns, host)
	}

	r.routes = make(map[protocol.NetID]string)

	return err
}

func isAlive(conn *client.Conn) bool {
	select {
	case <-conn.Done():
		return false

	default:
		return true
	}
}
