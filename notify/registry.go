package notify

import (
	"sync"

	"go.uber.org/zap"
)

// Registry maps virtual connections to their dispatchers. Dispatchers are
// created on first use and live until the registry is closed.
type Registry struct {
	mu          sync.Mutex
	dispatchers map[VirtualConnection]*Dispatcher
	closed      bool

	bufferSize int
	log        *zap.Logger
}

func NewRegistry(bufferSize int, log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}

	return &Registry{
		dispatchers: make(map[VirtualConnection]*Dispatcher),
		bufferSize:  bufferSize,
		log:         log,
	}
}

// Add returns the dispatcher for conn, creating it if there is none yet.
// Concurrent callers for the same conn all get the same dispatcher.
func (r *Registry) Add(conn VirtualConnection) *Dispatcher {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.dispatchers[conn]; ok {
		return d
	}

	d := NewDispatcher(conn, r.bufferSize, r.log.Named("dispatcher"))
	if r.closed {
		// Hand out a working but stopped dispatcher, nothing will feed it.
		d.Close()
		return d
	}

	r.dispatchers[conn] = d

	return d
}

// Get returns the dispatcher for conn, or nil.
func (r *Registry) Get(conn VirtualConnection) *Dispatcher {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.dispatchers[conn]
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.dispatchers)
}

// Close stops every dispatcher.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	dispatchers := make([]*Dispatcher, 0, len(r.dispatchers))
	for _, d := range r.dispatchers {
		dispatchers = append(dispatchers, d)
	}
	r.mu.Unlock()

	for _, d := range dispatchers {
		d.Close()
	}
}
