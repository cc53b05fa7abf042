package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var ErrInvalidJSON = errors.New("Values are not a valid JSON document")

// InmemoryStore holds all values in a single JSON document. Keys are gjson
// paths, so "MAIN.counter" is stored as {"MAIN":{"counter":...}}.
type InmemoryStore struct {
	mu          sync.RWMutex
	values      []byte
	updateChans []chan *Update

	// stop is closed when Close() is called
	stop      chan struct{}
	closeOnce sync.Once
}

func NewInmemoryStore() *InmemoryStore {
	return &InmemoryStore{
		values:      []byte(""),
		stop:        make(chan struct{}),
		updateChans: make([]chan *Update, 0),
	}
}

func (i *InmemoryStore) Close() error {
	i.closeOnce.Do(func() {
		close(i.stop)

		i.mu.Lock()
		defer i.mu.Unlock()

		for _, updateChan := range i.updateChans {
			close(updateChan)
		}
		i.updateChans = nil
	})

	return nil
}

// Set stores value under key and passes the change on to every listener.
// Listeners that fell behind miss the update.
func (i *InmemoryStore) Set(ctx context.Context, key []byte, value interface{}) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	values, err := sjson.SetBytes(i.values, string(key), value)
	if err != nil {
		return err
	}
	i.values = values

	if !i.isRunning() {
		return nil
	}

	update := &Update{
		Key:   key,
		Value: []byte(gjson.GetBytes(i.values, string(key)).Raw),
	}

	for _, updateChan := range i.updateChans {
		select {
		case updateChan <- update:
		default:
		}
	}

	return nil
}

// Get returns the raw JSON stored under key, empty when there is none.
func (i *InmemoryStore) Get(ctx context.Context, key []byte) ([]byte, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	result := gjson.GetBytes(i.values, string(key))

	return []byte(result.Raw), nil
}

func (i *InmemoryStore) ListenToUpdates() <-chan *Update {
	i.mu.Lock()
	defer i.mu.Unlock()

	updateChan := make(chan *Update, 255)
	if !i.isRunning() {
		close(updateChan)
		return updateChan
	}

	i.updateChans = append(i.updateChans, updateChan)

	return updateChan
}

func (i *InmemoryStore) Restore(values []byte) error {
	if len(values) > 0 && !gjson.ValidBytes(values) {
		return ErrInvalidJSON
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	i.values = append([]byte(nil), values...)
	return nil
}

func (i *InmemoryStore) Backup() ([]byte, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if len(i.values) == 0 {
		return []byte("{}"), nil
	}

	return append([]byte(nil), i.values...), nil
}

// isRunning returns true if Close has not been called
func (i *InmemoryStore) isRunning() bool {
	select {
	case <-i.stop:
		return false

	default:
		return true
	}
}

var _ Store = (*InmemoryStore)(nil)
