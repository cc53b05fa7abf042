// Package storage keeps the values received from device notifications: the
// latest value per variable in a JSON document, and optionally every sample
// in a sqlite database.
package storage

import (
	"context"
	"time"
)

// Update is sent to listeners whenever a key of a Store changes. Value is
// the raw JSON of the new value.
type Update struct {
	Key   []byte
	Value []byte
}

// Sample is a single notification value of a watched variable.
type Sample struct {
	Name      string    `json:"name"`
	Source    string    `json:"source"`
	Handle    uint32    `json:"handle"`
	Timestamp time.Time `json:"timestamp"`
	Data      []byte    `json:"data"`
}

type Store interface {
	Set(ctx context.Context, key []byte, value interface{}) error
	Get(ctx context.Context, key []byte) ([]byte, error)

	Restore(values []byte) error
	Backup() ([]byte, error)

	ListenToUpdates() <-chan *Update

	Close() error
}
