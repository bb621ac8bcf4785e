package storage

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("storage: key not found")
	ErrClosed   = errors.New("storage: store is closed")
)

// Store is a JSON document addressed by gjson paths, e.g. "settings.general.version".
type Store interface {
	Set(ctx context.Context, key string, value interface{}) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error

	Restore(values []byte) error
	Backup() ([]byte, error)

	// ListenToUpdates returns a channel of changes and a func that stops
	// them and closes the channel.
	ListenToUpdates() (<-chan *Update, func())

	Close() error
}

// Update is a change to a single key. Value is the raw JSON of the new
// value, nil when the key was deleted.
type Update struct {
	Key   string
	Value []byte
}
