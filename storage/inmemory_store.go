package storage

import (
	"context"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const UpdateBufferSize = 255

type InmemoryStore struct {
	mu     sync.RWMutex
	values []byte

	listenersMu sync.Mutex
	listeners   map[chan *Update]struct{}

	// stop will be closed when Close() is called
	stop chan struct{}
}

func NewInmemoryStore() *InmemoryStore {
	return &InmemoryStore{
		values:    []byte("{}"),
		stop:      make(chan struct{}),
		listeners: make(map[chan *Update]struct{}),
	}
}

func (i *InmemoryStore) Close() error {
	i.listenersMu.Lock()
	defer i.listenersMu.Unlock()

	if !i.isRunning() {
		return nil
	}
	close(i.stop)

	for ch := range i.listeners {
		close(ch)
		delete(i.listeners, ch)
	}

	return nil
}

// Set writes value at key and notifies every listener. It waits for slow
// listeners until ctx is done.
func (i *InmemoryStore) Set(ctx context.Context, key string, value interface{}) error {
	if !i.isRunning() {
		return ErrClosed
	}

	i.mu.Lock()
	values, err := sjson.SetBytes(i.values, key, value)
	if err != nil {
		i.mu.Unlock()
		return err
	}
	i.values = values
	raw := []byte(gjson.GetBytes(i.values, key).Raw)
	i.mu.Unlock()

	return i.notify(ctx, &Update{Key: key, Value: raw})
}

func (i *InmemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	result := gjson.GetBytes(i.values, key)
	if !result.Exists() {
		return nil, ErrNotFound
	}

	return []byte(result.Raw), nil
}

func (i *InmemoryStore) Delete(ctx context.Context, key string) error {
	if !i.isRunning() {
		return ErrClosed
	}

	i.mu.Lock()
	if !gjson.GetBytes(i.values, key).Exists() {
		i.mu.Unlock()
		return ErrNotFound
	}

	values, err := sjson.DeleteBytes(i.values, key)
	if err != nil {
		i.mu.Unlock()
		return err
	}
	i.values = values
	i.mu.Unlock()

	return i.notify(ctx, &Update{Key: key})
}

func (i *InmemoryStore) ListenToUpdates() (<-chan *Update, func()) {
	i.listenersMu.Lock()
	defer i.listenersMu.Unlock()

	ch := make(chan *Update, UpdateBufferSize)
	if !i.isRunning() {
		close(ch)
		return ch, func() {}
	}
	i.listeners[ch] = struct{}{}

	return ch, func() {
		i.listenersMu.Lock()
		defer i.listenersMu.Unlock()

		if _, ok := i.listeners[ch]; ok {
			delete(i.listeners, ch)
			close(ch)
		}
	}
}

// Restore replaces the whole document without notifying listeners.
func (i *InmemoryStore) Restore(values []byte) error {
	if len(values) == 0 {
		values = []byte("{}")
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	i.values = append([]byte(nil), values...)
	return nil
}

func (i *InmemoryStore) Backup() ([]byte, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	return append([]byte(nil), i.values...), nil
}

func (i *InmemoryStore) notify(ctx context.Context, update *Update) error {
	i.listenersMu.Lock()
	defer i.listenersMu.Unlock()

	for ch := range i.listeners {
		select {
		case ch <- update:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
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
