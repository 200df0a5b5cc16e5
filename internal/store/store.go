package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ErrNoHistory is returned by Map.History when the backend keeps none.
var ErrNoHistory = errors.New("backend does not keep history")

// Backend is the raw key/value storage behind a Map.
type Backend interface {
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Save(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Historian is implemented by backends that keep superseded values.
type Historian interface {
	History(ctx context.Context, key string) ([][]byte, error)
}

// Observer is called after a key changes. value is nil when the key was
// deleted. Observers run synchronously on the writing goroutine.
type Observer func(ctx context.Context, key string, value []byte)

// Map is a persistent map with defaults and change observers.
type Map struct {
	backend  Backend
	defaults map[string][]byte

	mu        sync.Mutex
	observers map[int]Observer
	nextObs   int
}

// Option configures a Map.
type Option func(*Map)

// WithDefault registers the value RestoreDefault writes for key and Get
// returns while key is unset.
func WithDefault(key string, value []byte) Option {
	return func(m *Map) {
		m.defaults[key] = slices.Clone(value)
	}
}

// New wraps a backend.
func New(b Backend, opts ...Option) *Map {
	m := &Map{
		backend:   b,
		defaults:  map[string][]byte{},
		observers: map[int]Observer{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewMemoryMap returns a Map over a fresh Memory backend.
func NewMemoryMap(opts ...Option) *Map {
	return New(NewMemory(), opts...)
}

// Get returns the value stored under key, falling back to the registered
// default. ok is false when neither exists.
func (m *Map) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok, err := m.backend.Load(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("load %q: %w", key, err)
	}
	if ok {
		return v, true, nil
	}
	if d, ok := m.defaults[key]; ok {
		return slices.Clone(d), true, nil
	}
	return nil, false, nil
}

// Set stores value under key and notifies observers.
func (m *Map) Set(ctx context.Context, key string, value []byte) error {
	if err := m.backend.Save(ctx, key, value); err != nil {
		return fmt.Errorf("save %q: %w", key, err)
	}
	m.notify(ctx, key, value)
	return nil
}

// RestoreDefault resets key to its registered default, or deletes it when
// none is registered.
func (m *Map) RestoreDefault(ctx context.Context, key string) error {
	d, ok := m.defaults[key]
	if !ok {
		if err := m.backend.Delete(ctx, key); err != nil {
			return fmt.Errorf("delete %q: %w", key, err)
		}
		m.notify(ctx, key, nil)
		return nil
	}
	return m.Set(ctx, key, slices.Clone(d))
}

// History returns superseded values for key, oldest first.
func (m *Map) History(ctx context.Context, key string) ([][]byte, error) {
	h, ok := m.backend.(Historian)
	if !ok {
		return nil, ErrNoHistory
	}
	return h.History(ctx, key)
}

// Observe registers fn and returns a function that unregisters it.
func (m *Map) Observe(fn Observer) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextObs
	m.nextObs++
	m.observers[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.observers, id)
	}
}

func (m *Map) notify(ctx context.Context, key string, value []byte) {
	m.mu.Lock()
	ids := make([]int, 0, len(m.observers))
	for id := range m.observers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]Observer, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, m.observers[id])
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(ctx, key, value)
	}
}

// Close closes the backend.
func (m *Map) Close() error {
	if m.backend == nil {
		return nil
	}
	return m.backend.Close()
}
