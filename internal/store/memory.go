package store

import (
	"context"
	"slices"
	"sync"
)

// historyDepth is how many superseded values a backend keeps per key.
const historyDepth = 8

// Memory is a process-local Backend.
type Memory struct {
	mu      sync.Mutex
	entries map[string][]byte
	history map[string][][]byte
}

// NewMemory returns an empty Memory backend.
func NewMemory() *Memory {
	return &Memory{
		entries: map[string][]byte{},
		history: map[string][][]byte{},
	}
}

func (m *Memory) Load(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(v), true, nil
}

func (m *Memory) Save(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushHistory(key)
	m.entries[key] = slices.Clone(value)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushHistory(key)
	delete(m.entries, key)
	return nil
}

func (m *Memory) pushHistory(key string) {
	prev, ok := m.entries[key]
	if !ok {
		return
	}
	h := append(m.history[key], prev)
	if len(h) > historyDepth {
		h = h[len(h)-historyDepth:]
	}
	m.history[key] = h
}

// History implements Historian.
func (m *Memory) History(_ context.Context, key string) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.history[key]))
	for i, v := range m.history[key] {
		out[i] = slices.Clone(v)
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
