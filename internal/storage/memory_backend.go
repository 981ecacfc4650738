package storage

import (
	"context"
	"sync"
)

// MemoryBackend is an in-memory implementation of Backend for tests and
// throwaway sessions.
type MemoryBackend struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryBackend creates a new in-memory storage backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		values: make(map[string]string),
	}
}

// Initialize implements Backend.
func (m *MemoryBackend) Initialize(path string, readOnly bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = make(map[string]string)
	}
	return nil
}

// Close implements Backend.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = nil
	return nil
}

// Get implements Backend.
func (m *MemoryBackend) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.values == nil {
		return "", false, ErrNotInitialized
	}
	v, ok := m.values[key]
	return v, ok, nil
}

// Set implements Backend.
func (m *MemoryBackend) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		return ErrNotInitialized
	}
	m.values[key] = value
	return nil
}

// Remove implements Backend.
func (m *MemoryBackend) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		return ErrNotInitialized
	}
	delete(m.values, key)
	return nil
}
