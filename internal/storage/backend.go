// Package storage provides the key-value blob stores that persist the canvas.
//
// A Backend is an opaque string store with get/set/remove. The canvas is kept
// under a single fixed key as codec text; a missing key means an empty canvas.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
)

const (
	// StateKey is the key holding the encoded canvas.
	StateKey = "canvas_state/nodes"

	// ColorKey holds the palette index of the next connection color.
	ColorKey = "canvas_state/color_index"
)

// ErrNotInitialized is returned when a backend is used before Initialize.
var ErrNotInitialized = errors.New("storage backend not initialized")

// Backend defines the interface for blob store implementations.
//
// Implementations must be thread-safe and support concurrent access.
type Backend interface {
	// Initialize opens or creates the store at the given path.
	// If readOnly is true, the store is opened in read-only mode.
	Initialize(path string, readOnly bool) error

	// Close releases all resources held by the backend.
	Close() error

	// Get returns the value stored under key. ok is false if the key is absent.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key, value string) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
}

// Kind names a backend implementation.
type Kind string

const (
	KindBadger Kind = "badger"
	KindSQLite Kind = "sqlite"
	KindMemory Kind = "memory"
)

// Open creates and initializes the backend of the given kind inside dataDir.
func Open(kind Kind, dataDir string, readOnly bool) (Backend, error) {
	var (
		b    Backend
		path string
	)
	switch kind {
	case KindBadger, "":
		b, path = NewBadgerBackend(), filepath.Join(dataDir, "badger")
	case KindSQLite:
		b, path = NewSQLiteBackend(), filepath.Join(dataDir, "calcgraph.db")
	case KindMemory:
		b = NewMemoryBackend()
	default:
		return nil, fmt.Errorf("unknown storage backend %q", kind)
	}

	if err := b.Initialize(path, readOnly); err != nil {
		return nil, fmt.Errorf("initializing %s storage: %w", kind, err)
	}
	return b, nil
}
