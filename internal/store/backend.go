package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/statesync/internal/config"
)

// ErrNotFound is returned by Backend.Get for a key that was never written
// or has been deleted.
var ErrNotFound = errors.New("store: not found")

// Backend is a flat key/blob store. Implementations must be safe for
// concurrent use. Put replaces the whole blob; Delete of a missing key is
// not an error; List returns keys with the given prefix in ascending order.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// OpenBackend opens the backend selected by cfg.Backend.
func OpenBackend(ctx context.Context, cfg config.Storage) (Backend, error) {
	switch cfg.Backend {
	case config.BackendSQLite, "":
		return OpenSQLite(cfg.Path)
	case config.BackendFile:
		return NewFileBackend(cfg.Dir)
	case config.BackendS3:
		return NewS3Backend(ctx, cfg.S3)
	case config.BackendRedis:
		return NewRedisBackend(ctx, cfg.Redis)
	case config.BackendPostgres:
		return NewPostgresBackend(ctx, cfg.Postgres.DSN)
	case config.BackendMemory:
		return NewMemoryBackend(), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}

// MemoryBackend keeps blobs in a map. Stored slices are copied in both
// directions so callers cannot alias them.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string][]byte)}
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(data), nil
}

func (m *MemoryBackend) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = slices.Clone(data)
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryBackend) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

func (m *MemoryBackend) Close() error {
	return nil
}
