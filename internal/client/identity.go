package client

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/statesync/internal/client/kv"
)

// IDGenerator produces new client IDs.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 client IDs.
//
// UUIDv7 embeds a timestamp in the most significant bits, so server-side
// document listings sort roughly by when each installation first ran.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// FixedGenerator returns predetermined client IDs for testing.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu  sync.Mutex
	ids []string
	idx int
}

// NewFixedGenerator creates a generator that returns ids in order.
//
// Example:
//
//	gen := NewFixedGenerator("client-1", "client-2")
//	gen.Generate() // "client-1"
//	gen.Generate() // "client-2"
//	gen.Generate() // panic: all ids exhausted
func NewFixedGenerator(ids ...string) *FixedGenerator {
	return &FixedGenerator{ids: ids}
}

// Generate returns the next predetermined id.
//
// Panics if all ids have been consumed, which means a test created more
// clients than it planned for.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.ids) {
		panic("FixedGenerator: all ids exhausted")
	}
	id := g.ids[g.idx]
	g.idx++
	return id
}

// ResolveClientID picks this installation's sync identity.
//
// A configured id always wins and is persisted so later runs without
// configuration keep it. Otherwise the persisted id is used, and on first
// run a new one is generated and persisted.
func ResolveClientID(store kv.Store, configured string, gen IDGenerator) (string, error) {
	if configured != "" {
		stored, ok, err := store.GetItem(keyClientID)
		if err != nil {
			return "", fmt.Errorf("resolve client id: %w", err)
		}
		if !ok || stored != configured {
			if err := store.SetItem(keyClientID, configured); err != nil {
				return "", fmt.Errorf("resolve client id: %w", err)
			}
		}
		return configured, nil
	}

	stored, ok, err := store.GetItem(keyClientID)
	if err != nil {
		return "", fmt.Errorf("resolve client id: %w", err)
	}
	if ok && stored != "" {
		return stored, nil
	}

	id := gen.Generate()
	if err := store.SetItem(keyClientID, id); err != nil {
		return "", fmt.Errorf("resolve client id: %w", err)
	}
	return id, nil
}
