package testutil

import (
	"fmt"
	"sync"
)

// SequenceIDGenerator generates numbered ids: "client-0001", "client-0002", ...
//
// Unlike client.FixedGenerator, which panics once its list runs out, this
// generator never exhausts. Use it when a test creates an unknown number of
// installations but still needs stable ids for golden comparison.
//
// Thread-safety: SequenceIDGenerator is safe for concurrent use via internal mutex.
type SequenceIDGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceIDGenerator creates a generator for ids starting with prefix.
//
// If prefix is empty, "client" is used.
func NewSequenceIDGenerator(prefix string) *SequenceIDGenerator {
	if prefix == "" {
		prefix = "client"
	}
	return &SequenceIDGenerator{prefix: prefix}
}

// Generate returns the next id in the sequence.
//
// Implements client.IDGenerator.
func (g *SequenceIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}
