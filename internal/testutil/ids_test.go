package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequenceIDGenerator_Numbers(t *testing.T) {
	gen := NewSequenceIDGenerator("device")

	assert.Equal(t, "device-0001", gen.Generate())
	assert.Equal(t, "device-0002", gen.Generate())
	assert.Equal(t, "device-0003", gen.Generate())
}

func TestSequenceIDGenerator_EmptyPrefixDefault(t *testing.T) {
	gen := NewSequenceIDGenerator("")
	assert.Equal(t, "client-0001", gen.Generate())
}

func TestSequenceIDGenerator_ThreadSafe(t *testing.T) {
	gen := NewSequenceIDGenerator("x")

	var (
		mu   sync.Mutex
		seen = make(map[string]bool)
		wg   sync.WaitGroup
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := gen.Generate()
				mu.Lock()
				assert.False(t, seen[id], "duplicate id %s", id)
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 1000)
}
