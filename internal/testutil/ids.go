package testutil

import (
	"fmt"
	"sync"
)

// SequenceGenerator returns "<prefix>-1", "<prefix>-2", ... in order.
//
// This enables deterministic operation ids in tests and golden snapshots.
// Implements queue.IDGenerator.
//
// Thread-safety: SequenceGenerator is safe for concurrent use via internal mutex.
type SequenceGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceGenerator creates a generator. An empty prefix means "op".
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	if prefix == "" {
		prefix = "op"
	}
	return &SequenceGenerator{prefix: prefix}
}

// Generate returns the next id.
func (g *SequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
