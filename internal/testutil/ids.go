package testutil

import (
	"fmt"
	"sync"
)

// FixedIDGenerator returns sequential, predictable ids ("id-1", "id-2",
// ...) for deterministic event and correlation ids in tests and golden
// traces.
//
// Thread-safety: safe for concurrent use via internal mutex.
type FixedIDGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewFixedIDGenerator creates a generator with the given prefix.
func NewFixedIDGenerator(prefix string) *FixedIDGenerator {
	return &FixedIDGenerator{prefix: prefix}
}

// NewID returns the next sequential id.
func (g *FixedIDGenerator) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
