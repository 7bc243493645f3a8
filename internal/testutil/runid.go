package testutil

import (
	"strconv"
	"sync"
)

// FixedIDGenerator always returns the same run ID.
//
// Useful when a test only cares that an ID is threaded through, not that
// it is unique. If id is empty, Generate returns "test-run-fixed".
type FixedIDGenerator struct {
	id string
}

// NewFixedIDGenerator creates a generator that always returns id.
func NewFixedIDGenerator(id string) *FixedIDGenerator {
	if id == "" {
		id = "test-run-fixed"
	}
	return &FixedIDGenerator{id: id}
}

// Generate returns the fixed ID. Implements run.IDGenerator.
func (g *FixedIDGenerator) Generate() string {
	return g.id
}

// SequencedIDGenerator returns "run-1", "run-2", ... in call order.
//
// Golden traces use it so each pass's run ID is stable and readable.
// Thread-safe.
type SequencedIDGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequencedIDGenerator creates a generator with the given prefix.
// An empty prefix defaults to "run".
func NewSequencedIDGenerator(prefix string) *SequencedIDGenerator {
	if prefix == "" {
		prefix = "run"
	}
	return &SequencedIDGenerator{prefix: prefix}
}

// Generate returns the next ID in the sequence.
func (g *SequencedIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return g.prefix + "-" + strconv.Itoa(g.n)
}
