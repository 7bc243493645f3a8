// Package pool implements the methodology pool: a set-with-memory that
// hands out methodologies at random without replacement within a clean
// streak.
package pool

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"github.com/kestrelworks/kestrel/internal/audit"
)

// ErrEmpty is returned when a pool is constructed with no methodologies.
var ErrEmpty = errors.New("methodology pool is empty")

// Pool partitions a fixed set of methodologies into available and used.
//
// State machine:
//   - Sample() picks uniformly at random among available entries. Sampling
//     does NOT move the entry to used; that happens only via MarkUsed(),
//     after the pass that used it comes back clean. If nothing is
//     available, Sample performs an implicit Reset first (exhaustion
//     protection) and then samples from the full pool.
//   - Reset() returns every entry to available. The convergence loop calls
//     it whenever a pass finds an issue.
//
// INVARIANT: within one unbroken run of consecutive clean passes, no
// methodology is sampled twice, because every clean pass marks its
// methodology used and Sample never picks a used entry.
//
// Thread-safety: guarded by a mutex, though the convergence loop owns the
// pool exclusively and drives it sequentially.
type Pool struct {
	mu      sync.Mutex
	entries []audit.Methodology
	used    map[string]bool
	intn    func(n int) int
}

// Option configures a Pool.
type Option func(*Pool)

// WithRand seeds sampling from the given source. Defaults to a source
// seeded from math/rand's global state.
func WithRand(src rand.Source) Option {
	return func(p *Pool) { p.intn = rand.New(src).Intn }
}

// WithIntn injects the index-picking function directly. Tests and the
// conformance harness use this to script which methodology is drawn.
func WithIntn(intn func(n int) int) Option {
	return func(p *Pool) { p.intn = intn }
}

// New creates a pool over the fixed methodology set.
// Returns ErrEmpty for an empty set and an error on duplicate names.
func New(entries []audit.Methodology, opts ...Option) (*Pool, error) {
	if len(entries) == 0 {
		return nil, ErrEmpty
	}
	names := make(map[string]bool, len(entries))
	for _, m := range entries {
		if names[m.Name] {
			return nil, fmt.Errorf("duplicate methodology %q", m.Name)
		}
		names[m.Name] = true
	}

	p := &Pool{
		entries: append([]audit.Methodology(nil), entries...),
		used:    make(map[string]bool),
		intn:    rand.Intn,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Sample returns a methodology drawn uniformly among available entries.
// An exhausted pool resets implicitly before sampling; that reset touches
// only the pool, never the caller's clean-streak counter.
func (p *Pool) Sample() audit.Methodology {
	p.mu.Lock()
	defer p.mu.Unlock()

	available := p.availableLocked()
	if len(available) == 0 {
		p.used = make(map[string]bool)
		available = p.availableLocked()
	}
	return available[p.intn(len(available))]
}

// MarkUsed moves a methodology to the used partition. Called by the
// convergence loop only after a clean pass. Unknown names are ignored.
func (p *Pool) MarkUsed(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range p.entries {
		if m.Name == name {
			p.used[name] = true
			return
		}
	}
}

// Reset returns every methodology to the available partition.
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.used = make(map[string]bool)
}

// RestoreUsed replaces the used partition wholesale; resume support.
// Returns an error if any name is not in the pool.
func (p *Pool) RestoreUsed(names []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	known := make(map[string]bool, len(p.entries))
	for _, m := range p.entries {
		known[m.Name] = true
	}
	restored := make(map[string]bool, len(names))
	for _, name := range names {
		if !known[name] {
			return fmt.Errorf("unknown methodology %q", name)
		}
		restored[name] = true
	}
	p.used = restored
	return nil
}

// Available returns the names of available methodologies, sorted.
func (p *Pool) Available() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var names []string
	for _, m := range p.availableLocked() {
		names = append(names, m.Name)
	}
	sort.Strings(names)
	return names
}

// Used returns the names of used methodologies, sorted.
func (p *Pool) Used() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	names := make([]string, 0, len(p.used))
	for name := range p.used {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Size returns the total pool size.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// availableLocked lists available entries in declaration order.
// Caller must hold p.mu.
func (p *Pool) availableLocked() []audit.Methodology {
	var available []audit.Methodology
	for _, m := range p.entries {
		if !p.used[m.Name] {
			available = append(available, m)
		}
	}
	return available
}
