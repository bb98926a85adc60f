// Package idpool allocates compact uint32 identifiers from a bounded
// range and maps each live identifier to a caller-owned handle. A pool
// hands out ascending identifiers until the upper bound, then wraps and
// reuses freed ones.
package idpool

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrExhausted is returned by Allocate when every identifier in the
// pool's range is live.
var ErrExhausted = errors.New("idpool: id range exhausted")

// Pool maps identifiers in [lo, hi] to handles of type T. All methods
// are safe for concurrent use. Callers that look up a handle from a
// goroutine other than the pool owner's and then act on it must bracket
// the lookup and the use with Lock/Unlock so the handle cannot be
// unlinked in between.
type Pool[T any] struct {
	mu      sync.Mutex
	entries map[uint32]T
	lo, hi  uint32
	next    uint32

	// use serializes cross-goroutine handle use against Free. Free
	// acquires it before unlinking, so a holder of Lock observes a
	// stable table slice for the duration.
	use sync.Mutex
}

// New returns a pool handing out identifiers in the inclusive range
// [lo, hi]. New panics if the range is inverted.
func New[T any](lo, hi uint32) *Pool[T] {
	if hi < lo {
		panic(fmt.Sprintf("idpool: inverted range [%d, %d]", lo, hi))
	}
	return &Pool[T]{
		entries: make(map[uint32]T),
		lo:      lo,
		hi:      hi,
		next:    lo,
	}
}

// Allocate binds handle to a fresh identifier and returns it. Identifiers
// ascend until the top of the range, after which freed ones are reused.
// Returns ErrExhausted when no identifier is free.
func (p *Pool[T]) Allocate(handle T) (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	span := uint64(p.hi) - uint64(p.lo) + 1
	if uint64(len(p.entries)) >= span {
		return 0, ErrExhausted
	}
	id := p.next
	for {
		if _, taken := p.entries[id]; !taken {
			break
		}
		if id == p.hi {
			id = p.lo
		} else {
			id++
		}
	}
	p.entries[id] = handle
	if id == p.hi {
		p.next = p.lo
	} else {
		p.next = id + 1
	}
	return id, nil
}

// Lookup returns the handle bound to id, if any.
func (p *Pool[T]) Lookup(id uint32) (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.entries[id]
	return h, ok
}

// Free unlinks id. Freeing an identifier that is not live is a caller
// bug and panics.
func (p *Pool[T]) Free(id uint32) {
	p.use.Lock()
	defer p.use.Unlock()
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.entries[id]; !ok {
		panic(fmt.Sprintf("idpool: free of unallocated id %d", id))
	}
	delete(p.entries, id)
}

// Used returns the number of live identifiers.
func (p *Pool[T]) Used() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// ForEach visits every live (id, handle) pair in ascending id order.
// The visitor must not allocate or free on the same pool; returning
// false stops the walk.
func (p *Pool[T]) ForEach(visit func(id uint32, handle T) bool) {
	p.mu.Lock()
	ids := make([]uint32, 0, len(p.entries))
	for id := range p.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	pairs := make([]T, len(ids))
	for i, id := range ids {
		pairs[i] = p.entries[id]
	}
	p.mu.Unlock()

	for i, id := range ids {
		if !visit(id, pairs[i]) {
			return
		}
	}
}

// Lock pins the table against Free. Hold it while acting on a handle
// obtained via Lookup from a goroutine that does not own the pool.
func (p *Pool[T]) Lock() { p.use.Lock() }

// Unlock releases the pin taken by Lock.
func (p *Pool[T]) Unlock() { p.use.Unlock() }
