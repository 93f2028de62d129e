package catalog

import (
	"sync"

	"github.com/nilbase/nildb/internal/ids"
)

// BuilderCache is the process-wide, in-memory builder cache spec §4.2
// describes: a map from DID to cached Builder record with a taint
// operation. Any mutation that could change the cached fields (create or
// delete a collection, delete the builder) taints the entry so the next
// read refreshes from the store; reads may be stale only between a
// mutation's commit and the next taint-triggered refresh.
//
// Grounded on the teacher's internal/auth/blacklist.go (mutex-guarded map +
// background cleanup), generalized from time-based expiry to an explicit,
// mutation-driven taint since builder records don't expire on their own.
type BuilderCache struct {
	mu      sync.RWMutex
	entries map[ids.DID]*Builder
}

// NewBuilderCache returns an empty cache.
func NewBuilderCache() *BuilderCache {
	return &BuilderCache{entries: make(map[ids.DID]*Builder)}
}

// Get returns the cached builder for did, if present and not tainted.
func (c *BuilderCache) Get(did ids.DID) (*Builder, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.entries[did]
	return b, ok
}

// Put stores or replaces the cached builder for did.
func (c *BuilderCache) Put(b *Builder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[b.ID] = b
}

// Taint invalidates the cached entry for did, forcing the next Get to miss
// and the caller to refresh from the store.
func (c *BuilderCache) Taint(did ids.DID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, did)
}

// Count reports the number of cached entries (for tests/monitoring).
func (c *BuilderCache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
