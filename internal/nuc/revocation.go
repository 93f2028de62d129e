package nuc

import (
	"context"
	"sync"
	"time"

	"github.com/nilbase/nildb/internal/metrics"
)

// Journal is the durable revocation store — the catalog's revoked_tokens
// table, reached through a narrow interface so this package never imports
// internal/database directly.
type Journal interface {
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

type cacheEntry struct {
	revoked   bool
	expiresAt time.Time
}

// RevocationCache is a short-TTL positive/negative cache in front of the
// revocation journal, so the hot verification path in spec §4.3 step 7
// doesn't hit the catalog on every request. Grounded on the teacher's
// TokenBlacklist: a mutex-guarded map with a background sweep, generalized
// from "always revoked once present" to an expiring, re-checked answer
// since entries here must fall back to the durable journal, not act as
// the source of truth themselves.
type RevocationCache struct {
	journal Journal
	ttl     time.Duration

	mu      sync.RWMutex
	entries map[string]cacheEntry

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewRevocationCache starts a cache backed by journal with the given
// per-entry TTL and a background sweep that runs every ttl to drop stale
// entries.
func NewRevocationCache(journal Journal, ttl time.Duration) *RevocationCache {
	c := &RevocationCache{
		journal: journal,
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		stopCh:  make(chan struct{}),
	}

	c.wg.Add(1)
	go c.sweep()

	return c
}

// IsRevoked reports whether tokenID appears in the revocation journal,
// consulting the cache first and refreshing it on a miss or expiry.
func (c *RevocationCache) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	if entry, ok := c.cached(tokenID); ok {
		metrics.RecordRevocationCacheLookup("hit")
		return entry.revoked, nil
	}

	revoked, err := c.journal.IsRevoked(ctx, tokenID)
	if err != nil {
		metrics.RecordRevocationCacheLookup("error")
		return false, err
	}

	c.mu.Lock()
	c.entries[tokenID] = cacheEntry{revoked: revoked, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()

	metrics.RecordRevocationCacheLookup("miss")
	return revoked, nil
}

func (c *RevocationCache) cached(tokenID string) (cacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[tokenID]
	if !ok || time.Now().After(entry.expiresAt) {
		return cacheEntry{}, false
	}
	return entry, true
}

func (c *RevocationCache) sweep() {
	defer c.wg.Done()

	interval := c.ttl
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for id, entry := range c.entries {
				if now.After(entry.expiresAt) {
					delete(c.entries, id)
				}
			}
			c.mu.Unlock()
		case <-c.stopCh:
			return
		}
	}
}

// Stop halts the background sweep.
func (c *RevocationCache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}
