package cache

import (
	"sync"
)

// ResolutionCacheStats tracks cache performance counters.
type ResolutionCacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`
}

// ResolutionCache maps channel handles to resolved channel identifiers.
// Resolution is assumed stable for the process lifetime, so entries are
// never evicted. Writes are idempotent: resolving the same handle twice
// yields the same identifier, so last-write-wins races are harmless.
type ResolutionCache struct {
	mu      sync.RWMutex
	entries map[string]string
	stats   ResolutionCacheStats
}

// NewResolutionCache creates an empty handle resolution cache.
func NewResolutionCache() *ResolutionCache {
	return &ResolutionCache{
		entries: make(map[string]string),
	}
}

// Get returns the cached channel identifier for a handle.
func (c *ResolutionCache) Get(handle string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, ok := c.entries[handle]
	if ok {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
	return id, ok
}

// Set stores a resolved channel identifier for a handle.
func (c *ResolutionCache) Set(handle, channelID string) {
	if handle == "" || channelID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[handle] = channelID
	c.stats.Sets++
}

// Len returns the number of cached resolutions.
func (c *ResolutionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns a copy of the current counters.
func (c *ResolutionCache) Stats() ResolutionCacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}
