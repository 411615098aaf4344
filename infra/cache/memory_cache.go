package cache

import (
	"context"
	"sync"
	"time"

	"github.com/amirasaad/persistence/pkg/clock"
)

// MemoryCache implements Cache in process.
type MemoryCache struct {
	entries map[string]cacheEntry
	mu      sync.RWMutex
	clock   clock.Clock
	stop    chan struct{}
	once    sync.Once
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryCache creates a MemoryCache. Expired entries are swept every
// interval until Close; a non-positive interval disables the sweeper.
func NewMemoryCache(c clock.Clock, interval time.Duration) *MemoryCache {
	if c == nil {
		c = clock.System
	}
	cache := &MemoryCache{
		entries: make(map[string]cacheEntry),
		clock:   c,
		stop:    make(chan struct{}),
	}
	if interval > 0 {
		go cache.cleanup(interval)
	}
	return cache
}

// Get retrieves a value. Expired entries are misses.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[key]
	if !exists || !c.clock.Now().Before(entry.expiresAt) {
		return nil, false, nil
	}
	return append([]byte(nil), entry.value...), true, nil
}

// Set stores a value with TTL.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry{
		value:     append([]byte(nil), value...),
		expiresAt: c.clock.Now().Add(ttl),
	}
	return nil
}

// Delete removes keys.
func (c *MemoryCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range keys {
		delete(c.entries, key)
	}
	return nil
}

// Len returns the number of stored entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the sweeper.
func (c *MemoryCache) Close() {
	c.once.Do(func() { close(c.stop) })
}

// Sweep removes expired entries.
func (c *MemoryCache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	for key, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}

func (c *MemoryCache) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.stop:
			return
		}
	}
}
