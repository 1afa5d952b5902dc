// ABOUTME: Thread-safe TTL cache for tracking already-seen event and token keys
// ABOUTME: Backs duplicate suppression for at-least-once bus delivery and relay echo

package dedupe

import (
	"sync"
	"time"
)

// Cache is a thread-safe, TTL-based, size-limited set of seen keys. The bus
// relay uses it to drop its own events echoed back from Redis, and sync
// clients use it to filter redelivered bus events.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a dedupe cache with the given TTL and maximum size.
// A background goroutine periodically removes expired entries.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		seen:    make(map[string]time.Time),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// CheckAndMark atomically checks whether a key has been seen and marks it if
// not. Returns true for a duplicate, false if the key is new and now marked.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if at, ok := c.seen[key]; ok && time.Since(at) < c.ttl {
		return true
	}
	c.markLocked(key)
	return false
}

// Mark records that a key has been seen.
func (c *Cache) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(key)
}

func (c *Cache) markLocked(key string) {
	if len(c.seen) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.seen[key] = time.Now()
}

// evictOldestLocked removes the entry with the oldest timestamp. Linear scan,
// but the cache is size-bounded and eviction only runs at capacity.
func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	for key, at := range c.seen {
		if oldestKey == "" || at.Before(oldestAt) {
			oldestKey, oldestAt = key, at
		}
	}
	if oldestKey != "" {
		delete(c.seen, oldestKey)
	}
}

// Len returns the number of tracked keys, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, at := range c.seen {
		if now.Sub(at) > c.ttl {
			delete(c.seen, key)
		}
	}
}

// Close stops the background cleanup goroutine. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
