package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// cacheEntry represents a cached item with expiration
type cacheEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryCache is an in-memory LRU cache with per-entry TTL. Expiration is
// checked at read time; a background sweep bounds memory between reads.
type MemoryCache struct {
	cache *lru.Cache[string, *cacheEntry]
	sweep time.Duration
	stop  chan struct{}
	once  sync.Once
}

// NewMemoryCache creates a new in-memory cache. defaultTTL drives the
// background sweep interval.
func NewMemoryCache(size int, defaultTTL time.Duration) (*MemoryCache, error) {
	cache, err := lru.New[string, *cacheEntry](size)
	if err != nil {
		return nil, err
	}

	sweep := defaultTTL / 2
	if sweep <= 0 {
		sweep = time.Second
	}

	mc := &MemoryCache{
		cache: cache,
		sweep: sweep,
		stop:  make(chan struct{}),
	}

	go mc.cleanupLoop()

	return mc, nil
}

// Get retrieves a value from the cache
func (mc *MemoryCache) Get(key string) ([]byte, bool) {
	entry, ok := mc.cache.Get(key)
	if !ok {
		return nil, false
	}

	if time.Now().After(entry.expiresAt) {
		mc.cache.Remove(key)
		return nil, false
	}

	return entry.data, true
}

// Set stores a value in the cache with the given TTL
func (mc *MemoryCache) Set(key string, value []byte, ttl time.Duration) {
	mc.cache.Add(key, &cacheEntry{
		data:      value,
		expiresAt: time.Now().Add(ttl),
	})
}

// Close stops the background sweep goroutine
func (mc *MemoryCache) Close() {
	mc.once.Do(func() {
		close(mc.stop)
	})
}

// cleanupLoop periodically removes expired entries
func (mc *MemoryCache) cleanupLoop() {
	ticker := time.NewTicker(mc.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			mc.removeExpired()
		case <-mc.stop:
			return
		}
	}
}

// removeExpired removes all expired entries from the cache
func (mc *MemoryCache) removeExpired() {
	now := time.Now()
	for _, key := range mc.cache.Keys() {
		entry, ok := mc.cache.Peek(key)
		if ok && now.After(entry.expiresAt) {
			mc.cache.Remove(key)
		}
	}
}
