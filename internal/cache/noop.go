package cache

import "time"

// NoopCache is a cache that does nothing (used when deduplication is disabled)
type NoopCache struct{}

// NewNoopCache creates a new no-op cache
func NewNoopCache() *NoopCache {
	return &NoopCache{}
}

// Get always returns not found
func (nc *NoopCache) Get(key string) ([]byte, bool) {
	return nil, false
}

// Set does nothing
func (nc *NoopCache) Set(key string, value []byte, ttl time.Duration) {}

// Close does nothing
func (nc *NoopCache) Close() {}
