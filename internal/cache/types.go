package cache

import "time"

// Cache defines the interface for short-TTL result deduplication.
// This interface allows for different backends (in-memory, Redis).
type Cache interface {
	// Get retrieves a cached payload by key.
	// Returns the cached data and true if found, nil and false otherwise.
	Get(key string) ([]byte, bool)

	// Set stores a payload with the given TTL
	Set(key string, value []byte, ttl time.Duration)

	// Close releases any resources held by the cache
	Close()
}
