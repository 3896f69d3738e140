package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"pricegate/internal/config"
)

// RedisCache is a Redis-backed dedup cache. The cache is an optimization,
// never a correctness dependency: backend errors on Get are treated as a
// miss and errors on Set are logged and dropped.
type RedisCache struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewRedisCache creates a Redis-backed cache from config
func NewRedisCache(cfg config.RedisConfig, logger zerolog.Logger) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "pricegate:"
	}

	return &RedisCache{
		client: client,
		prefix: prefix,
		logger: logger.With().Str("component", "cache").Logger(),
	}
}

// NewRedisCacheWithClient wraps an existing client, used in tests
func NewRedisCacheWithClient(client *redis.Client, prefix string, logger zerolog.Logger) *RedisCache {
	return &RedisCache{
		client: client,
		prefix: prefix,
		logger: logger.With().Str("component", "cache").Logger(),
	}
}

// Get retrieves a value from Redis
func (rc *RedisCache) Get(key string) ([]byte, bool) {
	data, err := rc.client.Get(context.Background(), rc.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		rc.logger.Warn().Err(err).Str("key", key).Msg("redis get failed, treating as miss")
		return nil, false
	}
	return data, true
}

// Set stores a value in Redis with TTL
func (rc *RedisCache) Set(key string, value []byte, ttl time.Duration) {
	if err := rc.client.Set(context.Background(), rc.prefix+key, value, ttl).Err(); err != nil {
		rc.logger.Warn().Err(err).Str("key", key).Msg("redis set failed, entry dropped")
	}
}

// Close closes the Redis client
func (rc *RedisCache) Close() {
	if err := rc.client.Close(); err != nil {
		rc.logger.Warn().Err(err).Msg("redis close failed")
	}
}
