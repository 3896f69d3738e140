package config

import "time"

// Config represents the main configuration structure
type Config struct {
	Host     string         `json:"host"`
	Port     int            `json:"port"`
	LogLevel string         `json:"logLevel"`
	Upstream UpstreamConfig `json:"upstream"`
	Batching BatchingConfig `json:"batching"`
	Dedup    *DedupConfig   `json:"dedup,omitempty"`
	Breaker  BreakerConfig  `json:"breaker"`
	Retry    RetryConfig    `json:"retry"`
}

// UpstreamConfig describes the single upstream pricing API
type UpstreamConfig struct {
	BaseURL        string           `json:"baseUrl"`
	RequestTimeout int              `json:"requestTimeout"` // ms - budget for one upstream call, independent of the batch window
	RateLimit      *RateLimitConfig `json:"rateLimit,omitempty"`
}

// RateLimitConfig throttles outbound calls to the upstream
type RateLimitConfig struct {
	RPS   float64 `json:"rps"`
	Burst int     `json:"burst"`
}

// BatchingConfig holds global batching defaults plus per-endpoint overrides
type BatchingConfig struct {
	MaxBatchSize int                            `json:"maxBatchSize"`
	BatchTimeout int                            `json:"batchTimeout"` // ms
	Endpoints    map[string]BatchEndpointConfig `json:"endpoints,omitempty"`
}

// BatchEndpointConfig overrides batching behavior for a single endpoint.
// ListParams names the query keys the upstream accepts as repeated (multi-valued)
// parameters; every other key with multiple distinct values is comma-joined.
type BatchEndpointConfig struct {
	MaxBatchSize int      `json:"maxBatchSize"`
	BatchTimeout int      `json:"batchTimeout"` // ms
	ListParams   []string `json:"listParams,omitempty"`
}

// DedupConfig represents deduplication cache configuration
type DedupConfig struct {
	Enabled bool         `json:"enabled"`
	TTL     int          `json:"ttl"`     // seconds - collapses bursts of near-simultaneous duplicates, never serves stale pricing
	Size    int          `json:"size"`    // number of entries (memory backend)
	Backend string       `json:"backend"` // "memory" or "redis"
	Redis   *RedisConfig `json:"redis,omitempty"`
}

// RedisConfig represents the Redis backend for the dedup cache
type RedisConfig struct {
	Addr      string `json:"addr"`
	Password  string `json:"password"`
	DB        int    `json:"db"`
	KeyPrefix string `json:"keyPrefix"`
}

// BreakerConfig represents per-endpoint circuit breaker tunables
type BreakerConfig struct {
	Threshold int `json:"threshold"`
	Timeout   int `json:"timeout"` // ms
}

// RetryConfig governs the caller-side retry wrapper around Submit.
// The batching layer itself never retries a failed flush.
type RetryConfig struct {
	Enabled     bool `json:"enabled"`
	MaxAttempts int  `json:"maxAttempts"`
	Backoff     int  `json:"backoff"` // ms
}

// Backend names for the dedup cache
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Default values
const (
	DefaultHost             = "localhost"
	DefaultPort             = 8660
	DefaultLogLevel         = "info"
	DefaultRequestTimeout   = 10000 // ms
	DefaultMaxBatchSize     = 10
	DefaultBatchTimeout     = 200 // ms
	DefaultDedupTTL         = 5   // seconds
	DefaultDedupSize        = 10000
	DefaultDedupBackend     = BackendMemory
	DefaultBreakerThreshold = 5
	DefaultBreakerTimeout   = 30000 // ms
	DefaultRetryMaxAttempts = 3
	DefaultRetryBackoff     = 250 // ms
)

// GetRequestTimeoutDuration returns the upstream call budget as time.Duration
func (c *UpstreamConfig) GetRequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Millisecond
}

// GetBatchTimeoutDuration returns the batch window as time.Duration
func (c *BatchingConfig) GetBatchTimeoutDuration() time.Duration {
	return time.Duration(c.BatchTimeout) * time.Millisecond
}

// GetBatchTimeoutDuration returns the endpoint batch window as time.Duration
func (c *BatchEndpointConfig) GetBatchTimeoutDuration() time.Duration {
	return time.Duration(c.BatchTimeout) * time.Millisecond
}

// GetTTLDuration returns dedup cache TTL as time.Duration
func (c *DedupConfig) GetTTLDuration() time.Duration {
	return time.Duration(c.TTL) * time.Second
}

// GetTimeoutDuration returns the breaker reset timeout as time.Duration
func (c *BreakerConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}

// GetBackoffDuration returns retry backoff as time.Duration
func (c *RetryConfig) GetBackoffDuration() time.Duration {
	return time.Duration(c.Backoff) * time.Millisecond
}

// IsDedupEnabled returns true if the dedup cache is configured and enabled
func (c *Config) IsDedupEnabled() bool {
	return c.Dedup != nil && c.Dedup.Enabled
}

// EndpointSettings returns the effective batching settings for an endpoint,
// falling back to the global defaults for unset fields.
func (c *BatchingConfig) EndpointSettings(endpoint string) BatchEndpointConfig {
	settings := BatchEndpointConfig{
		MaxBatchSize: c.MaxBatchSize,
		BatchTimeout: c.BatchTimeout,
	}
	override, ok := c.Endpoints[endpoint]
	if !ok {
		return settings
	}
	if override.MaxBatchSize > 0 {
		settings.MaxBatchSize = override.MaxBatchSize
	}
	if override.BatchTimeout > 0 {
		settings.BatchTimeout = override.BatchTimeout
	}
	settings.ListParams = override.ListParams
	return settings
}

// IsListParam reports whether the upstream accepts the key as a repeated
// query parameter for this endpoint.
func (c *BatchEndpointConfig) IsListParam(key string) bool {
	for _, p := range c.ListParams {
		if p == key {
			return true
		}
	}
	return false
}
