package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyDefaults sets default values for unset fields
func applyDefaults(cfg *Config) {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	if cfg.Upstream.RequestTimeout == 0 {
		cfg.Upstream.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Batching.MaxBatchSize == 0 {
		cfg.Batching.MaxBatchSize = DefaultMaxBatchSize
	}
	if cfg.Batching.BatchTimeout == 0 {
		cfg.Batching.BatchTimeout = DefaultBatchTimeout
	}
	if cfg.Dedup != nil {
		if cfg.Dedup.TTL == 0 {
			cfg.Dedup.TTL = DefaultDedupTTL
		}
		if cfg.Dedup.Size == 0 {
			cfg.Dedup.Size = DefaultDedupSize
		}
		if cfg.Dedup.Backend == "" {
			cfg.Dedup.Backend = DefaultDedupBackend
		}
	}
	if cfg.Breaker.Threshold == 0 {
		cfg.Breaker.Threshold = DefaultBreakerThreshold
	}
	if cfg.Breaker.Timeout == 0 {
		cfg.Breaker.Timeout = DefaultBreakerTimeout
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = DefaultRetryMaxAttempts
	}
	if cfg.Retry.Backoff == 0 {
		cfg.Retry.Backoff = DefaultRetryBackoff
	}
}

// validate checks the configuration for errors
func validate(cfg *Config) error {
	if cfg.Upstream.BaseURL == "" {
		return errors.New("upstream.baseUrl is required")
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Upstream.RequestTimeout < 0 {
		return fmt.Errorf("upstream.requestTimeout must be non-negative")
	}

	if cfg.Upstream.RateLimit != nil {
		if cfg.Upstream.RateLimit.RPS <= 0 {
			return fmt.Errorf("upstream.rateLimit.rps must be positive")
		}
		if cfg.Upstream.RateLimit.Burst <= 0 {
			return fmt.Errorf("upstream.rateLimit.burst must be positive")
		}
	}

	if cfg.Batching.MaxBatchSize < 1 {
		return fmt.Errorf("batching.maxBatchSize must be positive")
	}

	if cfg.Batching.BatchTimeout < 1 {
		return fmt.Errorf("batching.batchTimeout must be positive")
	}

	for endpoint, ec := range cfg.Batching.Endpoints {
		if endpoint == "" {
			return errors.New("batching.endpoints: endpoint name must not be empty")
		}
		if ec.MaxBatchSize < 0 {
			return fmt.Errorf("batching.endpoints['%s'].maxBatchSize must be non-negative", endpoint)
		}
		if ec.BatchTimeout < 0 {
			return fmt.Errorf("batching.endpoints['%s'].batchTimeout must be non-negative", endpoint)
		}
	}

	if cfg.Dedup != nil && cfg.Dedup.Enabled {
		if cfg.Dedup.TTL <= 0 {
			return fmt.Errorf("dedup.ttl must be positive when dedup is enabled")
		}
		if cfg.Dedup.Backend != BackendMemory && cfg.Dedup.Backend != BackendRedis {
			return fmt.Errorf("dedup.backend must be '%s' or '%s'", BackendMemory, BackendRedis)
		}
		if cfg.Dedup.Backend == BackendMemory && cfg.Dedup.Size <= 0 {
			return fmt.Errorf("dedup.size must be positive for the memory backend")
		}
		if cfg.Dedup.Backend == BackendRedis {
			if cfg.Dedup.Redis == nil || cfg.Dedup.Redis.Addr == "" {
				return errors.New("dedup.redis.addr is required for the redis backend")
			}
		}
	}

	if cfg.Breaker.Threshold < 1 {
		return fmt.Errorf("breaker.threshold must be positive")
	}

	if cfg.Breaker.Timeout < 1 {
		return fmt.Errorf("breaker.timeout must be positive")
	}

	if cfg.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.maxAttempts must be non-negative")
	}

	if cfg.Retry.Backoff < 0 {
		return fmt.Errorf("retry.backoff must be non-negative")
	}

	return nil
}
