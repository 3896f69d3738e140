// Package client is the single public entry point to the outbound API
// resilience layer. Callers submit a request for an upstream endpoint and
// receive a future; behind the facade, requests are deduplicated against a
// short-TTL cache, batched per endpoint, and guarded by per-endpoint circuit
// breakers.
package client

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"pricegate/internal/batcher"
	"pricegate/internal/breaker"
	"pricegate/internal/cache"
	"pricegate/internal/config"
	"pricegate/internal/stats"
	"pricegate/internal/upstream"
)

// Client is an explicitly constructed, explicitly owned instance of the
// resilience layer. No ambient global state: everything hangs off the
// Config handed to New.
type Client struct {
	cfg      *config.Config
	strategy batcher.MatchStrategy
	cache    cache.Cache
	breakers *breaker.Registry
	stats    *stats.Collector
	sched    *batcher.Scheduler
	logger   zerolog.Logger
	now      func() time.Time
}

type options struct {
	strategy batcher.MatchStrategy
	cache    cache.Cache
	now      func() time.Time
}

// Option customizes a Client
type Option func(*options)

// WithStrategy sets the response matching strategy. Defaults to the
// TDSP DUNS field strategy.
func WithStrategy(s batcher.MatchStrategy) Option {
	return func(o *options) { o.strategy = s }
}

// WithCache overrides the config-selected dedup cache backend
func WithCache(c cache.Cache) Option {
	return func(o *options) { o.cache = c }
}

// WithClock sets the time source, used in tests
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New creates a Client from config and an upstream caller
func New(cfg *config.Config, caller upstream.Caller, logger zerolog.Logger, opts ...Option) (*Client, error) {
	o := &options{
		strategy: batcher.DefaultStrategy(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	dedupCache := o.cache
	if dedupCache == nil {
		var err error
		dedupCache, err = buildCache(cfg, logger)
		if err != nil {
			return nil, err
		}
	}

	breakers := breaker.NewRegistry(cfg.Breaker.Threshold, cfg.Breaker.GetTimeoutDuration())
	collector := stats.NewCollector()

	var dedupTTL time.Duration
	if cfg.IsDedupEnabled() {
		dedupTTL = cfg.Dedup.GetTTLDuration()
	}

	sched := batcher.NewScheduler(cfg.Batching, caller, batcher.Options{
		Strategy:     o.strategy,
		Cache:        dedupCache,
		DedupEnabled: cfg.IsDedupEnabled(),
		DedupTTL:     dedupTTL,
		Breakers:     breakers,
		Stats:        collector,
		Logger:       logger,
		Now:          o.now,
	})

	return &Client{
		cfg:      cfg,
		strategy: o.strategy,
		cache:    dedupCache,
		breakers: breakers,
		stats:    collector,
		sched:    sched,
		logger:   logger.With().Str("component", "client").Logger(),
		now:      o.now,
	}, nil
}

// buildCache selects the dedup cache backend from config
func buildCache(cfg *config.Config, logger zerolog.Logger) (cache.Cache, error) {
	if !cfg.IsDedupEnabled() {
		logger.Info().Msg("deduplication disabled")
		return cache.NewNoopCache(), nil
	}

	switch cfg.Dedup.Backend {
	case config.BackendRedis:
		logger.Info().
			Str("backend", cfg.Dedup.Backend).
			Str("addr", cfg.Dedup.Redis.Addr).
			Int("ttl", cfg.Dedup.TTL).
			Msg("deduplication enabled")
		return cache.NewRedisCache(*cfg.Dedup.Redis, logger), nil
	default:
		logger.Info().
			Str("backend", config.BackendMemory).
			Int("size", cfg.Dedup.Size).
			Int("ttl", cfg.Dedup.TTL).
			Msg("deduplication enabled")
		mc, err := cache.NewMemoryCache(cfg.Dedup.Size, cfg.Dedup.GetTTLDuration())
		if err != nil {
			return nil, fmt.Errorf("failed to create dedup cache: %w", err)
		}
		return mc, nil
	}
}

// Submit queues a request for an endpoint and returns a future that resolves
// with the endpoint's payload or fails with a typed error. Submission never
// blocks on the upstream; the caller suspends only in Future.Wait.
//
// An open circuit breaker or a closed client rejects immediately with a nil
// future. A dedup cache hit resolves immediately without ever creating a
// pending request.
func (c *Client) Submit(endpoint string, params map[string]any, priority batcher.Priority) (*batcher.Future, error) {
	c.stats.IncrementTotalRequests()

	br := c.breakers.Get(endpoint)
	if !br.Allow(c.now()) {
		c.logger.Debug().Str("endpoint", endpoint).Msg("submission rejected, breaker open")
		return nil, &breaker.OpenError{Endpoint: endpoint}
	}

	if c.cfg.IsDedupEnabled() {
		if result, ok := c.lookup(endpoint, params); ok {
			c.stats.IncrementDeduplicatedRequests()
			return batcher.Resolved(result), nil
		}
	}

	return c.sched.Enqueue(endpoint, params, priority)
}

// lookup checks the dedup cache before a request ever reaches a queue:
// first under the submission's identity key, then under its full-params key.
func (c *Client) lookup(endpoint string, params map[string]any) (*upstream.Result, bool) {
	var data []byte
	var hit bool

	if id, ok := c.strategy.RequestIdentity(params); ok {
		data, hit = c.cache.Get(cache.IdentityKey(endpoint, id))
	}
	if !hit {
		data, hit = c.cache.Get(cache.RequestKey(endpoint, params))
	}
	if !hit {
		return nil, false
	}

	var result upstream.Result
	if err := json.Unmarshal(data, &result); err != nil {
		c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("corrupt cache entry, treating as miss")
		return nil, false
	}
	return &result, true
}

// Stats returns a snapshot of the layer's counters and running metrics
func (c *Client) Stats() stats.Snapshot {
	return c.stats.Snapshot()
}

// Close shuts the layer down: pending requests are rejected, timers and
// workers released, the cache closed. Safe to call more than once.
func (c *Client) Close() {
	c.sched.Close()
	c.cache.Close()
	c.logger.Info().Msg("client closed")
}
