package stats

import (
	"sync"
	"sync/atomic"
)

// Collector accumulates counters and running metrics for the whole layer.
// Counters are atomic; the response-time aggregate shares a mutex with the
// call counts it describes so error rate and average stay consistent.
type Collector struct {
	totalRequests        atomic.Uint64
	batchedRequests      atomic.Uint64
	deduplicatedRequests atomic.Uint64
	compressedBytes      atomic.Uint64
	circuitBreakerTrips  atomic.Uint64

	mu                  sync.Mutex
	upstreamCalls       uint64
	upstreamFailures    uint64
	totalResponseTimeMs float64
}

// Snapshot is a read-only copy of the current stats
type Snapshot struct {
	TotalRequests         uint64  `json:"totalRequests"`
	BatchedRequests       uint64  `json:"batchedRequests"`
	DeduplicatedRequests  uint64  `json:"deduplicatedRequests"`
	CompressedBytes       uint64  `json:"compressedBytes"`
	CircuitBreakerTrips   uint64  `json:"circuitBreakerTrips"`
	UpstreamCalls         uint64  `json:"upstreamCalls"`
	UpstreamFailures      uint64  `json:"upstreamFailures"`
	AverageResponseTimeMs float64 `json:"averageResponseTimeMs"`
	ErrorRate             float64 `json:"errorRate"`
}

// NewCollector creates an empty Collector
func NewCollector() *Collector {
	return &Collector{}
}

// IncrementTotalRequests counts one submission through the facade
func (c *Collector) IncrementTotalRequests() {
	c.totalRequests.Add(1)
}

// AddBatchedRequests counts requests that went through a flush
func (c *Collector) AddBatchedRequests(n uint64) {
	c.batchedRequests.Add(n)
}

// IncrementDeduplicatedRequests counts one cache-served submission
func (c *Collector) IncrementDeduplicatedRequests() {
	c.deduplicatedRequests.Add(1)
}

// AddCompressedBytes counts bytes not sent upstream thanks to batching
func (c *Collector) AddCompressedBytes(n uint64) {
	c.compressedBytes.Add(n)
}

// IncrementBreakerTrips counts one closed-to-open breaker transition
func (c *Collector) IncrementBreakerTrips() {
	c.circuitBreakerTrips.Add(1)
}

// RecordUpstreamCall records one upstream call outcome and its latency
func (c *Collector) RecordUpstreamCall(elapsedMs float64, failed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upstreamCalls++
	if failed {
		c.upstreamFailures++
	}
	c.totalResponseTimeMs += elapsedMs
}

// Snapshot returns a copy of the current counters and derived metrics
func (c *Collector) Snapshot() Snapshot {
	s := Snapshot{
		TotalRequests:        c.totalRequests.Load(),
		BatchedRequests:      c.batchedRequests.Load(),
		DeduplicatedRequests: c.deduplicatedRequests.Load(),
		CompressedBytes:      c.compressedBytes.Load(),
		CircuitBreakerTrips:  c.circuitBreakerTrips.Load(),
	}

	c.mu.Lock()
	s.UpstreamCalls = c.upstreamCalls
	s.UpstreamFailures = c.upstreamFailures
	if c.upstreamCalls > 0 {
		s.AverageResponseTimeMs = c.totalResponseTimeMs / float64(c.upstreamCalls)
		s.ErrorRate = float64(c.upstreamFailures) / float64(c.upstreamCalls)
	}
	c.mu.Unlock()

	return s
}
