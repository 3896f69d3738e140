package breaker

import (
	"fmt"
	"sync"
	"time"
)

// OpenError rejects a submission while the endpoint's breaker is open.
// No upstream call was made; the caller may retry after the breaker timeout.
type OpenError struct {
	Endpoint string
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker open for endpoint %s", e.Endpoint)
}

// Breaker tracks consecutive upstream failures for one endpoint.
//
// Two observable states. Closed: calls proceed, each failure increments the
// consecutive counter, reaching the threshold trips to open. Open: submissions
// are rejected without an upstream call; once the reset timeout has elapsed
// since the last failure, the next Allow resets the breaker and lets the
// triggering call through as a trial probe (a renewed failure re-trips it
// through the normal failure path).
type Breaker struct {
	endpoint  string
	threshold int
	timeout   time.Duration

	mu            sync.Mutex
	open          bool
	failures      int
	lastFailureAt time.Time
}

// New creates a Breaker for one endpoint
func New(endpoint string, threshold int, timeout time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Breaker{
		endpoint:  endpoint,
		threshold: threshold,
		timeout:   timeout,
	}
}

// Allow reports whether a submission may proceed. The open-state timeout is
// evaluated lazily here; no background timer exists.
func (b *Breaker) Allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return true
	}
	if now.Sub(b.lastFailureAt) > b.timeout {
		b.open = false
		b.failures = 0
		return true
	}
	return false
}

// RecordFailure notes one failed upstream call. Returns true when this
// failure trips the breaker from closed to open.
func (b *Breaker) RecordFailure(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailureAt = now
	b.failures++
	if !b.open && b.failures >= b.threshold {
		b.open = true
		return true
	}
	return false
}

// RecordSuccess resets the consecutive failure count. It never closes an
// open breaker; only the timeout check in Allow does that.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
}

// IsOpen returns the current open state without side effects
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// Failures returns the current consecutive failure count
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Registry holds one Breaker per endpoint. Endpoints are open-ended runtime
// strings, created on first use and kept for the process lifetime.
type Registry struct {
	threshold int
	timeout   time.Duration

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewRegistry creates a Registry with shared breaker tunables
func NewRegistry(threshold int, timeout time.Duration) *Registry {
	return &Registry{
		threshold: threshold,
		timeout:   timeout,
		breakers:  make(map[string]*Breaker),
	}
}

// Get returns the breaker for an endpoint, creating it on first use
func (r *Registry) Get(endpoint string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[endpoint]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[endpoint]; ok {
		return b
	}
	b = New(endpoint, r.threshold, r.timeout)
	r.breakers[endpoint] = b
	return b
}
