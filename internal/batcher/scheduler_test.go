package batcher

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pricegate/internal/breaker"
	"pricegate/internal/cache"
	"pricegate/internal/config"
	"pricegate/internal/stats"
	"pricegate/internal/upstream"
)

type fakeCall struct {
	endpoint string
	query    url.Values
}

// fakeCaller records calls and serves canned responses
type fakeCaller struct {
	mu          sync.Mutex
	calls       []fakeCall
	delay       time.Duration
	err         error
	respond     func(endpoint string, query url.Values) *upstream.Result
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeCaller) Fetch(ctx context.Context, endpoint string, query url.Values) (*upstream.Result, error) {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		max := f.maxInFlight.Load()
		if cur <= max || f.maxInFlight.CompareAndSwap(max, cur) {
			break
		}
	}

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{endpoint: endpoint, query: query})
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	if f.respond != nil {
		return f.respond(endpoint, query), nil
	}
	return upstream.Collection(nil), nil
}

func (f *fakeCaller) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeCaller) lastCall() fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func newTestScheduler(caller upstream.Caller, maxBatchSize, batchTimeoutMs int) (*Scheduler, *stats.Collector, *breaker.Registry) {
	collector := stats.NewCollector()
	breakers := breaker.NewRegistry(5, 30*time.Second)
	s := NewScheduler(
		config.BatchingConfig{MaxBatchSize: maxBatchSize, BatchTimeout: batchTimeoutMs},
		caller,
		Options{
			Breakers: breakers,
			Stats:    collector,
			Logger:   zerolog.Nop(),
		},
	)
	return s, collector, breakers
}

func TestScheduler_FlushAtMaxBatchSize(t *testing.T) {
	caller := &fakeCaller{}
	s, _, _ := newTestScheduler(caller, 3, 10_000)
	defer s.Close()

	futures := make([]*Future, 3)
	for i, duns := range []string{"1", "2", "3"} {
		f, err := s.Enqueue("plans", map[string]any{"tdsp_duns": duns}, PriorityNormal)
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		futures[i] = f
	}

	for i, f := range futures {
		if _, err := waitFor(t, f); err != nil {
			t.Fatalf("future %d: %v", i, err)
		}
	}
	if n := caller.callCount(); n != 1 {
		t.Errorf("upstream calls = %d, want exactly 1", n)
	}
}

func TestScheduler_FlushOnTimer(t *testing.T) {
	caller := &fakeCaller{}
	s, _, _ := newTestScheduler(caller, 10, 50)
	defer s.Close()

	f1, _ := s.Enqueue("plans", map[string]any{"tdsp_duns": "1"}, PriorityNormal)
	f2, _ := s.Enqueue("plans", map[string]any{"tdsp_duns": "2"}, PriorityNormal)

	start := time.Now()
	if _, err := waitFor(t, f1); err != nil {
		t.Fatalf("f1: %v", err)
	}
	if _, err := waitFor(t, f2); err != nil {
		t.Fatalf("f2: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("flush after %v, expected to wait for the batch window", elapsed)
	}

	if n := caller.callCount(); n != 1 {
		t.Fatalf("upstream calls = %d, want exactly 1", n)
	}
	if got := caller.lastCall().query.Get("tdsp_duns"); got != "1,2" {
		t.Errorf("combined tdsp_duns = %q, want \"1,2\"", got)
	}
}

func TestScheduler_HighPriorityFlushesImmediately(t *testing.T) {
	caller := &fakeCaller{}
	s, _, _ := newTestScheduler(caller, 10, 10_000)
	defer s.Close()

	f, err := s.Enqueue("plans", map[string]any{"tdsp_duns": "1"}, PriorityHigh)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// resolves long before the 10s batch window could fire
	if _, err := waitFor(t, f); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if n := caller.callCount(); n != 1 {
		t.Errorf("upstream calls = %d, want 1", n)
	}
}

func TestScheduler_HighPriorityOrderedFirstInFlush(t *testing.T) {
	caller := &fakeCaller{delay: 20 * time.Millisecond}
	s, _, _ := newTestScheduler(caller, 10, 10_000)
	defer s.Close()

	// first flush occupies the worker so the next two queue together
	f0, _ := s.Enqueue("plans", map[string]any{"tdsp": "X"}, PriorityHigh)
	time.Sleep(5 * time.Millisecond)
	fLow, _ := s.Enqueue("plans", map[string]any{"tdsp": "L"}, PriorityLow)
	fHigh, _ := s.Enqueue("plans", map[string]any{"tdsp": "H"}, PriorityHigh)

	for _, f := range []*Future{f0, fLow, fHigh} {
		if _, err := waitFor(t, f); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}

	// second flush combined in stable priority order: high before low
	if got := caller.lastCall().query.Get("tdsp"); got != "H,L" {
		t.Errorf("combined tdsp = %q, want \"H,L\"", got)
	}
}

func TestScheduler_FIFOAmongEqualPriorities(t *testing.T) {
	caller := &fakeCaller{}
	s, _, _ := newTestScheduler(caller, 2, 10_000)
	defer s.Close()

	fA, _ := s.Enqueue("plans", map[string]any{"tdsp": "A"}, PriorityNormal)
	fB, _ := s.Enqueue("plans", map[string]any{"tdsp": "B"}, PriorityNormal)

	waitFor(t, fA)
	waitFor(t, fB)

	if got := caller.lastCall().query.Get("tdsp"); got != "A,B" {
		t.Errorf("combined tdsp = %q, want \"A,B\" (arrival order)", got)
	}
}

func TestScheduler_OneFlushInFlightPerEndpoint(t *testing.T) {
	caller := &fakeCaller{delay: 30 * time.Millisecond}
	s, _, _ := newTestScheduler(caller, 1, 10_000)
	defer s.Close()

	var futures []*Future
	for i := 0; i < 6; i++ {
		f, err := s.Enqueue("plans", map[string]any{"tdsp_duns": "1"}, PriorityNormal)
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		futures = append(futures, f)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i, f := range futures {
		if _, err := f.Wait(ctx); err != nil {
			t.Fatalf("future %d: %v", i, err)
		}
	}

	if max := caller.maxInFlight.Load(); max != 1 {
		t.Errorf("max in-flight upstream calls = %d, want 1", max)
	}
}

func TestScheduler_EndpointsFlushIndependently(t *testing.T) {
	caller := &fakeCaller{}
	s, _, _ := newTestScheduler(caller, 1, 10_000)
	defer s.Close()

	fA, _ := s.Enqueue("plans", map[string]any{"tdsp_duns": "1"}, PriorityNormal)
	fB, _ := s.Enqueue("rates", map[string]any{"tdsp_duns": "1"}, PriorityNormal)

	waitFor(t, fA)
	waitFor(t, fB)

	caller.mu.Lock()
	endpoints := map[string]bool{}
	for _, c := range caller.calls {
		endpoints[c.endpoint] = true
	}
	caller.mu.Unlock()

	if !endpoints["plans"] || !endpoints["rates"] {
		t.Errorf("endpoints called = %v, want both plans and rates", endpoints)
	}
}

func TestScheduler_FailureRejectsAllAndCountsOneBreakerFailure(t *testing.T) {
	cause := &upstream.StatusError{StatusCode: 503}
	caller := &fakeCaller{err: cause}
	s, collector, breakers := newTestScheduler(caller, 3, 10_000)
	defer s.Close()

	futures := make([]*Future, 3)
	for i := range futures {
		futures[i], _ = s.Enqueue("plans", map[string]any{"tdsp_duns": "1"}, PriorityNormal)
	}

	for i, f := range futures {
		_, err := waitFor(t, f)
		var statusErr *upstream.StatusError
		if !errors.As(err, &statusErr) {
			t.Fatalf("future %d error = %v, want StatusError", i, err)
		}
	}

	// a batch of 3 merged requests that fails is one upstream call, one breaker failure
	if n := breakers.Get("plans").Failures(); n != 1 {
		t.Errorf("breaker failures = %d, want 1", n)
	}
	snap := collector.Snapshot()
	if snap.UpstreamFailures != 1 {
		t.Errorf("upstream failures = %d, want 1", snap.UpstreamFailures)
	}
	if snap.BatchedRequests != 0 {
		t.Errorf("batched requests = %d, want 0 on failure", snap.BatchedRequests)
	}
}

func TestScheduler_BreakerTripCountedOncePerTrip(t *testing.T) {
	caller := &fakeCaller{err: &upstream.StatusError{StatusCode: 500}}
	collector := stats.NewCollector()
	breakers := breaker.NewRegistry(2, 30*time.Second)
	s := NewScheduler(
		config.BatchingConfig{MaxBatchSize: 1, BatchTimeout: 10_000},
		caller,
		Options{Breakers: breakers, Stats: collector, Logger: zerolog.Nop()},
	)
	defer s.Close()

	for i := 0; i < 2; i++ {
		f, _ := s.Enqueue("plans", map[string]any{"tdsp_duns": "1"}, PriorityNormal)
		waitFor(t, f)
	}

	if trips := collector.Snapshot().CircuitBreakerTrips; trips != 1 {
		t.Errorf("breaker trips = %d, want 1", trips)
	}
	if !breakers.Get("plans").IsOpen() {
		t.Error("breaker should be open after threshold failures")
	}
}

func TestScheduler_CancelRemovesOnlyThatRequest(t *testing.T) {
	caller := &fakeCaller{}
	s, _, _ := newTestScheduler(caller, 10, 60)
	defer s.Close()

	fCancel, _ := s.Enqueue("plans", map[string]any{"tdsp": "A"}, PriorityNormal)
	fKeep, _ := s.Enqueue("plans", map[string]any{"tdsp": "B"}, PriorityNormal)

	fCancel.Cancel()

	if _, err := waitFor(t, fCancel); !errors.Is(err, ErrCanceled) {
		t.Fatalf("canceled future error = %v, want ErrCanceled", err)
	}
	if _, err := waitFor(t, fKeep); err != nil {
		t.Fatalf("remaining request must still flush: %v", err)
	}

	if got := caller.lastCall().query.Get("tdsp"); got != "B" {
		t.Errorf("combined tdsp = %q, want only \"B\"", got)
	}
}

func TestScheduler_CloseRejectsPending(t *testing.T) {
	caller := &fakeCaller{}
	s, _, _ := newTestScheduler(caller, 10, 10_000)

	f1, _ := s.Enqueue("plans", map[string]any{"tdsp_duns": "1"}, PriorityNormal)
	f2, _ := s.Enqueue("plans", map[string]any{"tdsp_duns": "2"}, PriorityNormal)

	s.Close()

	for i, f := range []*Future{f1, f2} {
		if _, err := waitFor(t, f); !errors.Is(err, ErrShuttingDown) {
			t.Errorf("future %d error = %v, want ErrShuttingDown", i, err)
		}
	}
	if n := caller.callCount(); n != 0 {
		t.Errorf("upstream calls = %d, want 0", n)
	}

	if _, err := s.Enqueue("plans", map[string]any{}, PriorityNormal); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Enqueue after Close = %v, want ErrShuttingDown", err)
	}
}

func TestScheduler_DedupWriteBack(t *testing.T) {
	caller := &fakeCaller{
		respond: func(endpoint string, query url.Values) *upstream.Result {
			return upstream.Collection([]map[string]any{
				{"tdsp_duns": "1", "rate": 9.5},
				{"tdsp_duns": "2", "rate": 10.1},
			})
		},
	}

	mc, err := cache.NewMemoryCache(64, time.Second)
	if err != nil {
		t.Fatalf("NewMemoryCache: %v", err)
	}
	defer mc.Close()

	s := NewScheduler(
		config.BatchingConfig{MaxBatchSize: 2, BatchTimeout: 10_000},
		caller,
		Options{
			Cache:        mc,
			DedupEnabled: true,
			DedupTTL:     time.Second,
			Logger:       zerolog.Nop(),
		},
	)
	defer s.Close()

	params := map[string]any{"tdsp_duns": "1"}
	f1, _ := s.Enqueue("plans", params, PriorityNormal)
	f2, _ := s.Enqueue("plans", map[string]any{"tdsp_duns": "2"}, PriorityNormal)
	waitFor(t, f1)
	waitFor(t, f2)

	if _, ok := mc.Get(cache.IdentityKey("plans", "1")); !ok {
		t.Error("expected per-element identity entry for duns 1")
	}
	if _, ok := mc.Get(cache.IdentityKey("plans", "2")); !ok {
		t.Error("expected per-element identity entry for duns 2")
	}
	if _, ok := mc.Get(cache.RequestKey("plans", params)); !ok {
		t.Error("expected per-request entry")
	}
}
