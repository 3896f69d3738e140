package batcher

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pricegate/internal/breaker"
	"pricegate/internal/cache"
	"pricegate/internal/config"
	"pricegate/internal/stats"
	"pricegate/internal/upstream"
)

// Options wires the scheduler's collaborators
type Options struct {
	Strategy     MatchStrategy
	Cache        cache.Cache
	DedupEnabled bool
	DedupTTL     time.Duration
	Breakers     *breaker.Registry
	Stats        *stats.Collector
	Logger       zerolog.Logger
	Now          func() time.Time
}

// Scheduler accumulates pending requests per endpoint and decides flush
// timing. Each endpoint gets a dedicated worker goroutine that dispatches
// flushes one at a time, which is what keeps at most one upstream call in
// flight per endpoint: flush N+1 cannot start before flush N's outcome has
// been fully distributed.
type Scheduler struct {
	cfg      config.BatchingConfig
	caller   upstream.Caller
	strategy MatchStrategy
	cache    cache.Cache
	dedup    bool
	dedupTTL time.Duration
	breakers *breaker.Registry
	stats    *stats.Collector
	logger   zerolog.Logger
	now      func() time.Time

	mu      sync.RWMutex
	workers map[string]*endpointWorker
	closed  bool
	wg      sync.WaitGroup
}

// NewScheduler creates a Scheduler
func NewScheduler(cfg config.BatchingConfig, caller upstream.Caller, opts Options) *Scheduler {
	if opts.Strategy == nil {
		opts.Strategy = DefaultStrategy()
	}
	if opts.Cache == nil {
		opts.Cache = cache.NewNoopCache()
	}
	if opts.Stats == nil {
		opts.Stats = stats.NewCollector()
	}
	if opts.Breakers == nil {
		opts.Breakers = breaker.NewRegistry(config.DefaultBreakerThreshold, config.DefaultBreakerTimeout*time.Millisecond)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		cfg:      cfg,
		caller:   caller,
		strategy: opts.Strategy,
		cache:    opts.Cache,
		dedup:    opts.DedupEnabled,
		dedupTTL: opts.DedupTTL,
		breakers: opts.Breakers,
		stats:    opts.Stats,
		logger:   opts.Logger.With().Str("component", "batcher").Logger(),
		now:      opts.Now,
		workers:  make(map[string]*endpointWorker),
	}
}

// Enqueue adds a request to its endpoint queue and returns the caller's
// future. The queue keeps a stable priority order: high before normal before
// low, FIFO among equals.
func (s *Scheduler) Enqueue(endpoint string, params map[string]any, priority Priority) (*Future, error) {
	w, err := s.worker(endpoint)
	if err != nil {
		return nil, err
	}

	req := &pendingRequest{
		id:         uuid.NewString(),
		endpoint:   endpoint,
		params:     params,
		priority:   priority,
		enqueuedAt: s.now(),
		future:     newFuture(),
	}
	req.future.cancelFn = func() bool {
		return w.remove(req)
	}

	w.enqueue(req)
	return req.future, nil
}

// worker returns the endpoint's flush worker, creating it on first use
func (s *Scheduler) worker(endpoint string) (*endpointWorker, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrShuttingDown
	}
	w, ok := s.workers[endpoint]
	s.mu.RUnlock()
	if ok {
		return w, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrShuttingDown
	}
	if w, ok := s.workers[endpoint]; ok {
		return w, nil
	}

	w = &endpointWorker{
		endpoint: endpoint,
		settings: s.cfg.EndpointSettings(endpoint),
		sched:    s,
		kick:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
	s.workers[endpoint] = w
	s.wg.Add(1)
	go w.run()

	s.logger.Debug().Str("endpoint", endpoint).Msg("endpoint worker started")
	return w, nil
}

// Close stops every worker, waits for in-flight flushes to finish, and
// rejects anything still pending with ErrShuttingDown. No pending request
// is ever abandoned.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	workers := make([]*endpointWorker, 0, len(s.workers))
	for _, w := range s.workers {
		workers = append(workers, w)
	}
	s.mu.Unlock()

	for _, w := range workers {
		close(w.stop)
	}
	s.wg.Wait()

	for _, w := range workers {
		rejected := w.drain()
		Reject(rejected, ErrShuttingDown)
		if len(rejected) > 0 {
			s.logger.Info().
				Str("endpoint", w.endpoint).
				Int("rejected", len(rejected)).
				Msg("pending requests cleared on shutdown")
		}
	}

	s.logger.Info().Msg("batch scheduler closed")
}

// flush runs one complete flush for a worker: combine, one upstream call,
// then distribution or identical rejection of every constituent. Called only
// from the worker's own goroutine.
func (s *Scheduler) flush(w *endpointWorker) {
	requests := w.take()
	if len(requests) == 0 {
		return
	}

	query, meta := Combine(requests, w.settings)
	combinedSize := len(query.Encode())

	log := s.logger.With().
		Str("endpoint", w.endpoint).
		Str("correlationId", meta.CorrelationID).
		Int("requests", meta.Count).
		Logger()

	log.Debug().Msg("executing flush")

	br := s.breakers.Get(w.endpoint)

	start := s.now()
	result, err := s.caller.Fetch(context.Background(), w.endpoint, query)
	elapsed := s.now().Sub(start)
	s.stats.RecordUpstreamCall(float64(elapsed)/float64(time.Millisecond), err != nil)

	if err != nil {
		// one upstream call, one breaker failure, however many constituents
		if br.RecordFailure(s.now()) {
			s.stats.IncrementBreakerTrips()
			log.Warn().Err(err).Msg("circuit breaker tripped")
		} else {
			log.Warn().Err(err).Msg("flush failed")
		}
		Reject(requests, err)
		return
	}

	br.RecordSuccess()
	s.stats.AddBatchedRequests(uint64(len(requests)))

	var savedBytes int
	for _, req := range requests {
		savedBytes += EncodedSize(req.params, w.settings)
	}
	if savedBytes > combinedSize {
		s.stats.AddCompressedBytes(uint64(savedBytes - combinedSize))
	}

	// index the response before resolving futures, so a caller that awaits
	// its future and immediately re-submits sees the cache entry
	payloads := split(requests, result, s.strategy)
	if s.dedup {
		s.writeBack(w.endpoint, requests, payloads, result)
	}
	deliver(requests, payloads)

	log.Debug().
		Int("items", result.Len()).
		Dur("elapsed", elapsed).
		Msg("flush completed")
}

// writeBack indexes a successful response in the dedup cache: each
// constituent's payload under its request key, and each collection element
// group under its own identity key so unrelated later submissions can hit.
func (s *Scheduler) writeBack(endpoint string, requests []*pendingRequest, payloads []*upstream.Result, result *upstream.Result) {
	for i, req := range requests {
		data, err := json.Marshal(payloads[i])
		if err != nil {
			continue
		}
		s.cache.Set(cache.RequestKey(endpoint, req.params), data, s.dedupTTL)
	}

	if !result.IsCollection() {
		return
	}

	groups := make(map[string][]map[string]any)
	for _, elem := range result.Items {
		id, ok := s.strategy.ElementIdentity(elem)
		if !ok {
			continue
		}
		groups[id] = append(groups[id], elem)
	}
	for id, elems := range groups {
		data, err := json.Marshal(upstream.Collection(elems))
		if err != nil {
			continue
		}
		s.cache.Set(cache.IdentityKey(endpoint, id), data, s.dedupTTL)
	}
}

// endpointWorker owns one endpoint's pending queue and flush dispatch
type endpointWorker struct {
	endpoint string
	settings config.BatchEndpointConfig
	sched    *Scheduler

	mu      sync.Mutex
	pending []*pendingRequest
	timer   *time.Timer
	stopped bool

	kick chan struct{}
	stop chan struct{}
}

// run is the worker's flush loop. Flushes execute synchronously here, so two
// flushes for the same endpoint can never overlap.
func (w *endpointWorker) run() {
	defer w.sched.wg.Done()
	for {
		select {
		case <-w.kick:
			w.sched.flush(w)
		case <-w.stop:
			return
		}
	}
}

// enqueue inserts a request in stable priority order and applies the flush
// triggers: size reached or a high-priority arrival flushes immediately,
// otherwise the first enqueue into an empty queue arms the batch timer.
func (w *endpointWorker) enqueue(req *pendingRequest) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		req.future.complete(nil, ErrShuttingDown)
		return
	}

	idx := len(w.pending)
	for i, p := range w.pending {
		if p.priority < req.priority {
			idx = i
			break
		}
	}
	w.pending = append(w.pending, nil)
	copy(w.pending[idx+1:], w.pending[idx:])
	w.pending[idx] = req

	flushNow := len(w.pending) >= w.settings.MaxBatchSize || req.priority == PriorityHigh
	if flushNow {
		w.stopTimerLocked()
	} else if w.timer == nil {
		w.timer = time.AfterFunc(w.settings.GetBatchTimeoutDuration(), w.signal)
	}
	w.mu.Unlock()

	if flushNow {
		w.signal()
	}
}

// signal requests a flush; coalesces with any already-pending signal
func (w *endpointWorker) signal() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// take removes every pending request for a flush and cancels the timer
func (w *endpointWorker) take() []*pendingRequest {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopTimerLocked()
	requests := w.pending
	w.pending = nil
	return requests
}

// remove deletes one request from the queue if it is still pending.
// Returns false when the request already left with a flush.
func (w *endpointWorker) remove(req *pendingRequest) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, p := range w.pending {
		if p == req {
			w.pending = append(w.pending[:i], w.pending[i+1:]...)
			if len(w.pending) == 0 {
				w.stopTimerLocked()
			}
			return true
		}
	}
	return false
}

// drain marks the worker stopped and returns whatever is still pending
func (w *endpointWorker) drain() []*pendingRequest {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	w.stopTimerLocked()
	requests := w.pending
	w.pending = nil
	return requests
}

func (w *endpointWorker) stopTimerLocked() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
}
