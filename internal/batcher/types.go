package batcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"pricegate/internal/upstream"
)

// ErrShuttingDown is delivered to every request still pending when the layer
// shuts down. Not retryable.
var ErrShuttingDown = errors.New("layer is shutting down")

// ErrCanceled is delivered to a request the caller canceled before its flush
var ErrCanceled = errors.New("request canceled before flush")

// Priority is the caller-declared urgency of a submission. It influences
// flush timing, not result correctness.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ParsePriority converts a string to a Priority, defaulting to normal
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	default:
		return PriorityNormal
	}
}

type outcome struct {
	result *upstream.Result
	err    error
}

// Future is the caller's handle on a pending submission. It resolves exactly
// once, with either the request's payload or a typed error.
type Future struct {
	done     chan outcome
	once     sync.Once
	cancelFn func() bool // removes the request from its queue; nil once flushed
}

func newFuture() *Future {
	return &Future{
		done: make(chan outcome, 1),
	}
}

// Resolved returns an already-resolved future, used for cache-served
// submissions that never create a pending request.
func Resolved(result *upstream.Result) *Future {
	f := newFuture()
	f.complete(result, nil)
	return f
}

// complete resolves the future. Safe to call more than once; only the first
// resolution wins.
func (f *Future) complete(result *upstream.Result, err error) {
	f.once.Do(func() {
		f.done <- outcome{result: result, err: err}
	})
}

// Wait blocks until the future resolves or the context is done
func (f *Future) Wait(ctx context.Context) (*upstream.Result, error) {
	select {
	case o := <-f.done:
		// re-buffer so later Wait calls observe the same outcome
		f.done <- o
		return o.result, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel removes the request from its pending queue if it has not flushed
// yet, resolving the future with ErrCanceled. Other requests in the queue
// are unaffected. Canceling after the flush started is a no-op.
func (f *Future) Cancel() {
	if f.cancelFn != nil && f.cancelFn() {
		f.complete(nil, ErrCanceled)
	}
}

// pendingRequest is one caller's submission awaiting a flush. Owned by its
// endpoint queue until flushed; the completion handle then moves to the
// distributor, which resolves it exactly once.
type pendingRequest struct {
	id         string
	endpoint   string
	params     map[string]any
	priority   Priority
	enqueuedAt time.Time
	future     *Future
}
