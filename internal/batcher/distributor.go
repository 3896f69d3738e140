package batcher

import (
	"pricegate/internal/upstream"
)

// Distribute fans a combined response back to every request in the flush and
// resolves their futures. Returns the per-request payloads, aligned with the
// requests slice.
//
// A single-object response does not partition by requester: every request
// resolves with the same object. A collection partitions by the match
// strategy: each request receives only the subset matching its identity, and
// an empty subset is a valid successful outcome, never an error.
func Distribute(requests []*pendingRequest, result *upstream.Result, strategy MatchStrategy) []*upstream.Result {
	payloads := split(requests, result, strategy)
	deliver(requests, payloads)
	return payloads
}

// split computes the per-request payloads without touching any future
func split(requests []*pendingRequest, result *upstream.Result, strategy MatchStrategy) []*upstream.Result {
	payloads := make([]*upstream.Result, len(requests))

	if !result.IsCollection() {
		for i := range requests {
			payloads[i] = result
		}
		return payloads
	}

	for i, req := range requests {
		subset := make([]map[string]any, 0, len(result.Items))
		for _, elem := range result.Items {
			if strategy.Matches(req.params, elem) {
				subset = append(subset, elem)
			}
		}
		payloads[i] = upstream.Collection(subset)
	}

	return payloads
}

// deliver resolves each request's future with its payload
func deliver(requests []*pendingRequest, payloads []*upstream.Result) {
	for i, req := range requests {
		req.future.complete(payloads[i], nil)
	}
}

// Reject fails every request in the flush with the same error. A flush
// failure has no partial success: one upstream call failed, so all of its
// constituents fail identically.
func Reject(requests []*pendingRequest, err error) {
	for _, req := range requests {
		req.future.complete(nil, err)
	}
}
