package client

import (
	"context"
	"time"

	"pricegate/internal/batcher"
	"pricegate/internal/upstream"
)

// SubmitWithRetry is a thin retry wrapper around Submit. The batching layer
// itself never retries a failed flush, so flush semantics stay deterministic
// for callers awaiting futures; this wrapper re-submits on retryable errors
// (timeouts, 5xx) with a fixed backoff, per the configured retry policy.
func (c *Client) SubmitWithRetry(ctx context.Context, endpoint string, params map[string]any, priority batcher.Priority) (*upstream.Result, error) {
	maxAttempts := 1
	if c.cfg.Retry.Enabled && c.cfg.Retry.MaxAttempts > 1 {
		maxAttempts = c.cfg.Retry.MaxAttempts
	}
	backoff := c.cfg.Retry.GetBackoffDuration()

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			c.logger.Warn().
				Str("endpoint", endpoint).
				Int("attempt", attempt+1).
				Int("maxAttempts", maxAttempts).
				Err(lastErr).
				Msg("request failed, retrying")
			if err := sleep(ctx, backoff); err != nil {
				return nil, err
			}
		}

		future, err := c.Submit(endpoint, params, priority)
		if err != nil {
			// breaker-open and shutdown rejections are not retryable here
			return nil, err
		}

		result, err := future.Wait(ctx)
		if err == nil {
			return result, nil
		}
		if !upstream.IsRetryable(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, lastErr
}

// sleep waits for the backoff or the context, whichever ends first
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
