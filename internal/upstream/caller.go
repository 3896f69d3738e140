package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"pricegate/internal/config"
)

// Caller issues one upstream call per invocation. Implemented by HTTPCaller;
// the batching layer depends only on this interface.
type Caller interface {
	Fetch(ctx context.Context, endpoint string, query url.Values) (*Result, error)
}

// HTTPCaller talks to the single upstream pricing API over HTTP GET
type HTTPCaller struct {
	baseURL string
	timeout time.Duration
	limiter *rate.Limiter

	httpClient *http.Client
	logger     zerolog.Logger
}

// NewHTTPCaller creates a caller from config
func NewHTTPCaller(cfg config.UpstreamConfig, logger zerolog.Logger) *HTTPCaller {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}

	var limiter *rate.Limiter
	if cfg.RateLimit != nil {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.RPS), cfg.RateLimit.Burst)
	}

	return &HTTPCaller{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.GetRequestTimeoutDuration(),
		limiter: limiter,
		httpClient: &http.Client{
			Transport: transport,
		},
		logger: logger.With().Str("component", "upstream").Logger(),
	}
}

// Fetch performs one GET against the endpoint with the given query parameters.
// The call carries its own fixed timeout, independent of any batch window.
func (c *HTTPCaller) Fetch(ctx context.Context, endpoint string, query url.Values) (*Result, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if c.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	reqURL := c.baseURL + "/" + strings.TrimLeft(endpoint, "/")
	if encoded := query.Encode(); encoded != "" {
		reqURL += "?" + encoded
	}

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if isTimeout(callCtx, err) {
			c.logger.Warn().
				Str("endpoint", endpoint).
				Dur("elapsed", time.Since(start)).
				Msg("upstream call timed out")
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(callCtx, err) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Msg("upstream returned error status")
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	result, err := DecodeResult(body)
	if err != nil {
		return nil, fmt.Errorf("endpoint %s: %w", endpoint, err)
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Int("items", result.Len()).
		Dur("elapsed", time.Since(start)).
		Msg("upstream call succeeded")

	return result, nil
}

// isTimeout distinguishes our per-call deadline from other transport failures.
// The parent context being canceled is not a timeout.
func isTimeout(callCtx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return callCtx.Err() == context.DeadlineExceeded
}
