package provider

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"tradesim/internal/config"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultTimeout = 10 * time.Second

// restClient executes rate-limited GET requests with retry, bounded by a
// per-fetch deadline that covers every attempt.
type restClient struct {
	client     *resty.Client
	logger     *zap.Logger
	limiter    *rate.Limiter
	timeout    time.Duration
	maxRetries int
	backoff    time.Duration
}

func newRestClient(cfg config.Provider, logger *zap.Logger) *restClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	limit := rate.Limit(cfg.RateLimit)
	if cfg.RateLimit <= 0 {
		limit = rate.Inf
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = 1
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 1
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = time.Second
	}

	return &restClient{
		client:     resty.New().SetBaseURL(cfg.BaseURL).SetTimeout(timeout),
		logger:     logger,
		limiter:    rate.NewLimiter(limit, burst),
		timeout:    timeout,
		maxRetries: retries,
		backoff:    backoff,
	}
}

// get fetches path with the given query and returns the raw body of the
// first 2xx response. Every failure is wrapped in ErrUpstreamUnavailable.
func (c *restClient) get(ctx context.Context, path string, query map[string]string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limiter wait failed: %v", ErrUpstreamUnavailable, err)
		}

		c.logger.Debug("Executing request", zap.String("url", c.client.BaseURL+path))
		resp, err := c.client.R().
			SetContext(ctx).
			SetQueryParams(query).
			SetHeader("Accept", "application/json").
			Get(path)

		if err == nil && !resp.IsError() {
			return resp.Body(), nil
		}

		shouldRetry := false
		var retryAfter time.Duration

		if err != nil {
			lastErr = err
			shouldRetry = ctx.Err() == nil
		} else {
			statusCode := resp.StatusCode()
			lastErr = fmt.Errorf("status %s", resp.Status())
			if statusCode == http.StatusTooManyRequests || statusCode == 418 {
				shouldRetry = true
				if seconds, convErr := strconv.Atoi(resp.Header().Get("Retry-After")); convErr == nil {
					retryAfter = time.Duration(seconds) * time.Second
				}
			} else if statusCode >= 500 {
				shouldRetry = true
			}
		}

		if !shouldRetry || i == c.maxRetries-1 {
			break
		}

		if retryAfter == 0 {
			// Exponential backoff: base, 2×base, 4×base...
			retryAfter = c.backoff << i
		}

		c.logger.Warn("Request failed, retrying...",
			zap.String("path", path),
			zap.Int("attempt", i+1),
			zap.Duration("retry_after", retryAfter),
			zap.Error(lastErr),
		)

		select {
		case <-time.After(retryAfter):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, ctx.Err())
		}
	}

	return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, lastErr)
}
