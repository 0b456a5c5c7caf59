package scrape

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/gameshelf/gameshelf/internal/catalog"
)

// RetryPolicy decides whether a failed fetch attempt is worth repeating and
// how long to wait before doing so.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// ExponentialRetryPolicy implements RetryPolicy with jittered backoff. Only
// transient fetch failures are retried; permanent failures and context
// cancellation end the attempt loop immediately.
type ExponentialRetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// NewExponentialRetryPolicy builds a policy. maxAttempts counts retries after
// the first attempt, so a page is fetched at most maxAttempts+1 times.
func NewExponentialRetryPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) *ExponentialRetryPolicy {
	if maxAttempts < 0 {
		maxAttempts = 0
	}
	if baseDelay <= 0 {
		baseDelay = 250 * time.Millisecond
	}
	if maxDelay < baseDelay {
		maxDelay = 5 * time.Second
	}
	return &ExponentialRetryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
	}
}

// ShouldRetry decides whether the error is retryable at this attempt count.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return catalog.IsTransientFetch(err)
}

// Backoff returns the wait duration before the next attempt: half the capped
// exponential delay plus a random jitter up to the other half.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := p.randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func (p *ExponentialRetryPolicy) randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// fetchWithRetry runs the attempt loop for one page. It returns the last
// error when every attempt fails and reports how many retries were spent.
func fetchWithRetry(
	ctx context.Context,
	fetcher catalog.Fetcher,
	policy RetryPolicy,
	request catalog.FetchRequest,
) (catalog.FetchResponse, int, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := fetcher.Fetch(ctx, request)
		if err == nil {
			return resp, attempt, nil
		}
		lastErr = err
		if !policy.ShouldRetry(err, attempt) {
			return catalog.FetchResponse{}, attempt, lastErr
		}
		if err := sleepCtx(ctx, policy.Backoff(attempt)); err != nil {
			return catalog.FetchResponse{}, attempt, err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff wait: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
