package unifiedllm

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// DefaultRateLimitDelay is used when a rate-limit response carries no wait hint.
const DefaultRateLimitDelay = 500 * time.Millisecond

// RetryPolicy configures retry behavior. Every retry path is bounded by
// MaxRetries; rate limits wait for the server's hint, everything else backs
// off exponentially.
type RetryPolicy struct {
	MaxRetries        int     // total retry attempts (not counting initial)
	BaseDelay         float64 // initial delay in seconds
	MaxDelay          float64 // maximum delay between retries
	BackoffMultiplier float64 // exponential backoff factor
	Jitter            bool    // add random jitter to prevent thundering herd

	// HonorRetryAfter waits for a rate-limit hint of any length instead of
	// giving up when it exceeds MaxDelay.
	HonorRetryAfter bool

	// ShouldRetry overrides IsRetryable when set.
	ShouldRetry func(err error) bool
	// Sleep overrides the context-aware timer wait; tests use it to observe delays.
	Sleep   func(ctx context.Context, d time.Duration) error
	OnRetry func(err error, attempt int, delay time.Duration)
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        2,
		BaseDelay:         1.0,
		MaxDelay:          60.0,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// Delay calculates the backoff delay for attempt n (0-indexed).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := math.Min(p.BaseDelay*math.Pow(p.BackoffMultiplier, float64(attempt)), p.MaxDelay)
	if p.Jitter {
		// +/- 50% jitter
		delay = delay * (0.5 + rand.Float64())
	}
	return seconds(delay)
}

func (p RetryPolicy) retryable(err error) bool {
	if p.ShouldRetry != nil {
		return p.ShouldRetry(err)
	}
	return IsRetryable(err)
}

func (p RetryPolicy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return SleepContext(ctx, d)
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}

// Retry executes fn with the configured retry policy.
// Only retryable errors are retried.
func Retry[T any](ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	result, err := fn(ctx)
	if err == nil {
		return result, nil
	}

	for attempt := 0; attempt < policy.MaxRetries; attempt++ {
		if !policy.retryable(err) {
			return zero, err
		}

		delay := policy.Delay(attempt)
		var rl *RateLimitError
		if errors.As(err, &rl) {
			delay = DefaultRateLimitDelay
			if rl.RetryAfter != nil {
				retryDelay := seconds(*rl.RetryAfter)
				if !policy.HonorRetryAfter && policy.MaxDelay > 0 && retryDelay > seconds(policy.MaxDelay) {
					// Retry-After exceeds max_delay; raise immediately.
					return zero, err
				}
				delay = retryDelay
			}
		}

		if policy.OnRetry != nil {
			policy.OnRetry(err, attempt+1, delay)
		}

		if serr := policy.sleep(ctx, delay); serr != nil {
			return zero, &AbortError{SDKError: SDKError{Message: "request cancelled during retry", Cause: serr}}
		}

		result, err = fn(ctx)
		if err == nil {
			return result, nil
		}
	}

	return zero, err
}
