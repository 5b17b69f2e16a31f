package execution

import (
	"context"
	"time"
)

// BackoffType selects how retry delays grow
type BackoffType string

const (
	BackoffFibonacci   BackoffType = "fibonacci"
	BackoffExponential BackoffType = "exponential"
	BackoffLinear      BackoffType = "linear"
)

// RetryPolicy bounds retries of a single upstream request
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt
	MaxRetries int
	// BackoffType selects the delay growth curve
	BackoffType BackoffType
	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration
	// MaxDelay caps every computed delay
	MaxDelay time.Duration
	// RateLimitDelay is the base delay after a rate-limit response, used when no Retry-After is given
	RateLimitDelay time.Duration
}

// DefaultRetryPolicy returns the default policy: two retries, linear 500ms steps, 5s base after a 429
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     2,
		BackoffType:    BackoffLinear,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       30 * time.Second,
		RateLimitDelay: 5 * time.Second,
	}
}

// Backoff calculates the delay before retry number attempt (1-based)
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	var delay time.Duration
	switch p.BackoffType {
	case BackoffFibonacci:
		delay = fibonacciBackoff(p.InitialDelay, attempt)
	case BackoffExponential:
		delay = exponentialBackoff(p.InitialDelay, attempt)
	case BackoffLinear:
		delay = linearBackoff(p.InitialDelay, attempt)
	default:
		delay = fibonacciBackoff(p.InitialDelay, attempt)
	}

	return p.cap(delay)
}

// RateLimitBackoff calculates the delay before retry number attempt after a rate-limit response.
// It grows exponentially from RateLimitDelay and is never shorter than Backoff.
func (p RetryPolicy) RateLimitBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := p.RateLimitDelay
	if base <= 0 {
		base = 5 * p.InitialDelay
	}
	delay := p.cap(exponentialBackoff(base, attempt))
	if regular := p.Backoff(attempt); regular > delay {
		return regular
	}
	return delay
}

// Clamp bounds an externally supplied delay, such as Retry-After, by MaxDelay
func (p RetryPolicy) Clamp(delay time.Duration) time.Duration {
	return p.cap(delay)
}

func (p RetryPolicy) cap(delay time.Duration) time.Duration {
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

// fibonacciBackoff calculates Fibonacci backoff delay
func fibonacciBackoff(initial time.Duration, attempt int) time.Duration {
	if attempt <= 1 {
		return initial
	}
	// Fibonacci sequence: 1, 1, 2, 3, 5, 8, 13, 21...
	a, b := 1, 1
	for i := 2; i < attempt; i++ {
		a, b = b, a+b
	}
	return initial * time.Duration(b)
}

// exponentialBackoff calculates exponential backoff delay
func exponentialBackoff(initial time.Duration, attempt int) time.Duration {
	multiplier := 1
	for i := 1; i < attempt && i < 30; i++ {
		multiplier *= 2
	}
	return initial * time.Duration(multiplier)
}

// linearBackoff calculates linear backoff delay
func linearBackoff(initial time.Duration, attempt int) time.Duration {
	return initial * time.Duration(attempt)
}

// Sleep waits for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
