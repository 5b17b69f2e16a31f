package execution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_Backoff(t *testing.T) {
	tests := []struct {
		name    string
		backoff BackoffType
		want    []time.Duration
	}{
		{"linear", BackoffLinear, []time.Duration{100, 200, 300, 400}},
		{"exponential", BackoffExponential, []time.Duration{100, 200, 400, 800}},
		{"fibonacci", BackoffFibonacci, []time.Duration{100, 100, 200, 300}},
		{"default is fibonacci", "", []time.Duration{100, 100, 200, 300}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := RetryPolicy{BackoffType: tt.backoff, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Minute}
			for i, want := range tt.want {
				assert.Equal(t, want*time.Millisecond, p.Backoff(i+1), "attempt %d", i+1)
			}
		})
	}
}

func TestRetryPolicy_BackoffIsCapped(t *testing.T) {
	p := RetryPolicy{BackoffType: BackoffExponential, InitialDelay: time.Second, MaxDelay: 3 * time.Second}
	assert.Equal(t, 3*time.Second, p.Backoff(10))
}

func TestRetryPolicy_Clamp(t *testing.T) {
	p := RetryPolicy{MaxDelay: 30 * time.Second}
	assert.Equal(t, 30*time.Second, p.Clamp(time.Hour))
	assert.Equal(t, 2*time.Second, p.Clamp(2*time.Second))
	assert.Equal(t, time.Hour, RetryPolicy{}.Clamp(time.Hour), "no MaxDelay leaves the delay alone")
}

func TestRetryPolicy_RateLimitBackoffIsLonger(t *testing.T) {
	p := DefaultRetryPolicy()
	for attempt := 1; attempt <= 3; attempt++ {
		assert.Greater(t, p.RateLimitBackoff(attempt), p.Backoff(attempt))
	}
	assert.Equal(t, 5*time.Second, p.RateLimitBackoff(1))
	assert.Equal(t, 10*time.Second, p.RateLimitBackoff(2))
}

func TestSleep_ReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := Sleep(ctx, time.Minute)
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}
