// Package showroom talks to the livestreaming platform's public REST API:
// the paginated event roster, the per-room event detail and the room profile.
package showroom

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/Gobusters/ectologger"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/masakikurihara-lgtm/sr-event-management/pkg/execution"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/expressions"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/httpclient"
	"github.com/masakikurihara-lgtm/sr-event-management/pkg/metrics"
)

const (
	DefaultRosterURL  = "https://www.showroom-live.com/api/event/room_list"
	DefaultDetailURL  = "https://www.showroom-live.com/api/event/contribution_ranking"
	DefaultProfileURL = "https://www.showroom-live.com/api/room/profile"

	// DefaultMaxPages bounds roster pagination for one event
	DefaultMaxPages = 200

	// DefaultPageInterval is the courtesy gap between upstream requests
	DefaultPageInterval = 20 * time.Millisecond

	breakerName = "showroom-api"
)

var (
	// ErrCircuitOpen is returned when the upstream circuit breaker rejects a request
	ErrCircuitOpen = errors.New("upstream circuit breaker is open")
	// ErrRetriesExhausted is returned when a request still fails after every retry
	ErrRetriesExhausted = errors.New("upstream retries exhausted")
	// ErrUnexpectedStatus is returned for non-retryable, non-gone error statuses
	ErrUnexpectedStatus = errors.New("unexpected upstream status")
)

// Config holds upstream client configuration
type Config struct {
	RosterURL  string
	DetailURL  string
	ProfileURL string

	// MaxPages bounds roster pagination for one event id
	MaxPages int
	// PageInterval is the minimum gap between consecutive upstream requests
	PageInterval time.Duration
	// Retry bounds retries of one request
	Retry execution.RetryPolicy

	// BreakerTimeout is how long the breaker stays open before probing again
	BreakerTimeout time.Duration
	// BreakerMinRequests is the minimum sample before the breaker may trip
	BreakerMinRequests uint32
	// BreakerFailureRatio trips the breaker once reached
	BreakerFailureRatio float64
}

// DefaultConfig returns the default upstream configuration
func DefaultConfig() Config {
	return Config{
		RosterURL:           DefaultRosterURL,
		DetailURL:           DefaultDetailURL,
		ProfileURL:          DefaultProfileURL,
		MaxPages:            DefaultMaxPages,
		PageInterval:        DefaultPageInterval,
		Retry:               execution.DefaultRetryPolicy(),
		BreakerTimeout:      30 * time.Second,
		BreakerMinRequests:  20,
		BreakerFailureRatio: 0.6,
	}
}

// Client is the upstream API client
type Client struct {
	http    *httpclient.Client
	eval    *expressions.Evaluator
	breaker *gobreaker.CircuitBreaker[*httpclient.Response]
	limiter *rate.Limiter
	config  Config
	logger  ectologger.Logger
}

// NewClient creates an upstream client
func NewClient(cfg Config, httpClient *httpclient.Client, logger ectologger.Logger) *Client {
	defaults := DefaultConfig()
	if cfg.RosterURL == "" {
		cfg.RosterURL = defaults.RosterURL
	}
	if cfg.DetailURL == "" {
		cfg.DetailURL = defaults.DetailURL
	}
	if cfg.ProfileURL == "" {
		cfg.ProfileURL = defaults.ProfileURL
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaults.MaxPages
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = defaults.BreakerTimeout
	}
	if cfg.BreakerMinRequests == 0 {
		cfg.BreakerMinRequests = defaults.BreakerMinRequests
	}
	if cfg.BreakerFailureRatio <= 0 {
		cfg.BreakerFailureRatio = defaults.BreakerFailureRatio
	}

	limit := rate.Inf
	if cfg.PageInterval > 0 {
		limit = rate.Every(cfg.PageInterval)
	}

	c := &Client{
		http:    httpClient,
		eval:    expressions.NewEvaluator(),
		limiter: rate.NewLimiter(limit, 1),
		config:  cfg,
		logger:  logger,
	}
	c.breaker = newBreaker(cfg, logger)
	return c
}

// MaxPages returns the configured pagination bound
func (c *Client) MaxPages() int {
	return c.config.MaxPages
}

func newBreaker(cfg Config, logger ectologger.Logger) *gobreaker.CircuitBreaker[*httpclient.Response] {
	metrics.CircuitBreakerState.WithLabelValues(breakerName).Set(0)

	return gobreaker.NewCircuitBreaker[*httpclient.Response](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.BreakerMinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.BreakerFailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Upstream circuit breaker changed state")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateValue(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, from.String(), to.String()).Inc()
		},
	})
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}

type fetchStatus int

const (
	fetchOK fetchStatus = iota
	fetchGone
	fetchFailed
)

func (s fetchStatus) String() string {
	switch s {
	case fetchOK:
		return "ok"
	case fetchGone:
		return "gone"
	default:
		return "failed"
	}
}

// statusError marks a retryable upstream status so the breaker counts it as a failure
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("upstream status %d", e.code)
}

// fetch performs a GET with the retry policy. Transport errors, 5xx and 408 are
// retried with the regular backoff, 429 with the longer rate-limit backoff (or
// Retry-After), 404/410 short-circuit as gone. The only error that escapes
// besides the returned status is context cancellation.
func (c *Client) fetch(ctx context.Context, endpoint string, query url.Values) (*httpclient.Response, fetchStatus, error) {
	log := c.logger.WithContext(ctx).WithField("endpoint", endpoint)
	policy := c.config.Retry

	var lastErr error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fetchFailed, err
		}

		resp, err := c.breaker.Execute(func() (*httpclient.Response, error) {
			resp, err := c.http.Get(ctx, endpoint, query, nil)
			if err != nil {
				return nil, err
			}
			if httpclient.IsRetryableStatus(resp.StatusCode) && !httpclient.IsRateLimitStatus(resp.StatusCode) {
				return resp, &statusError{code: resp.StatusCode}
			}
			return resp, nil
		})

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fetchFailed, ctxErr
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			log.Warn("Upstream circuit breaker rejected request")
			return nil, fetchFailed, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}

		if err != nil {
			lastErr = err
			if attempt < policy.MaxRetries {
				delay := policy.Backoff(attempt + 1)
				metrics.HTTPRetries.WithLabelValues("transient").Inc()
				log.WithError(err).Warnf("Transient upstream error, retrying in %v (attempt %d/%d)", delay, attempt+1, policy.MaxRetries)
				if sleepErr := execution.Sleep(ctx, delay); sleepErr != nil {
					return nil, fetchFailed, sleepErr
				}
				continue
			}
			break
		}

		switch {
		case httpclient.IsSuccessStatus(resp.StatusCode):
			return resp, fetchOK, nil
		case httpclient.IsGoneStatus(resp.StatusCode):
			return resp, fetchGone, nil
		case httpclient.IsRateLimitStatus(resp.StatusCode):
			lastErr = &statusError{code: resp.StatusCode}
			if attempt < policy.MaxRetries {
				delay, ok := httpclient.RetryAfter(resp, time.Now())
				if ok {
					delay = policy.Clamp(delay)
				} else {
					delay = policy.RateLimitBackoff(attempt + 1)
				}
				metrics.HTTPRetries.WithLabelValues("rate_limited").Inc()
				log.Warnf("Rate limited by upstream, retrying in %v (attempt %d/%d)", delay, attempt+1, policy.MaxRetries)
				if sleepErr := execution.Sleep(ctx, delay); sleepErr != nil {
					return nil, fetchFailed, sleepErr
				}
				continue
			}
		default:
			log.Warnf("Upstream returned non-retryable status %d", resp.StatusCode)
			return resp, fetchFailed, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
		}
	}

	return nil, fetchFailed, fmt.Errorf("%w: %v", ErrRetriesExhausted, lastErr)
}

// decodeObject decodes a response body into a generic JSON object
func decodeObject(resp *httpclient.Response) (map[string]any, error) {
	var body map[string]any
	if err := httpclient.DecodeJSON(resp, &body); err != nil {
		return nil, err
	}
	return body, nil
}
