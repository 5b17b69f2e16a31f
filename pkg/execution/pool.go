package execution

import (
	"context"
	"sync"

	"github.com/Gobusters/ectologger"
	"golang.org/x/time/rate"
)

const (
	// DefaultConcurrency is the default number of concurrent workers
	DefaultConcurrency = 4

	// MaxConcurrency caps the pool size regardless of configuration
	MaxConcurrency = 10
)

// Pool is a bounded worker pool. Items are dispatched in order, at most Size at a time,
// optionally paced by a limiter so consecutive dispatches keep a courtesy gap.
type Pool struct {
	size    int
	limiter *rate.Limiter
	logger  ectologger.Logger
}

// NewPool creates a pool of the given size, clamped to [1, MaxConcurrency]
func NewPool(size int, limiter *rate.Limiter, logger ectologger.Logger) *Pool {
	if size <= 0 {
		size = DefaultConcurrency
	}
	if size > MaxConcurrency {
		size = MaxConcurrency
	}
	return &Pool{
		size:    size,
		limiter: limiter,
		logger:  logger,
	}
}

// Size returns the number of workers
func (p *Pool) Size() int {
	return p.size
}

// Outcome is the result of one item
type Outcome[R any] struct {
	Value R
	Err   error
}

type indexedItem[T any] struct {
	index int
	item  T
}

type indexedResult[R any] struct {
	index   int
	outcome Outcome[R]
}

// Map runs fn for every item and returns outcomes in item order.
// Items not started before ctx is done get ctx.Err() as their error.
func Map[T, R any](ctx context.Context, p *Pool, items []T, fn func(context.Context, T) (R, error)) []Outcome[R] {
	outcomes := make([]Outcome[R], len(items))
	if len(items) == 0 {
		return outcomes
	}

	concurrency := p.size
	if concurrency > len(items) {
		concurrency = len(items)
	}

	p.logger.WithContext(ctx).Debugf("Dispatching %d items with concurrency %d", len(items), concurrency)

	itemChan := make(chan indexedItem[T])
	resultChan := make(chan indexedResult[R], len(items))
	started := make([]bool, len(items))

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for it := range itemChan {
				value, err := fn(ctx, it.item)
				resultChan <- indexedResult[R]{index: it.index, outcome: Outcome[R]{Value: value, Err: err}}
			}
		}()
	}

	// Feed items; pacing happens here so the gap applies between dispatches, not per worker
	go func() {
		defer close(itemChan)
		for i, item := range items {
			if p.limiter != nil {
				if err := p.limiter.Wait(ctx); err != nil {
					return
				}
			}
			select {
			case <-ctx.Done():
				return
			case itemChan <- indexedItem[T]{index: i, item: item}:
				started[i] = true
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	for res := range resultChan {
		outcomes[res.index] = res.outcome
	}

	// resultChan is closed only after the feeder finished, so started is stable here
	for i := range items {
		if !started[i] {
			err := ctx.Err()
			if err == nil {
				err = context.Canceled
			}
			outcomes[i].Err = err
		}
	}

	return outcomes
}
