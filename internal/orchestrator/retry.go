package orchestrator

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/floraid/floraid-go/internal/errors"
)

// RetryPolicy retries an operation with jittered exponential backoff.
// It is never used synchronously inside an identification request, where a
// retry would blow the per-provider timeout budget; it serves background
// work such as establishing the progress sink connection.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryPolicy returns the standard background retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     2 * time.Minute,
		Multiplier:   2.0,
	}
}

// Do runs fn until it succeeds, the attempts are exhausted or the context
// is cancelled. Each delay is the exponential base with up to 50% random
// jitter added, so synchronized retries from multiple instances spread out.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	delay := p.InitialDelay
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		jittered := delay + time.Duration(rand.Int64N(int64(delay)/2+1))
		select {
		case <-ctx.Done():
			return errors.Newf("retry cancelled: %w", ctx.Err()).
				Category(errors.CategoryCancellation).
				Component("orchestrator").
				Context("attempt", attempt).
				Build()
		case <-time.After(jittered):
		}

		delay = time.Duration(float64(delay) * p.Multiplier)
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	return errors.Newf("retries exhausted after %d attempts: %w", attempts, lastErr).
		Category(errors.CategoryRetry).
		Component("orchestrator").
		Build()
}
