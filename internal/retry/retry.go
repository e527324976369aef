// Package retry provides the single retry policy applied to every connector call:
// exponential backoff with jitter, a max attempt cap, and a pluggable classifier
// deciding which errors are worth retrying.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy configures retry behavior.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first. Min 1.
	MaxAttempts int
	// BaseBackoff is the wait before the first retry.
	BaseBackoff time.Duration
	// MaxBackoff caps the wait between retries.
	MaxBackoff time.Duration
	// Factor is the backoff multiplier per attempt.
	Factor float64
	// JitterFraction adds up to this fraction of the backoff as random jitter.
	JitterFraction float64
}

// DefaultPolicy returns the policy used when a job supplies no overrides.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		BaseBackoff:    500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Factor:         2.0,
		JitterFraction: 0.2,
	}
}

// Retryable decides whether an error should trigger another attempt.
type Retryable func(error) bool

// Do runs fn up to p.MaxAttempts times, sleeping between attempts, until fn
// succeeds, returns a non-retryable error, or the context is cancelled.
// The last error is returned when attempts are exhausted.
func Do(ctx context.Context, p Policy, retryable Retryable, fn func(ctx context.Context) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseBackoff <= 0 {
		p.BaseBackoff = 500 * time.Millisecond
	}
	if p.Factor < 1 {
		p.Factor = 2.0
	}

	backoff := p.BaseBackoff
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if retryable != nil && !retryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		wait := backoff
		if p.JitterFraction > 0 {
			wait += time.Duration(rand.Float64() * p.JitterFraction * float64(backoff))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		backoff = time.Duration(float64(backoff) * p.Factor)
		if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
			backoff = p.MaxBackoff
		}
	}
	return lastErr
}
