// Package ratelimit provides per-platform token-bucket rate limiting for connector calls.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimitTimeout is returned when Acquire waits longer than the configured timeout.
var ErrRateLimitTimeout = errors.New("rate limit wait timed out")

// ErrUnknownPlatform is returned when Acquire is called for a platform that was never configured.
var ErrUnknownPlatform = errors.New("platform has no configured rate limit")

// Limits configures a single platform bucket.
type Limits struct {
	// RequestsPerSecond is the bucket refill rate.
	RequestsPerSecond float64
	// Burst is the bucket capacity. Defaults to ceil(RequestsPerSecond), min 1.
	Burst int
	// MaxBatch is the maximum record count per request for the platform.
	MaxBatch int
}

type bucket struct {
	limiter  *rate.Limiter
	maxBatch int
}

// Limiter holds one token bucket per platform. All tasks targeting a platform
// must share the same Limiter so the platform ceiling holds across concurrent callers.
type Limiter struct {
	mu          sync.RWMutex
	buckets     map[string]*bucket
	waitTimeout time.Duration
}

// New returns a Limiter with no platforms configured. waitTimeout bounds how
// long a single Acquire may block before failing with ErrRateLimitTimeout.
func New(waitTimeout time.Duration) *Limiter {
	return &Limiter{
		buckets:     make(map[string]*bucket),
		waitTimeout: waitTimeout,
	}
}

// Configure sets or replaces the bucket for a platform.
func (l *Limiter) Configure(platform string, limits Limits) {
	burst := limits.Burst
	if burst <= 0 {
		burst = int(math.Ceil(limits.RequestsPerSecond))
		if burst < 1 {
			burst = 1
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets[platform] = &bucket{
		limiter:  rate.NewLimiter(rate.Limit(limits.RequestsPerSecond), burst),
		maxBatch: limits.MaxBatch,
	}
}

// Derive returns a Limiter that uses fresh buckets for the overridden platforms
// and shares this Limiter's buckets for everything else. Used for per-job
// rate-limit overrides without disturbing other jobs.
func (l *Limiter) Derive(overrides map[string]Limits) *Limiter {
	d := New(l.waitTimeout)
	l.mu.RLock()
	for p, b := range l.buckets {
		d.buckets[p] = b
	}
	l.mu.RUnlock()
	for p, lim := range overrides {
		d.Configure(p, lim)
	}
	return d
}

// Acquire blocks until n request slots are available for the platform, the
// context is cancelled, or the wait timeout elapses. It performs no I/O.
func (l *Limiter) Acquire(ctx context.Context, platform string, n int) error {
	l.mu.RLock()
	b, ok := l.buckets[platform]
	l.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlatform, platform)
	}
	if n < 1 {
		n = 1
	}
	if n > b.limiter.Burst() {
		return fmt.Errorf("ratelimit: %d slots exceeds burst %d for %s", n, b.limiter.Burst(), platform)
	}

	waitCtx, cancel := context.WithTimeout(ctx, l.waitTimeout)
	defer cancel()
	if err := b.limiter.WaitN(waitCtx, n); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrRateLimitTimeout
	}
	return nil
}

// MaxBatch returns the configured maximum batch size for the platform, or 0 if unknown.
func (l *Limiter) MaxBatch(platform string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if b, ok := l.buckets[platform]; ok {
		return b.maxBatch
	}
	return 0
}

// Platforms returns the configured platform names.
func (l *Limiter) Platforms() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, 0, len(l.buckets))
	for p := range l.buckets {
		out = append(out, p)
	}
	return out
}
