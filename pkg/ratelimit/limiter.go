// Package ratelimit provides a per-service-tag token-bucket admission
// controller shared across concurrent pipeline runs (spec.md §4.1).
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a single service's token bucket. It wraps golang.org/x/time/rate
// so refill and the acquire/check critical section are handled by a single,
// well-tested lock rather than a hand-rolled one (see DESIGN.md).
type Limiter struct {
	underlying *rate.Limiter
}

// New creates a Limiter with the given refill rate (tokens/second) and
// burst. A burst of 0 defaults to the rate, truncated to an integer and
// raised to at least 1
// (spec.md §4.1: "burst (defaults to rate)").
func New(ratePerSecond float64, burst int) *Limiter {
	if burst <= 0 {
		burst = int(ratePerSecond)
		if burst <= 0 {
			burst = 1
		}
	}
	return &Limiter{underlying: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

// Acquire attempts to reserve n tokens, waiting up to timeout for them to
// become available.
//
//   - timeout == 0 is non-blocking: succeeds immediately iff n tokens are
//     currently available (spec.md: "timeout=0 is non-blocking").
//   - timeout < 0 blocks until tokens are available or ctx is cancelled
//     (spec.md: "timeout=∞ blocks until tokens available").
//   - timeout > 0 blocks up to that duration.
//
// Acquire returns false, without error, when the wait times out — that is a
// normal bounded-wait failure per spec.md §4.1, not an exceptional one.
func (l *Limiter) Acquire(ctx context.Context, n int, timeout time.Duration) (bool, error) {
	if timeout == 0 {
		return l.underlying.AllowN(time.Now(), n), nil
	}

	if timeout < 0 {
		// Unbounded: block until tokens are available or the caller's
		// context is cancelled — that cancellation is an error, not a
		// bounded-wait failure.
		if err := l.underlying.WaitN(ctx, n); err != nil {
			return false, err
		}
		return true, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := l.underlying.WaitN(waitCtx, n); err != nil {
		if ctx.Err() != nil {
			// The caller's own context ended the wait, not our timeout.
			return false, ctx.Err()
		}
		// Our bounded timeout elapsed: a normal bounded-wait failure.
		return false, nil
	}
	return true, nil
}
