// Package pacing holds the two shared throttles for all gateway traffic:
// the process-wide token bucket for the delegate identity, and the single
// retry policy used by every gateway call site.
package pacing

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

// Limiter is the token bucket every gateway call funnels through. The
// platform enforces a global per-identity ceiling, so there is exactly one
// of these per process; bulk operations must not bypass it.
type Limiter struct {
	rl *rate.Limiter
}

func NewLimiter(perSecond float64, burst int) *Limiter {
	return &Limiter{rl: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Wait blocks until a token is available or ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.rl.Wait(ctx)
}

// RetryPolicy is the shared backoff configuration for transient gateway
// errors. All call sites use the same policy object rather than ad hoc
// sleep loops.
type RetryPolicy struct {
	BaseDelay   time.Duration
	MaxAttempts uint
	Jitter      float64
}

// Do runs op with exponential backoff. Errors for which retryable returns
// false stop the retry loop immediately and are returned as-is; exceeding
// MaxAttempts returns the last error.
func (p RetryPolicy) Do(ctx context.Context, op func() error, retryable func(error) bool) error {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = p.BaseDelay
	expo.RandomizationFactor = p.Jitter

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if err := op(); err != nil {
			if retryable(err) {
				return struct{}{}, err
			}
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(expo), backoff.WithMaxTries(p.MaxAttempts))
	return err
}
