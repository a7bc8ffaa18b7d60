package util

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket shared by request handlers.
type Limiter struct {
	inner *rate.Limiter
}

// NewLimiter creates a limiter refilling r tokens per second with burst b.
func NewLimiter(r float64, b int) *Limiter {
	if b < 1 {
		b = 1
	}
	return &Limiter{inner: rate.NewLimiter(rate.Limit(r), b)}
}

// NewLimiterPerMinute creates a limiter from a requests-per-minute budget.
func NewLimiterPerMinute(perMinute, burst int) *Limiter {
	return NewLimiter(float64(perMinute)/60.0, burst)
}

// Allow reports whether n tokens are available now and consumes them if so.
func (l *Limiter) Allow(n int) bool {
	return l.inner.AllowN(time.Now(), n)
}

// Wait blocks until n tokens are available or ctx is done.
func (l *Limiter) Wait(ctx context.Context, n int) error {
	return l.inner.WaitN(ctx, n)
}

// RetryAfter is how long a caller should back off before one token is free.
// Nothing is consumed.
func (l *Limiter) RetryAfter() time.Duration {
	now := time.Now()
	r := l.inner.ReserveN(now, 1)
	if !r.OK() {
		return 0
	}
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	return delay
}
