// Package ratelimiter paces request admission to a requests-per-minute
// budget. Unlike a blocking limiter, Backoff reports how long the caller
// should wait rather than sleeping internally, so the executor can compose
// the wait with context cancellation instead of an uninterruptible sleep.
package ratelimiter

import (
	"time"

	"golang.org/x/time/rate"
)

// Limiter paces request admission.
type Limiter interface {
	// Backoff returns how long the caller should wait before issuing the
	// next request. A zero duration means proceed immediately.
	Backoff() time.Duration
}

// NoLimiter never delays admission.
type NoLimiter struct{}

// Backoff always returns zero.
func (NoLimiter) Backoff() time.Duration { return 0 }

// TokenBucket paces requests to an RPM budget using a token-bucket
// discipline: rpm/60 tokens refill per second, capacity equal to rpm tokens,
// so the bucket can absorb a burst of up to a minute's worth of requests
// before it starts pacing. It is built on golang.org/x/time/rate, whose
// Reserve never blocks — calling Reserve().Delay() gives exactly the "wait
// this long" contract this type needs without spinning up a goroutine per
// caller.
type TokenBucket struct {
	limiter *rate.Limiter
}

// NewTokenBucket builds a TokenBucket enforcing rpm requests per minute,
// with capacity equal to rpm so the bucket accumulates up to a full minute's
// budget rather than pacing every request individually.
func NewTokenBucket(rpm float64) *TokenBucket {
	burst := int(rpm)
	if burst < 1 {
		burst = 1
	}
	return &TokenBucket{
		limiter: rate.NewLimiter(rate.Limit(rpm/60.0), burst),
	}
}

// Backoff takes one token and returns zero when one is available. When the
// bucket is short, it takes nothing and returns how long until a token will
// be available; the caller waits that long and calls Backoff again.
func (t *TokenBucket) Backoff() time.Duration {
	reservation := t.limiter.Reserve()
	if !reservation.OK() {
		return 0
	}
	delay := reservation.Delay()
	if delay > 0 {
		reservation.Cancel()
	}
	return delay
}
