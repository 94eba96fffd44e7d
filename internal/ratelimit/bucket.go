// Package ratelimit implements token bucket throttling for HTTP clients and
// WebSocket sessions.
package ratelimit

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// ErrInvalidConfig is returned when a bucket or limiter is configured with a
// non-positive capacity or refill rate.
var ErrInvalidConfig = errors.New("ratelimit: invalid configuration")

// Clock reports the current time. Tests substitute a manually advanced clock.
type Clock func() time.Time

// TokenBucket holds up to capacity tokens and refills continuously at a fixed
// rate. Refill is computed lazily from the elapsed time on every call, so an
// idle bucket costs nothing. A new bucket starts full.
//
// TokenBucket is safe for concurrent use.
type TokenBucket struct {
	limiter   *rate.Limiter
	capacity  int
	perSecond float64
	now       Clock
}

// NewTokenBucket creates a full bucket with the given capacity that refills
// at refillPerSecond tokens per second. A nil clock means time.Now.
func NewTokenBucket(capacity int, refillPerSecond float64, now Clock) (*TokenBucket, error) {
	if capacity <= 0 || refillPerSecond <= 0 {
		return nil, fmt.Errorf("%w: capacity=%d refill=%g/s", ErrInvalidConfig, capacity, refillPerSecond)
	}
	return newTokenBucket(capacity, refillPerSecond, now), nil
}

func newTokenBucket(capacity int, refillPerSecond float64, now Clock) *TokenBucket {
	if now == nil {
		now = time.Now
	}
	return &TokenBucket{
		limiter:   rate.NewLimiter(rate.Limit(refillPerSecond), capacity),
		capacity:  capacity,
		perSecond: refillPerSecond,
		now:       now,
	}
}

// Consume takes n tokens if at least n are available and reports whether it
// did. A failed Consume leaves the bucket untouched.
func (b *TokenBucket) Consume(n int) bool {
	return b.limiter.AllowN(b.now(), n)
}

// TimeUntilAvailable returns how long the caller has to wait before n tokens
// are available, or zero if they are available now. It does not consume.
func (b *TokenBucket) TimeUntilAvailable(n int) time.Duration {
	tokens := b.limiter.TokensAt(b.now())
	if tokens >= float64(n) {
		return 0
	}
	seconds := (float64(n) - tokens) / b.perSecond
	return time.Duration(seconds * float64(time.Second))
}

// Tokens returns the number of tokens currently available.
func (b *TokenBucket) Tokens() float64 {
	return b.limiter.TokensAt(b.now())
}

// Capacity returns the maximum number of tokens the bucket can hold.
func (b *TokenBucket) Capacity() int {
	return b.capacity
}
