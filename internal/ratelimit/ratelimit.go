// Package ratelimit implements the token-bucket rate limiter used by the
// REST client template, built on golang.org/x/time/rate the way the
// teacher rate-limits outbound webhook delivery.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// Config describes a token bucket: capacity tokens refilled continuously
// at capacity/window per second.
type Config struct {
	Capacity int
	Window   float64 // seconds over which Capacity tokens fully refill
}

// Limiter is a single token bucket. Acquire suspends the caller until a
// token is available (or ctx is done); TryAcquire never blocks.
type Limiter struct {
	inner *rate.Limiter
}

// New builds a Limiter from cfg. A non-positive Window defaults to 1
// second (i.e. refill_rate == capacity per second).
func New(cfg Config) *Limiter {
	window := cfg.Window
	if window <= 0 {
		window = 1
	}
	refillPerSecond := float64(cfg.Capacity) / window
	return &Limiter{inner: rate.NewLimiter(rate.Limit(refillPerSecond), cfg.Capacity)}
}

// Acquire refills, then consumes one token, suspending the caller for
// the wait computed from the shortfall if none is immediately available.
// It returns ctx.Err() if ctx is canceled before a token frees up.
func (l *Limiter) Acquire(ctx context.Context) error {
	return l.inner.Wait(ctx)
}

// TryAcquire attempts to consume one token without suspending, returning
// false (RATE_LIMIT_EXCEEDED territory for the caller) if none is
// immediately available.
func (l *Limiter) TryAcquire() bool {
	return l.inner.Allow()
}

// Tokens reports the current token count, useful for health/debug
// surfaces. It does not consume a token.
func (l *Limiter) Tokens() float64 {
	return l.inner.Tokens()
}
