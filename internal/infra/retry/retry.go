// Package retry implements the hand-rolled exponential backoff the rest of
// the codebase shares (spec.md §4.1 for the Postgres store, §4.6 for media
// uploads). No retry library appears anywhere in the example pool this
// codebase was grounded on, so this stays a small, explicit helper rather
// than importing one.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Policy describes an exponential backoff with jitter.
type Policy struct {
	MaxAttempts int
	Base        time.Duration
	Cap         time.Duration
	JitterFrac  float64 // e.g. 0.3 for ±30%
}

// IsRetryable classifies an error as transient for this call.
type IsRetryable func(err error) bool

// Do runs op, retrying on retryable errors with exponential backoff and
// jitter, for at most MaxAttempts calls in total (the first included). It returns the last error if every
// attempt fails, or nil as soon as op succeeds.
func Do(ctx context.Context, p Policy, retryable IsRetryable, op func(ctx context.Context) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	var lastErr error
	delay := p.Base
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) || attempt == p.MaxAttempts {
			return lastErr
		}
		wait := jitter(delay, p.JitterFrac)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		delay *= 2
		if delay > p.Cap {
			delay = p.Cap
		}
	}
	return lastErr
}

func jitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	span := float64(d) * frac
	offset := (rand.Float64()*2 - 1) * span
	result := float64(d) + offset
	if result < 0 {
		result = 0
	}
	return time.Duration(result)
}
