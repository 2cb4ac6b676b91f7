// Package retry runs an operation under a bounded attempt policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy describes how often and how patiently an operation is retried.
// A zero Multiplier (or 1) gives a fixed delay. With a Multiplier above 1
// and no MaxDelay the library's one minute cap applies.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	Multiplier  float64
	MaxDelay    time.Duration

	// Retryable reports whether err is worth another attempt. nil retries
	// everything except errors wrapped with Permanent.
	Retryable func(err error) bool
}

// Permanent marks err as not retryable.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *backoff.PermanentError
	return errors.As(err, &p)
}

// Do calls fn until it succeeds, returns a non-retryable error, the
// attempts run out, or ctx is done. attempt starts at 1.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	maxAttempts := max(p.MaxAttempts, 1)

	var (
		attempt int
		last    error
		stopped bool
	)
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		last = fn(ctx, attempt)
		if last != nil && !p.retryable(last) {
			stopped = true
			return struct{}{}, backoff.Permanent(last)
		}
		return struct{}{}, last
	},
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(maxAttempts)),
		backoff.WithMaxElapsedTime(0),
	)

	switch {
	case err == nil:
		return nil
	case stopped:
		return last
	case attempt >= maxAttempts:
		return fmt.Errorf("gave up after %d attempts: %w", maxAttempts, last)
	default:
		return fmt.Errorf("retry interrupted after attempt %d: %w", attempt, errors.Join(err, last))
	}
}

func (p Policy) retryable(err error) bool {
	if IsPermanent(err) {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return true
}

func (p Policy) backOff() backoff.BackOff {
	if p.Multiplier <= 1 {
		d := p.Delay
		if p.MaxDelay > 0 && d > p.MaxDelay {
			d = p.MaxDelay
		}
		return backoff.NewConstantBackOff(d)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Delay
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}
	b.Reset()
	return b
}
