// Package retry runs an operation a bounded number of times with a fixed
// delay between attempts.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy is an attempt budget with a constant delay between attempts.
type Policy struct {
	Attempts int
	Delay    time.Duration
}

// Do calls fn until it succeeds, returns a Permanent error, the budget is
// spent or ctx is done. attempt is 1-based. The last error is returned.
func (p Policy) Do(ctx context.Context, fn func(attempt int) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Delay), uint64(attempts-1)),
		ctx,
	)

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		return fn(attempt)
	}, b)
}

// Permanent marks err as not worth retrying. Do returns the unwrapped err.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
