package pipeline

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/clipfetch/clipfetch/errors"
)

// WithRetry runs op under a per-attempt deadline, retrying up to attempts
// total tries. Unretriable errors and parent-context cancellation stop the
// loop early.
func WithRetry(ctx context.Context, timeout time.Duration, attempts int, op func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	run := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		err := op(attemptCtx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || errors.IsUnretriable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = 500 * time.Millisecond
	backOff.MaxInterval = 5 * time.Second
	backOff.MaxElapsedTime = 0
	return backoff.Retry(run, backoff.WithContext(backoff.WithMaxRetries(backOff, uint64(attempts-1)), ctx))
}
