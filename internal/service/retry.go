package service

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/timmy/catalogsync/internal/domain"
)

// withRetry runs op up to attempts times with jittered exponential backoff.
// Only errors marked transient are retried; the last error is returned as is.
func withRetry(ctx context.Context, attempts int, base time.Duration, op func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	b := retry.NewExponential(base)
	b = retry.WithJitterPercent(10, b)
	b = retry.WithMaxRetries(uint64(attempts-1), b)

	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := op(ctx)
		if domain.IsTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}
