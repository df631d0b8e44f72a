package router

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryingAdapter wraps another Adapter with bounded exponential backoff,
// keeping resilience concerns separate from the provider SDK itself. Only
// errors satisfying Retryable are retried; everything else (including
// context cancellation) is returned immediately.
type RetryingAdapter struct {
	inner      Adapter
	maxRetries uint64
	base       time.Duration
}

// Retryable marks adapter errors as transient (rate limits, timeouts,
// connection resets) so RetryingAdapter knows to retry them.
type Retryable struct {
	Err error
}

func (r *Retryable) Error() string { return r.Err.Error() }
func (r *Retryable) Unwrap() error { return r.Err }

// NewRetryingAdapter wraps inner with up to maxRetries retries, starting
// with a base backoff that doubles each attempt.
func NewRetryingAdapter(inner Adapter, maxRetries uint64, base time.Duration) *RetryingAdapter {
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	return &RetryingAdapter{inner: inner, maxRetries: maxRetries, base: base}
}

// Complete implements Adapter.
func (a *RetryingAdapter) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	backoff := retry.NewExponential(a.base)
	backoff = retry.WithMaxRetries(a.maxRetries, backoff)

	var resp CompletionResponse
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		r, err := a.inner.Complete(ctx, req)
		if err != nil {
			var retryable *Retryable
			if errors.As(err, &retryable) {
				return retry.RetryableError(err)
			}
			return err
		}
		resp = r
		return nil
	})
	if err != nil {
		return CompletionResponse{}, err
	}
	return resp, nil
}
