package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyAdapter struct {
	failures int
	calls    int
	resp     CompletionResponse
}

func (f *flakyAdapter) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	f.calls++
	if f.calls <= f.failures {
		return CompletionResponse{}, &Retryable{Err: errors.New("rate limited")}
	}
	return f.resp, nil
}

func TestRetryingAdapter_RecoversAfterTransientFailures(t *testing.T) {
	inner := &flakyAdapter{failures: 2, resp: CompletionResponse{Content: "ok"}}
	a := NewRetryingAdapter(inner, 5, time.Millisecond)

	resp, err := a.Complete(context.Background(), CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryingAdapter_NonRetryableFailsImmediately(t *testing.T) {
	sentinel := errors.New("bad request")
	wrapped := &explicitFailAdapter{err: sentinel}
	a := NewRetryingAdapter(wrapped, 5, time.Millisecond)

	_, err := a.Complete(context.Background(), CompletionRequest{})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, wrapped.calls)
}

func TestRetryingAdapter_GivesUpAfterMaxRetries(t *testing.T) {
	inner := &flakyAdapter{failures: 100}
	a := NewRetryingAdapter(inner, 2, time.Millisecond)

	_, err := a.Complete(context.Background(), CompletionRequest{})
	require.Error(t, err)
	assert.LessOrEqual(t, inner.calls, 4)
}

type explicitFailAdapter struct {
	err   error
	calls int
}

func (e *explicitFailAdapter) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	e.calls++
	return CompletionResponse{}, e.err
}
