package llm

import (
	"context"
	"errors"

	"github.com/haasonsaas/rlm/internal/retry"
)

// RetryingProvider wraps a Provider with bounded exponential backoff:
// a ModelError marked Retryable is retried up to cfg.MaxAttempts times
// before being surfaced as a terminal model_error, matching the
// specification's "bounded retries with backoff, then terminal" policy.
type RetryingProvider struct {
	inner Provider
	cfg   retry.Config
}

func NewRetryingProvider(inner Provider, cfg retry.Config) *RetryingProvider {
	return &RetryingProvider{inner: inner, cfg: cfg}
}

func (r *RetryingProvider) Name() string          { return r.inner.Name() }
func (r *RetryingProvider) SupportsTools() bool    { return r.inner.SupportsTools() }
func (r *RetryingProvider) Models() []Model        { return r.inner.Models() }

func (r *RetryingProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	resp, result := retry.DoWithValue(ctx, r.cfg, func() (*Response, error) {
		out, err := r.inner.Complete(ctx, req)
		if err == nil {
			return out, nil
		}
		var modelErr *ModelError
		if errors.As(err, &modelErr) && !modelErr.Retryable {
			return nil, retry.Permanent(err)
		}
		return nil, err
	})
	if result.Err != nil {
		return nil, result.Err
	}
	return resp, nil
}
