package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/rlm/internal/retry"
)

func TestMockProviderReturnsScriptedResponsesInOrder(t *testing.T) {
	mock := NewMockProvider(
		Response{Text: "first"},
		Response{Text: "second"},
	)
	ctx := context.Background()
	r1, err := mock.Complete(ctx, &Request{})
	if err != nil || r1.Text != "first" {
		t.Fatalf("unexpected first response: %v %v", r1, err)
	}
	r2, err := mock.Complete(ctx, &Request{})
	if err != nil || r2.Text != "second" {
		t.Fatalf("unexpected second response: %v %v", r2, err)
	}
	if _, err := mock.Complete(ctx, &Request{}); err == nil {
		t.Fatalf("expected exhaustion error on third call")
	}
}

func TestRetryingProviderRetriesOnRetryableError(t *testing.T) {
	attempts := 0
	flaky := flakyProvider{fn: func() (*Response, error) {
		attempts++
		if attempts < 3 {
			return nil, &ModelError{Provider: "flaky", Err: errors.New("rate limited"), Retryable: true}
		}
		return &Response{Text: "ok"}, nil
	}}
	rp := NewRetryingProvider(flaky, retry.Config{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Factor: 1.5})
	resp, err := rp.Complete(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "ok" || attempts != 3 {
		t.Fatalf("expected success on 3rd attempt, got attempts=%d resp=%v", attempts, resp)
	}
}

func TestRetryingProviderDoesNotRetryNonRetryableError(t *testing.T) {
	attempts := 0
	flaky := flakyProvider{fn: func() (*Response, error) {
		attempts++
		return nil, &ModelError{Provider: "flaky", Err: errors.New("bad request"), Retryable: false}
	}}
	rp := NewRetryingProvider(flaky, retry.Config{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Factor: 1.5})
	if _, err := rp.Complete(context.Background(), &Request{}); err == nil {
		t.Fatalf("expected terminal error")
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt, got %d", attempts)
	}
}

type flakyProvider struct {
	fn func() (*Response, error)
}

func (f flakyProvider) Name() string       { return "flaky" }
func (f flakyProvider) SupportsTools() bool { return false }
func (f flakyProvider) Models() []Model    { return nil }
func (f flakyProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	return f.fn()
}
