// Package llm provides the model-backend abstraction the session loop
// drives: one provider-agnostic Complete call per turn, with a
// deterministic mock implementation for tests and bounded-retry
// wrapping for transient failures.
package llm

import "context"

// Provider is the interface every model backend implements. Unlike a
// multi-turn streaming chat client, Complete is a single non-streaming
// call: the session loop needs exactly one reply per turn before it can
// parse and run the returned code, so there is nothing to gain from
// token-level streaming here.
type Provider interface {
	// Complete sends one request and returns the full reply.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// Name identifies the provider for logging and error classification.
	Name() string

	// Models lists the models this provider can serve.
	Models() []Model

	// SupportsTools reports whether this provider can accept tool
	// definitions (unused by the session loop today, but part of the
	// interface so a future structured-tool-call mode can reuse it).
	SupportsTools() bool
}

// Message is one turn of conversation history.
type Message struct {
	Role    string // "user" | "assistant"
	Content string
}

// Request is a single completion request.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Response is a single completion reply.
type Response struct {
	Text         string
	InputTokens  int64
	OutputTokens int64
	StopReason   string
}

// Model describes one model a provider can serve.
type Model struct {
	ID          string
	ContextSize int
}

// ModelError wraps a provider failure so the session loop can classify
// it against the bounded-retry-then-terminal policy.
type ModelError struct {
	Provider string
	Err      error
	Retryable bool
}

func (e *ModelError) Error() string { return e.Provider + ": " + e.Err.Error() }

func (e *ModelError) Unwrap() error { return e.Err }
