// Package observability provides the structured logging, metrics, and
// tracing the RLM runtime reports through: the session loop, the
// sandbox backends, and the public pkg/rlmapi entry point.
//
// # Overview
//
// The package implements the three pillars of observability:
//
//  1. Metrics - Quantitative measurements using Prometheus
//  2. Logging - Structured logs with sensitive data redaction
//  3. Tracing - In-process request tracing with OpenTelemetry
//
// # Architecture
//
// The package is designed to be:
//   - Low-overhead: Minimal performance impact in the hot loop
//   - Type-safe: Strongly-typed APIs reduce configuration errors
//   - Production-ready: Built-in security (redaction) and reliability features
//   - Standards-based: Uses Prometheus, OpenTelemetry, and slog
//
// # Metrics
//
// Metrics are implemented using Prometheus client libraries and track:
//   - Session counts, durations, and termination reasons
//   - Turn counts and per-turn duration by observation kind
//   - Budget halts by axis (tokens, USD, root calls, sub calls, timeout)
//   - Sandbox executions by backend and outcome
//   - Root/sub model request latency, token usage, and cost
//   - Navigation primitive and recursive sub-query call counts
//
// Example usage:
//
//	metrics := observability.NewMetrics()
//
//	metrics.SessionStarted()
//	defer metrics.SessionEnded("done", time.Since(start).Seconds())
//
//	start := time.Now()
//	// ... call the root model ...
//	metrics.RecordModelRequest("anthropic", "claude-opus-4", "root", "success",
//	    time.Since(start).Seconds(), inputTokens, outputTokens)
//
// # Logging
//
// Logging is built on Go's slog package with enhancements for:
//   - Automatic request/session/turn correlation from context
//   - Sensitive data redaction (API keys, passwords, tokens)
//   - JSON output for production, text for development
//   - Configurable log levels
//
// Example usage:
//
//	logger := observability.NewLogger(observability.LogConfig{
//	    Level:     "info",
//	    Format:    "json",
//	    AddSource: true,
//	})
//
//	ctx := observability.AddRequestID(ctx, requestID)
//	ctx = observability.AddSessionID(ctx, sessionID)
//	ctx = observability.AddTurn(ctx, turn)
//
//	logger.Info(ctx, "dispatching nav call",
//	    "tool", "nav_search",
//	    "query", query,
//	)
//
//	logger.Error(ctx, "model request failed",
//	    "error", err,
//	    "provider", "anthropic",
//	    "api_key", apiKey, // Automatically redacted
//	)
//
// # Tracing
//
// Tracing uses the OpenTelemetry SDK to track a session's turns and the
// model/sandbox/nav-call work each turn performs. The RLM runtime is an
// embedded library with no outer service boundary to export spans
// across, so the tracer runs an in-process TracerProvider rather than
// an OTLP exporter pipeline — see DESIGN.md for the tradeoff.
//
// Example usage:
//
//	tracer := observability.NewTracer(observability.TraceConfig{
//	    ServiceName:    "rlm",
//	    ServiceVersion: "1.0.0",
//	    Environment:    "production",
//	    SamplingRate:   1.0,
//	})
//	defer tracer.Shutdown(context.Background())
//
//	ctx, span := tracer.TraceSession(ctx, rootModel, subModel)
//	defer span.End()
//
//	ctx, turnSpan := tracer.TraceTurn(ctx, turn)
//	defer turnSpan.End()
//
//	ctx, modelSpan := tracer.TraceModelRequest(ctx, "anthropic", "claude-opus-4", "root")
//	defer modelSpan.End()
//	if err != nil {
//	    tracer.RecordError(modelSpan, err)
//	}
//
// # Context Propagation
//
// All three components integrate with Go's context for automatic correlation:
//
//	ctx = observability.AddRequestID(ctx, "req-123")
//	ctx = observability.AddSessionID(ctx, "sess-456")
//	ctx = observability.AddTurn(ctx, 3)
//
//	logger.Info(ctx, "turn started") // Includes request_id, session_id, turn
//
//	ctx, span := tracer.Start(ctx, "operation")
//	// span context propagates to children started from ctx
//
// # Security Considerations
//
// The logging component automatically redacts:
//   - API keys (Anthropic, OpenAI, generic)
//   - Passwords and secrets
//   - JWT tokens
//   - Bearer tokens
//   - Custom patterns via configuration
//
// Sensitive fields in maps are also redacted:
//   - password, passwd, pwd
//   - secret, api_key, apikey
//   - token, auth, authorization
//   - private_key, privatekey
//
// # Testing
//
// All components provide testable interfaces:
//   - Metrics can be verified using prometheus/testutil against an
//     isolated prometheus.Registry
//   - Logging can write to bytes.Buffer for assertions
//   - Tracing works against the in-process TracerProvider with no
//     network dependency
//
// # Best Practices
//
//  1. Always propagate context to enable correlation
//  2. Use defer for span.End() to ensure spans are closed
//  3. Record errors on both metrics and traces
//  4. Use structured logging with key-value pairs
//  5. Set appropriate sampling rates for high-volume deployments
//  6. Call Shutdown() on the tracer during graceful shutdown
package observability
