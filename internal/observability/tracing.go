package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// Tracer provides tracing for a session run using the OpenTelemetry SDK.
//
// Spans cover the shape of one session: a root span for the run, a
// child span per turn, and grandchildren for the root/sub model calls
// and sandbox execution a turn makes. There is no outer service
// boundary to propagate a trace across — the runtime is an embedded
// library, not a network service — so this tracer only records spans
// in-process; it does not export them.
//
// Usage:
//
//	tracer := observability.NewTracer(observability.TraceConfig{
//	    ServiceName: "rlm",
//	    Environment: "production",
//	})
//
//	ctx, span := tracer.Start(ctx, "session.turn")
//	defer span.End()
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	config   TraceConfig
}

// TraceConfig configures tracing behavior.
type TraceConfig struct {
	// ServiceName identifies this service in traces.
	ServiceName string

	// ServiceVersion identifies the service version.
	ServiceVersion string

	// Environment specifies the deployment environment (production, staging, dev).
	Environment string

	// SamplingRate controls what fraction of sessions are traced (0.0 to 1.0).
	// 1.0 = every session, 0.1 = roughly one in ten. Defaults to 1.0.
	SamplingRate float64

	// Attributes are additional resource attributes to include on every span.
	Attributes map[string]string
}

// SpanOptions configures span creation behavior.
type SpanOptions struct {
	Kind       trace.SpanKind
	Attributes []attribute.KeyValue
}

// NewTracer builds a Tracer backed by an in-process OpenTelemetry SDK
// TracerProvider. Resource construction failures fall back to
// resource.Default() rather than failing startup.
//
// Example:
//
//	tracer := observability.NewTracer(observability.TraceConfig{
//	    ServiceName:  "rlm",
//	    SamplingRate: 1.0,
//	})
//	defer tracer.Shutdown(context.Background())
func NewTracer(config TraceConfig) *Tracer {
	if config.SamplingRate == 0 {
		config.SamplingRate = 1.0
	}
	if config.ServiceName == "" {
		config.ServiceName = "rlm"
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
	}
	if config.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(config.Environment))
	}
	for k, v := range config.Attributes {
		attrs = append(attrs, attribute.String(k, v))
	}

	res, err := resource.New(context.Background(), resource.WithAttributes(attrs...))
	if err != nil {
		res = resource.Default()
	}

	var sampler sdktrace.Sampler
	switch {
	case config.SamplingRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case config.SamplingRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(config.SamplingRate)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(provider)

	return &Tracer{
		provider: provider,
		tracer:   provider.Tracer(config.ServiceName),
		config:   config,
	}
}

// Shutdown flushes and releases the underlying provider.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

// Start creates a new span and returns a context containing it.
//
// Example:
//
//	ctx, span := tracer.Start(ctx, "session.turn")
//	defer span.End()
func (t *Tracer) Start(ctx context.Context, name string, opts ...SpanOptions) (context.Context, trace.Span) {
	var options []trace.SpanStartOption
	if len(opts) > 0 {
		opt := opts[0]
		if opt.Kind != 0 {
			options = append(options, trace.WithSpanKind(opt.Kind))
		}
		if len(opt.Attributes) > 0 {
			options = append(options, trace.WithAttributes(opt.Attributes...))
		}
	}
	return t.tracer.Start(ctx, name, options...)
}

// StartSpan is a convenience wrapper around Start that returns just the span.
func (t *Tracer) StartSpan(ctx context.Context, name string, opts ...SpanOptions) trace.Span {
	_, span := t.Start(ctx, name, opts...)
	return span
}

// RecordError records an error on the span and sets the span status to error.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetAttributes sets multiple attributes on a span from alternating
// key, value pairs.
func (t *Tracer) SetAttributes(span trace.Span, keyvals ...any) {
	span.SetAttributes(attributesFromPairs(keyvals)...)
}

// AddEvent adds a named event to the span with optional attributes.
func (t *Tracer) AddEvent(span trace.Span, name string, keyvals ...any) {
	span.AddEvent(name, trace.WithAttributes(attributesFromPairs(keyvals)...))
}

// TraceSession creates the root span for one session run.
//
// Example:
//
//	ctx, span := tracer.TraceSession(ctx, "gpt-5", "claude-opus-4")
//	defer span.End()
func (t *Tracer) TraceSession(ctx context.Context, rootModel, subModel string) (context.Context, trace.Span) {
	return t.Start(ctx, "session.run", SpanOptions{
		Kind: trace.SpanKindInternal,
		Attributes: []attribute.KeyValue{
			attribute.String("rlm.root_model", rootModel),
			attribute.String("rlm.sub_model", subModel),
		},
	})
}

// TraceTurn creates a span for a single session turn.
//
// Example:
//
//	ctx, span := tracer.TraceTurn(ctx, 3)
//	defer span.End()
func (t *Tracer) TraceTurn(ctx context.Context, turn int64) (context.Context, trace.Span) {
	return t.Start(ctx, "session.turn", SpanOptions{
		Kind:       trace.SpanKindInternal,
		Attributes: []attribute.KeyValue{attribute.Int64("rlm.turn", turn)},
	})
}

// TraceModelRequest creates a span for a root or sub model completion request.
//
// Example:
//
//	ctx, span := tracer.TraceModelRequest(ctx, "anthropic", "claude-opus-4", "root")
//	defer span.End()
func (t *Tracer) TraceModelRequest(ctx context.Context, provider, model, role string) (context.Context, trace.Span) {
	return t.Start(ctx, fmt.Sprintf("llm.%s", provider), SpanOptions{
		Kind: trace.SpanKindClient,
		Attributes: []attribute.KeyValue{
			attribute.String("llm.provider", provider),
			attribute.String("llm.model", model),
			attribute.String("rlm.role", role),
		},
	})
}

// TraceSandboxExecution creates a span for one snippet execution.
//
// Example:
//
//	ctx, span := tracer.TraceSandboxExecution(ctx, "process")
//	defer span.End()
func (t *Tracer) TraceSandboxExecution(ctx context.Context, backend string) (context.Context, trace.Span) {
	return t.Start(ctx, "sandbox.execute", SpanOptions{
		Kind:       trace.SpanKindInternal,
		Attributes: []attribute.KeyValue{attribute.String("sandbox.backend", backend)},
	})
}

// TraceNavCall creates a span for a navigation primitive invocation.
func (t *Tracer) TraceNavCall(ctx context.Context, tool string) (context.Context, trace.Span) {
	return t.Start(ctx, fmt.Sprintf("nav.%s", tool), SpanOptions{
		Kind:       trace.SpanKindInternal,
		Attributes: []attribute.KeyValue{attribute.String("nav.tool", tool)},
	})
}

// TraceSubQuery creates a span for an llm_query recursive sub-call.
func (t *Tracer) TraceSubQuery(ctx context.Context, model string) (context.Context, trace.Span) {
	return t.Start(ctx, "llm_query", SpanOptions{
		Kind:       trace.SpanKindClient,
		Attributes: []attribute.KeyValue{attribute.String("llm.model", model)},
	})
}

func attributesFromPairs(keyvals []any) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(keyvals)/2)
	for i := 0; i < len(keyvals)-1; i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		attrs = append(attrs, attributeFromValue(key, keyvals[i+1]))
	}
	return attrs
}

// attributeFromValue creates an attribute.KeyValue from a Go value.
func attributeFromValue(key string, val any) attribute.KeyValue {
	switch v := val.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	case []string:
		return attribute.StringSlice(key, v)
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}

// WithSpan creates a span, runs fn, records any error fn returns, and ends the span.
//
// Example:
//
//	err := observability.WithSpan(ctx, tracer, "sandbox.execute", func(ctx context.Context, span trace.Span) error {
//	    return backend.Execute(ctx, req)
//	})
func WithSpan(ctx context.Context, tracer *Tracer, name string, fn func(context.Context, trace.Span) error) error {
	ctx, span := tracer.Start(ctx, name)
	defer span.End()

	err := fn(ctx, span)
	if err != nil {
		tracer.RecordError(span, err)
	}
	return err
}

// SpanFromContext returns the current span from the context. Returns a
// non-recording span if no span is present.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// ContextWithSpan returns a new context with the given span.
func ContextWithSpan(ctx context.Context, span trace.Span) context.Context {
	return trace.ContextWithSpan(ctx, span)
}

// GetTraceID returns the trace ID from the context as a string, or
// empty if no trace is active.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return ""
	}
	return span.SpanContext().TraceID().String()
}

// GetSpanID returns the span ID from the context as a string, or empty
// if no span is active.
func GetSpanID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return ""
	}
	return span.SpanContext().SpanID().String()
}
