package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting runtime metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Session lifecycle and termination reasons
//   - Turn throughput and per-turn latency
//   - Budget governor halts by axis (tokens, dollars, calls, timeout)
//   - Sandbox execution outcomes and latency by backend
//   - Root/sub model request performance and token consumption
//   - Navigation primitive invocation counts
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.SessionStarted()
//	defer metrics.RecordModelRequest("anthropic", "claude-3-opus", "root", "success", dur, in, out)
type Metrics struct {
	// SessionsTotal counts completed sessions by termination reason.
	// Labels: terminated_by (done|budget_exhausted|max_turns|timeout|cancelled|internal_error)
	SessionsTotal *prometheus.CounterVec

	// SessionDuration measures session wall-clock duration in seconds.
	// Labels: terminated_by
	SessionDuration *prometheus.HistogramVec

	// ActiveSessions is a gauge tracking sessions currently in flight.
	ActiveSessions prometheus.Gauge

	// TurnsTotal counts turns by the observation kind they produced.
	// Labels: kind (final|code_result|parse_error|timeout|internal_error)
	TurnsTotal *prometheus.CounterVec

	// TurnDuration measures a single turn's duration, model call through
	// observation, in seconds.
	TurnDuration prometheus.Histogram

	// TurnsPerSession measures how many turns a completed session took.
	TurnsPerSession prometheus.Histogram

	// BudgetHaltsTotal counts sessions halted by the budget governor, by axis.
	// Labels: kind (tokens|usd|root_calls|sub_calls|timeout)
	BudgetHaltsTotal *prometheus.CounterVec

	// BudgetTokensSpent measures total tokens (input+output, root+sub)
	// spent per session.
	BudgetTokensSpent prometheus.Histogram

	// BudgetDollarsSpent measures total dollar cost spent per session.
	BudgetDollarsSpent prometheus.Histogram

	// SandboxExecutionsTotal counts snippet executions by backend and outcome.
	// Labels: backend (process|firecracker|daytona), outcome (ok|timeout|policy_denied|protocol_error)
	SandboxExecutionsTotal *prometheus.CounterVec

	// SandboxExecutionDuration measures snippet execution latency by backend.
	SandboxExecutionDuration *prometheus.HistogramVec

	// ModelRequestsTotal counts completion requests by provider, model, role, and outcome.
	// Labels: provider, model, role (root|sub), outcome (success|error)
	ModelRequestsTotal *prometheus.CounterVec

	// ModelRequestDuration measures completion request latency by provider, model, role.
	ModelRequestDuration *prometheus.HistogramVec

	// ModelTokensTotal counts tokens consumed by provider, model, role, and direction.
	// Labels: provider, model, role, direction (input|output)
	ModelTokensTotal *prometheus.CounterVec

	// ModelCostUSD tracks estimated dollar cost by provider and model.
	ModelCostUSD *prometheus.CounterVec

	// NavCallsTotal counts navigation primitive invocations by tool and outcome.
	// Labels: tool (nav_outline|nav_ls|nav_read|nav_search|nav_info), outcome (ok|error)
	NavCallsTotal *prometheus.CounterVec

	// SubCallsTotal counts llm_query invocations by outcome.
	// Labels: outcome (success|error|budget_halt)
	SubCallsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup.
//
// All metrics are automatically registered with Prometheus's default registry
// and will be available at the /metrics endpoint when using the prometheus
// HTTP handler.
func NewMetrics() *Metrics {
	return &Metrics{
		SessionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rlm_sessions_total",
				Help: "Total number of completed sessions by termination reason",
			},
			[]string{"terminated_by"},
		),

		SessionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rlm_session_duration_seconds",
				Help:    "Wall-clock duration of a session run in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
			},
			[]string{"terminated_by"},
		),

		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "rlm_active_sessions",
				Help: "Current number of sessions in flight",
			},
		),

		TurnsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rlm_turns_total",
				Help: "Total number of turns completed by observation kind",
			},
			[]string{"kind"},
		),

		TurnDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rlm_turn_duration_seconds",
				Help:    "Duration of a single turn in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		),

		TurnsPerSession: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rlm_turns_per_session",
				Help:    "Number of turns a completed session took",
				Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34},
			},
		),

		BudgetHaltsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rlm_budget_halts_total",
				Help: "Total number of sessions halted by the budget governor, by axis",
			},
			[]string{"kind"},
		),

		BudgetTokensSpent: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rlm_session_tokens_spent",
				Help:    "Total tokens spent per session, root and sub combined",
				Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576},
			},
		),

		BudgetDollarsSpent: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rlm_session_usd_spent",
				Help:    "Total dollar cost spent per session",
				Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 50},
			},
		),

		SandboxExecutionsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rlm_sandbox_executions_total",
				Help: "Total number of sandbox snippet executions by backend and outcome",
			},
			[]string{"backend", "outcome"},
		),

		SandboxExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rlm_sandbox_execution_duration_seconds",
				Help:    "Duration of sandbox snippet executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"backend"},
		),

		ModelRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rlm_model_requests_total",
				Help: "Total number of model requests by provider, model, role, and outcome",
			},
			[]string{"provider", "model", "role", "outcome"},
		),

		ModelRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rlm_model_request_duration_seconds",
				Help:    "Duration of model requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model", "role"},
		),

		ModelTokensTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rlm_model_tokens_total",
				Help: "Total number of model tokens consumed by provider, model, role, and direction",
			},
			[]string{"provider", "model", "role", "direction"},
		),

		ModelCostUSD: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rlm_model_cost_usd_total",
				Help: "Estimated model API cost in USD by provider and model",
			},
			[]string{"provider", "model"},
		),

		NavCallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rlm_nav_calls_total",
				Help: "Total number of navigation primitive invocations by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),

		SubCallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rlm_sub_calls_total",
				Help: "Total number of llm_query invocations by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// SessionStarted increments the active sessions gauge.
func (m *Metrics) SessionStarted() {
	m.ActiveSessions.Inc()
}

// SessionEnded decrements the active sessions gauge and records the
// session's termination reason and duration.
//
// Example:
//
//	start := time.Now()
//	// ... run session ...
//	metrics.SessionEnded("done", time.Since(start).Seconds())
func (m *Metrics) SessionEnded(terminatedBy string, durationSeconds float64) {
	m.ActiveSessions.Dec()
	m.SessionsTotal.WithLabelValues(terminatedBy).Inc()
	m.SessionDuration.WithLabelValues(terminatedBy).Observe(durationSeconds)
}

// RecordTurn records a completed turn's observation kind and duration.
func (m *Metrics) RecordTurn(kind string, durationSeconds float64) {
	m.TurnsTotal.WithLabelValues(kind).Inc()
	m.TurnDuration.Observe(durationSeconds)
}

// RecordBudgetHalt records a session halted by the governor on the given axis.
func (m *Metrics) RecordBudgetHalt(kind string) {
	m.BudgetHaltsTotal.WithLabelValues(kind).Inc()
}

// RecordSessionSpend records the final token and dollar totals for a
// completed session.
func (m *Metrics) RecordSessionSpend(turns int, tokens int64, usd float64) {
	m.TurnsPerSession.Observe(float64(turns))
	m.BudgetTokensSpent.Observe(float64(tokens))
	m.BudgetDollarsSpent.Observe(usd)
}

// RecordSandboxExecution records a snippet execution's backend, outcome,
// and duration.
//
// Example:
//
//	start := time.Now()
//	// ... execute snippet ...
//	metrics.RecordSandboxExecution("process", "ok", time.Since(start).Seconds())
func (m *Metrics) RecordSandboxExecution(backend, outcome string, durationSeconds float64) {
	m.SandboxExecutionsTotal.WithLabelValues(backend, outcome).Inc()
	m.SandboxExecutionDuration.WithLabelValues(backend).Observe(durationSeconds)
}

// RecordModelRequest records a completion request's provider, model, role,
// outcome, duration, and token counts.
//
// Example:
//
//	metrics.RecordModelRequest("anthropic", "claude-3-opus", "root", "success", 1.2, 800, 220)
func (m *Metrics) RecordModelRequest(provider, model, role, outcome string, durationSeconds float64, inputTokens, outputTokens int64) {
	m.ModelRequestsTotal.WithLabelValues(provider, model, role, outcome).Inc()
	m.ModelRequestDuration.WithLabelValues(provider, model, role).Observe(durationSeconds)
	if inputTokens > 0 {
		m.ModelTokensTotal.WithLabelValues(provider, model, role, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		m.ModelTokensTotal.WithLabelValues(provider, model, role, "output").Add(float64(outputTokens))
	}
}

// RecordModelCost records estimated API cost for a completion request.
func (m *Metrics) RecordModelCost(provider, model string, costUSD float64) {
	m.ModelCostUSD.WithLabelValues(provider, model).Add(costUSD)
}

// RecordNavCall records a navigation primitive invocation.
//
// Example:
//
//	metrics.RecordNavCall("nav_search", "ok")
func (m *Metrics) RecordNavCall(tool, outcome string) {
	m.NavCallsTotal.WithLabelValues(tool, outcome).Inc()
}

// RecordSubCall records an llm_query invocation's outcome.
func (m *Metrics) RecordSubCall(outcome string) {
	m.SubCallsTotal.WithLabelValues(outcome).Inc()
}
