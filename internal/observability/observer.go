package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/rlm/internal/budget"
	"github.com/haasonsaas/rlm/internal/session"
)

// RuntimeObserver wires logging, metrics, and tracing together into the
// single handle session.Config.Observer expects. internal/session never
// imports this package — the dependency runs the other way, with
// RuntimeObserver implementing session.Observer by importing session
// for its exact parameter types (session.ObservationKind, budget.HaltKind).
type RuntimeObserver struct {
	ctx       context.Context
	sessionID string

	logger   *Logger
	metrics  *Metrics
	tracer   *Tracer
	recorder *EventRecorder

	turnStarted map[int64]time.Time
	turnSpans   map[int64]trace.Span
}

var _ session.Observer = (*RuntimeObserver)(nil)

// NewRuntimeObserver builds an observer bound to one session. ctx
// should already carry the request/session IDs via AddRequestID /
// AddSessionID so every log line and span the observer emits is
// correlated back to the call that started the session.
func NewRuntimeObserver(ctx context.Context, sessionID string, logger *Logger, metrics *Metrics, tracer *Tracer, recorder *EventRecorder) *RuntimeObserver {
	return &RuntimeObserver{
		ctx:         AddSessionID(ctx, sessionID),
		sessionID:   sessionID,
		logger:      logger,
		metrics:     metrics,
		tracer:      tracer,
		recorder:    recorder,
		turnStarted: make(map[int64]time.Time),
		turnSpans:   make(map[int64]trace.Span),
	}
}

// TurnStart records the beginning of a turn: a debug log line, a
// started-at timestamp for latency bookkeeping, and (if a tracer is
// configured) a child span covering the turn.
func (o *RuntimeObserver) TurnStart(turn int64) {
	o.turnStarted[turn] = time.Now()

	ctx := AddTurn(o.ctx, turn)
	if o.logger != nil {
		o.logger.Debug(ctx, "turn started", "turn", turn)
	}
	if o.tracer != nil {
		spanCtx, span := o.tracer.TraceTurn(ctx, turn)
		o.ctx = spanCtx
		o.turnSpans[turn] = span
	}
	if o.recorder != nil {
		_ = o.recorder.Record(AddRunID(ctx, o.sessionID), EventTypeTurn, "turn_start", map[string]interface{}{
			"turn": turn,
		})
	}
}

// TurnEnd records the outcome of a turn: metrics (count + duration by
// observation kind), a log line, span closure, and a timeline event.
func (o *RuntimeObserver) TurnEnd(turn int64, kind session.ObservationKind, duration time.Duration) {
	ctx := AddTurn(o.ctx, turn)
	kindStr := string(kind)

	if o.metrics != nil {
		o.metrics.RecordTurn(kindStr, duration.Seconds())
	}
	if o.logger != nil {
		o.logger.Info(ctx, "turn completed", "turn", turn, "kind", kindStr, "duration_ms", duration.Milliseconds())
	}
	if span, ok := o.turnSpans[turn]; ok {
		o.tracer.SetAttributes(span, "turn.kind", kindStr, "turn.duration_ms", duration.Milliseconds())
		span.End()
		delete(o.turnSpans, turn)
	}
	delete(o.turnStarted, turn)
	if o.recorder != nil {
		_ = o.recorder.Record(AddRunID(ctx, o.sessionID), EventTypeTurn, "turn_end", map[string]interface{}{
			"turn":        turn,
			"kind":        kindStr,
			"duration_ms": duration.Milliseconds(),
		})
	}
}

// BudgetHalt records a session halted by the budget governor.
func (o *RuntimeObserver) BudgetHalt(kind budget.HaltKind) {
	kindStr := string(kind)
	if o.metrics != nil {
		o.metrics.RecordBudgetHalt(kindStr)
	}
	if o.logger != nil {
		o.logger.Warn(o.ctx, "session halted by budget governor", "kind", kindStr)
	}
	if o.recorder != nil {
		_ = o.recorder.Record(AddRunID(o.ctx, o.sessionID), EventTypeBudgetHalt, "budget_halt", map[string]interface{}{
			"kind": kindStr,
		})
	}
	if IsDiagnosticsEnabled() {
		EmitBudgetHalt(&BudgetHaltEvent{SessionID: o.sessionID, Kind: kindStr})
	}
}
