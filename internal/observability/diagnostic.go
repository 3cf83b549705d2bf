// Package observability provides diagnostic event types and emission.
package observability

import (
	"sync"
	"sync/atomic"
	"time"
)

// DiagnosticSessionState represents the state of a session.
type DiagnosticSessionState string

const (
	SessionStateIdle       DiagnosticSessionState = "idle"
	SessionStateProcessing DiagnosticSessionState = "processing"
	SessionStateWaiting    DiagnosticSessionState = "waiting"
)

// DiagnosticEventType identifies the type of diagnostic event.
type DiagnosticEventType string

const (
	EventTypeModelUsage          DiagnosticEventType = "model.usage"
	EventTypeTurnStarted         DiagnosticEventType = "turn.started"
	EventTypeTurnCompleted       DiagnosticEventType = "turn.completed"
	EventTypeSandboxExecuted     DiagnosticEventType = "sandbox.executed"
	EventTypeSessionState        DiagnosticEventType = "session.state"
	EventTypeSessionStuck        DiagnosticEventType = "session.stuck"
	EventTypeBudgetHalt          DiagnosticEventType = "budget.halt"
	EventTypeRunAttempt          DiagnosticEventType = "run.attempt"
	EventTypeDiagnosticHeartbeat DiagnosticEventType = "diagnostic.heartbeat"
)

// DiagnosticEvent is the base event structure.
type DiagnosticEvent struct {
	Type DiagnosticEventType `json:"type"`
	Seq  int64               `json:"seq"`
	Ts   int64               `json:"ts"`
}

// ModelUsageEvent tracks token usage for a model request.
type ModelUsageEvent struct {
	DiagnosticEvent
	SessionID  string          `json:"session_id,omitempty"`
	Role       string          `json:"role,omitempty"` // "root" | "sub"
	Provider   string          `json:"provider,omitempty"`
	Model      string          `json:"model,omitempty"`
	Usage      UsageDetails    `json:"usage"`
	Context    *ContextDetails `json:"context,omitempty"`
	CostUSD    float64         `json:"cost_usd,omitempty"`
	DurationMs int64           `json:"duration_ms,omitempty"`
}

// UsageDetails contains token usage breakdown.
type UsageDetails struct {
	Input  int64 `json:"input,omitempty"`
	Output int64 `json:"output,omitempty"`
	Total  int64 `json:"total,omitempty"`
}

// ContextDetails contains context window information.
type ContextDetails struct {
	Limit int64 `json:"limit,omitempty"`
	Used  int64 `json:"used,omitempty"`
}

// TurnStartedEvent tracks the start of a session turn.
type TurnStartedEvent struct {
	DiagnosticEvent
	SessionID string `json:"session_id,omitempty"`
	Turn      int64  `json:"turn"`
}

// TurnCompletedEvent tracks the completion of a session turn.
type TurnCompletedEvent struct {
	DiagnosticEvent
	SessionID  string `json:"session_id,omitempty"`
	Turn       int64  `json:"turn"`
	Kind       string `json:"kind"` // observation kind
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// SandboxExecutedEvent tracks one snippet execution.
type SandboxExecutedEvent struct {
	DiagnosticEvent
	SessionID  string `json:"session_id,omitempty"`
	Backend    string `json:"backend"`
	Outcome    string `json:"outcome"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

// SessionStateEvent tracks session state changes.
type SessionStateEvent struct {
	DiagnosticEvent
	SessionID string                 `json:"session_id,omitempty"`
	PrevState DiagnosticSessionState `json:"prev_state,omitempty"`
	State     DiagnosticSessionState `json:"state"`
	Reason    string                 `json:"reason,omitempty"`
}

// SessionStuckEvent tracks sessions stuck in processing (a turn whose
// sandbox execution has exceeded its timeout without the worker
// reporting back).
type SessionStuckEvent struct {
	DiagnosticEvent
	SessionID string                 `json:"session_id,omitempty"`
	State     DiagnosticSessionState `json:"state"`
	AgeMs     int64                  `json:"age_ms"`
}

// BudgetHaltEvent tracks a session halted by the budget governor.
type BudgetHaltEvent struct {
	DiagnosticEvent
	SessionID string `json:"session_id,omitempty"`
	Kind      string `json:"kind"`
}

// RunAttemptEvent tracks model-request retry attempts.
type RunAttemptEvent struct {
	DiagnosticEvent
	SessionID string `json:"session_id,omitempty"`
	Attempt   int    `json:"attempt"`
}

// DiagnosticHeartbeatEvent periodically reports aggregate runtime counters.
type DiagnosticHeartbeatEvent struct {
	DiagnosticEvent
	ActiveSessions int `json:"active_sessions"`
}

// DiagnosticEventPayload is a union type for all diagnostic events.
type DiagnosticEventPayload interface {
	EventType() DiagnosticEventType
	Sequence() int64
	Timestamp() int64
}

func (e *DiagnosticEvent) EventType() DiagnosticEventType { return e.Type }
func (e *DiagnosticEvent) Sequence() int64                { return e.Seq }
func (e *DiagnosticEvent) Timestamp() int64               { return e.Ts }

// DiagnosticListener receives diagnostic events.
type DiagnosticListener func(event DiagnosticEventPayload)

// DiagnosticEmitter manages diagnostic event emission.
type DiagnosticEmitter struct {
	mu        sync.RWMutex
	seq       int64
	enabled   bool
	listeners []DiagnosticListener
}

var globalEmitter = &DiagnosticEmitter{}

// SetDiagnosticsEnabled enables or disables diagnostic events.
func SetDiagnosticsEnabled(enabled bool) {
	globalEmitter.mu.Lock()
	defer globalEmitter.mu.Unlock()
	globalEmitter.enabled = enabled
}

// IsDiagnosticsEnabled returns whether diagnostics are enabled.
func IsDiagnosticsEnabled() bool {
	globalEmitter.mu.RLock()
	defer globalEmitter.mu.RUnlock()
	return globalEmitter.enabled
}

// OnDiagnosticEvent registers a listener for diagnostic events.
func OnDiagnosticEvent(listener DiagnosticListener) func() {
	globalEmitter.mu.Lock()
	defer globalEmitter.mu.Unlock()
	globalEmitter.listeners = append(globalEmitter.listeners, listener)

	return func() {
		globalEmitter.mu.Lock()
		defer globalEmitter.mu.Unlock()
		for i, l := range globalEmitter.listeners {
			if &l == &listener {
				globalEmitter.listeners = append(globalEmitter.listeners[:i], globalEmitter.listeners[i+1:]...)
				break
			}
		}
	}
}

func nextSeq() int64 {
	return atomic.AddInt64(&globalEmitter.seq, 1)
}

func emit(event DiagnosticEventPayload) {
	globalEmitter.mu.RLock()
	if !globalEmitter.enabled {
		globalEmitter.mu.RUnlock()
		return
	}
	listeners := make([]DiagnosticListener, len(globalEmitter.listeners))
	copy(listeners, globalEmitter.listeners)
	globalEmitter.mu.RUnlock()

	for _, listener := range listeners {
		func() {
			defer func() {
				if recovered := recover(); recovered != nil {
					_ = recovered
				}
			}()
			listener(event)
		}()
	}
}

// EmitModelUsage emits a model usage event.
func EmitModelUsage(e *ModelUsageEvent) {
	e.Type = EventTypeModelUsage
	e.Seq = nextSeq()
	e.Ts = time.Now().UnixMilli()
	emit(e)
}

// EmitTurnStarted emits a turn started event.
func EmitTurnStarted(e *TurnStartedEvent) {
	e.Type = EventTypeTurnStarted
	e.Seq = nextSeq()
	e.Ts = time.Now().UnixMilli()
	emit(e)
}

// EmitTurnCompleted emits a turn completed event.
func EmitTurnCompleted(e *TurnCompletedEvent) {
	e.Type = EventTypeTurnCompleted
	e.Seq = nextSeq()
	e.Ts = time.Now().UnixMilli()
	emit(e)
}

// EmitSandboxExecuted emits a sandbox execution event.
func EmitSandboxExecuted(e *SandboxExecutedEvent) {
	e.Type = EventTypeSandboxExecuted
	e.Seq = nextSeq()
	e.Ts = time.Now().UnixMilli()
	emit(e)
}

// EmitSessionState emits a session state event.
func EmitSessionState(e *SessionStateEvent) {
	e.Type = EventTypeSessionState
	e.Seq = nextSeq()
	e.Ts = time.Now().UnixMilli()
	emit(e)
}

// EmitSessionStuck emits a session stuck event.
func EmitSessionStuck(e *SessionStuckEvent) {
	e.Type = EventTypeSessionStuck
	e.Seq = nextSeq()
	e.Ts = time.Now().UnixMilli()
	emit(e)
}

// EmitBudgetHalt emits a budget halt event.
func EmitBudgetHalt(e *BudgetHaltEvent) {
	e.Type = EventTypeBudgetHalt
	e.Seq = nextSeq()
	e.Ts = time.Now().UnixMilli()
	emit(e)
}

// EmitRunAttempt emits a run attempt event.
func EmitRunAttempt(e *RunAttemptEvent) {
	e.Type = EventTypeRunAttempt
	e.Seq = nextSeq()
	e.Ts = time.Now().UnixMilli()
	emit(e)
}

// EmitDiagnosticHeartbeat emits a diagnostic heartbeat event.
func EmitDiagnosticHeartbeat(e *DiagnosticHeartbeatEvent) {
	e.Type = EventTypeDiagnosticHeartbeat
	e.Seq = nextSeq()
	e.Ts = time.Now().UnixMilli()
	emit(e)
}

// ResetDiagnosticsForTest resets diagnostic state for testing.
func ResetDiagnosticsForTest() {
	globalEmitter.mu.Lock()
	defer globalEmitter.mu.Unlock()
	atomic.StoreInt64(&globalEmitter.seq, 0)
	globalEmitter.listeners = nil
}
