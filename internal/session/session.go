// Package session drives the turn-based root-model loop: build a
// prompt, call the root model, parse its reply as either a final
// answer or a code snippet, dispatch any tool calls the snippet made,
// run it in the sandbox, and feed the outcome back as the next turn's
// observation. One Session drives exactly one task from Initializing
// to Done or Failed; there is no persisted state between sessions.
package session

import (
	"context"
	"time"

	"github.com/haasonsaas/rlm/internal/budget"
	"github.com/haasonsaas/rlm/internal/corpus"
	"github.com/haasonsaas/rlm/internal/intercept"
	"github.com/haasonsaas/rlm/internal/llm"
	"github.com/haasonsaas/rlm/internal/navtools"
	"github.com/haasonsaas/rlm/internal/sandbox"
)

// ObservationKind tags which variant of Observation is populated.
type ObservationKind string

const (
	ObsFinal         ObservationKind = "final"
	ObsCodeResult    ObservationKind = "code_result"
	ObsParseError    ObservationKind = "parse_error"
	ObsTimeout       ObservationKind = "timeout"
	ObsInternalError ObservationKind = "internal_error"
)

// Observation is what a turn produced. Exactly one group of fields is
// meaningful, selected by Kind — the same "one struct, several
// optional groups" shape the provider layer uses for its own
// response-chunk type, rather than a sum type expressed through an
// interface.
type Observation struct {
	Kind ObservationKind

	// ObsFinal
	Answer string

	// ObsCodeResult / ObsTimeout
	Stdout         string
	Stderr         string
	CapturedValues map[string]string // identifiers the snippet bound via tool calls, serialized back after execution
	Errors         []string          // tool-call errors surfaced during dispatch, tagged by tool name
	Truncated      bool
	TimedOut       bool

	// ObsParseError / ObsInternalError
	Detail string
}

// Turn is one (prompt, model_output, observation) triple. Immutable
// once appended; a Session's Turns slice only ever grows.
type Turn struct {
	Prompt      string
	ModelOutput string
	Observation Observation
}

// TerminatedBy names why a session stopped looping.
type TerminatedBy string

const (
	TerminatedDone            TerminatedBy = "done"
	TerminatedBudgetExhausted TerminatedBy = "budget_exhausted"
	TerminatedMaxTurns        TerminatedBy = "max_turns"
	TerminatedTimeout         TerminatedBy = "timeout"
	TerminatedCancelled       TerminatedBy = "cancelled"
	TerminatedInternalError   TerminatedBy = "internal_error"
)

// Result is the outcome of a completed session.
type Result struct {
	Answer         *string
	Turns          []Turn
	BudgetSnapshot budget.Snapshot
	TerminatedBy   TerminatedBy
	HaltKind       budget.HaltKind // set only when TerminatedBy == budget_exhausted
	Detail         string          // human-readable detail for non-done terminations
}

// Observer receives session-loop lifecycle events for logging, metrics,
// and tracing. A nil Observer is replaced with a no-op at construction.
type Observer interface {
	TurnStart(turn int64)
	TurnEnd(turn int64, kind ObservationKind, duration time.Duration)
	BudgetHalt(kind budget.HaltKind)
}

type noopObserver struct{}

func (noopObserver) TurnStart(int64)                               {}
func (noopObserver) TurnEnd(int64, ObservationKind, time.Duration) {}
func (noopObserver) BudgetHalt(budget.HaltKind)                    {}

// Config assembles everything one session run needs. The caller
// (pkg/rlmapi) is responsible for external-interface concerns — path
// resolution, model-override policy, request validation — before
// building a Config; Session itself only drives the loop.
type Config struct {
	Task        string
	ContextText string // already resolved plain text; may exceed MaxContextChars, which Session enforces

	Source *corpus.Source
	Tools  *navtools.Tools

	RootProvider    llm.Provider
	SubProvider     llm.Provider
	RootModel       string
	SubModel        string
	Temperature     float64
	MaxOutputTokens int

	SandboxBackend          sandbox.Backend
	AllowedModules          []string
	BlockedNames            []string
	SecurityMode            sandbox.SecurityMode
	ExecutionTimeoutSeconds int
	MaxMemoryBytes          int64
	MaxOutputChars          int

	ToolNames map[string]bool

	MaxTurns        int64
	MaxContextChars int64
	PreviewChars    int64

	Budget   *budget.Governor
	Observer Observer
}

// Session drives one task from Initializing to Done/Failed.
type Session struct {
	cfg Config
}

// New constructs a Session. It does not validate cfg — the caller is
// expected to have run it through config.Validate already.
func New(cfg Config) *Session {
	if cfg.Observer == nil {
		cfg.Observer = noopObserver{}
	}
	return &Session{cfg: cfg}
}

// Run drives the Initializing → AwaitingModel → ParsingReply →
// ExecutingCode → AwaitingModel cycle until a Final answer, a budget
// halt, max_turns, a timeout, cancellation, or an internal error ends
// it. It returns an error only for a programming-invariant violation
// that prevents even constructing a Result; every other outcome is
// reported through the returned Result's TerminatedBy.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	contextText := clampRunes(s.cfg.ContextText, s.cfg.MaxContextChars)

	var turns []Turn
	var turn int64

	for {
		if ctx.Err() != nil {
			return s.finish(turns, TerminatedCancelled, "", "", ctx.Err().Error()), nil
		}
		if halt := s.cfg.Budget.CheckUSD(); halt != nil {
			s.cfg.Observer.BudgetHalt(halt.Kind)
			return s.finish(turns, TerminatedBudgetExhausted, "", halt.Kind, ""), nil
		}
		if s.cfg.MaxTurns > 0 && turn >= s.cfg.MaxTurns {
			return s.finish(turns, TerminatedMaxTurns, "", "", ""), nil
		}

		started := time.Now()
		s.cfg.Observer.TurnStart(turn)

		prompt := renderPrompt(s.cfg.Task, contextText, s.toolCatalog(), turns, s.cfg.PreviewChars)

		modelOutput, halt, err := s.callRootModel(ctx, prompt)
		if halt != nil {
			s.cfg.Observer.BudgetHalt(halt.Kind)
			return s.finish(turns, TerminatedBudgetExhausted, "", halt.Kind, ""), nil
		}
		if err != nil {
			return s.finish(turns, TerminatedInternalError, "", "", "model_error: "+err.Error()), nil
		}

		reply, parseErr := parseReply(modelOutput)
		if parseErr != nil {
			obs := Observation{Kind: ObsParseError, Detail: parseErr.Error()}
			turns = append(turns, Turn{Prompt: prompt, ModelOutput: modelOutput, Observation: obs})
			s.cfg.Observer.TurnEnd(turn, obs.Kind, time.Since(started))
			turn++
			continue
		}

		if reply.Final != nil {
			obs := Observation{Kind: ObsFinal, Answer: *reply.Final}
			turns = append(turns, Turn{Prompt: prompt, ModelOutput: modelOutput, Observation: obs})
			s.cfg.Observer.TurnEnd(turn, obs.Kind, time.Since(started))
			answer := *reply.Final
			return &Result{
				Answer:         &answer,
				Turns:          turns,
				BudgetSnapshot: s.cfg.Budget.Snapshot(),
				TerminatedBy:   TerminatedDone,
			}, nil
		}

		obs, halt, fatal := s.executeCode(ctx, reply.Code)
		if halt != nil {
			s.cfg.Observer.BudgetHalt(halt.Kind)
			return s.finish(turns, TerminatedBudgetExhausted, "", halt.Kind, ""), nil
		}
		turns = append(turns, Turn{Prompt: prompt, ModelOutput: modelOutput, Observation: obs})
		s.cfg.Observer.TurnEnd(turn, obs.Kind, time.Since(started))
		if fatal {
			return s.finish(turns, TerminatedInternalError, "", "", obs.Detail), nil
		}
		turn++
	}
}

func (s *Session) finish(turns []Turn, by TerminatedBy, answer string, haltKind budget.HaltKind, detail string) *Result {
	r := &Result{
		Turns:          turns,
		BudgetSnapshot: s.cfg.Budget.Snapshot(),
		TerminatedBy:   by,
		HaltKind:       haltKind,
		Detail:         detail,
	}
	if answer != "" {
		r.Answer = &answer
	}
	return r
}

func (s *Session) toolCatalog() []string {
	names := make([]string, 0, len(s.cfg.ToolNames))
	for n := range s.cfg.ToolNames {
		names = append(names, n)
	}
	return names
}

func (s *Session) callRootModel(ctx context.Context, prompt string) (string, *budget.Halt, error) {
	estimate := s.cfg.Budget.Config().EstimateInputTokens(prompt)
	reservation, halt := s.cfg.Budget.ReserveRoot(estimate)
	if halt != nil {
		return "", halt, nil
	}

	req := &llm.Request{
		Model:       s.cfg.RootModel,
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		MaxTokens:   s.cfg.MaxOutputTokens,
		Temperature: s.cfg.Temperature,
	}
	resp, err := s.cfg.RootProvider.Complete(ctx, req)
	if err != nil {
		s.cfg.Budget.Release(reservation)
		return "", nil, err
	}
	s.cfg.Budget.Commit(reservation, resp.InputTokens, resp.OutputTokens, s.cfg.RootModel)
	return resp.Text, nil, nil
}

// executeCode rewrites, dispatches, and runs one code snippet. The
// returned Observation is always the one to append as this turn's
// outcome, except when halt is non-nil (a sub-call budget halt
// terminates the session before the snippet ever reaches the sandbox)
// or fatal is true (an internal_error that also terminates the
// session once this turn has been recorded).
func (s *Session) executeCode(ctx context.Context, code string) (obs Observation, halt *budget.Halt, fatal bool) {
	rewritten, calls, err := intercept.Rewrite(code, s.cfg.ToolNames)
	if err != nil {
		return Observation{Kind: ObsParseError, Detail: err.Error()}, nil, false
	}

	bindings, toolErrs, subHalt := s.resolveCalls(ctx, calls)
	if subHalt != nil {
		return Observation{}, subHalt, false
	}

	req := &sandbox.Request{
		Source:           rewritten,
		InjectedBindings: bindings,
		CaptureNames:     captureNames(calls),
		AllowedModules:   s.cfg.AllowedModules,
		BlockedNames:     s.cfg.BlockedNames,
		SecurityMode:     s.cfg.SecurityMode,
		TimeoutSeconds:   s.cfg.ExecutionTimeoutSeconds,
		MaxMemoryBytes:   s.cfg.MaxMemoryBytes,
		MaxOutputChars:   s.cfg.MaxOutputChars,
	}

	result, err := s.cfg.SandboxBackend.Execute(ctx, req)
	if err != nil {
		if pv, ok := err.(*sandbox.PolicyViolation); ok {
			return Observation{Kind: ObsCodeResult, Stderr: pv.Error(), Errors: toolErrs}, nil, false
		}
		return Observation{Kind: ObsInternalError, Detail: "sandbox_error: " + err.Error()}, nil, true
	}

	if result.ProtocolError != "" {
		return Observation{Kind: ObsInternalError, Detail: "protocol_error: " + result.ProtocolError}, nil, true
	}

	if result.Timeout {
		return Observation{
			Kind:           ObsTimeout,
			Stdout:         result.Stdout,
			Stderr:         result.Stderr,
			CapturedValues: result.CapturedValues,
			Errors:         toolErrs,
			Truncated:      result.Truncated,
			TimedOut:       true,
		}, nil, false
	}

	errs := toolErrs
	if result.MemoryExceeded {
		errs = append(errs, "sandbox: memory_exceeded")
	}

	return Observation{
		Kind:           ObsCodeResult,
		Stdout:         result.Stdout,
		Stderr:         result.Stderr,
		CapturedValues: result.CapturedValues,
		Errors:         errs,
		Truncated:      result.Truncated,
	}, nil, false
}

// captureNames collects the distinct identifiers a rewritten snippet
// bound via intercepted tool calls, so the sandbox can serialize their
// values back after the snippet finishes running. Deduplicated and
// order-independent: the sandbox sorts them again before rendering.
func captureNames(calls []intercept.Call) []string {
	seen := make(map[string]bool, len(calls))
	names := make([]string, 0, len(calls))
	for _, c := range calls {
		if c.Target == "" || seen[c.Target] {
			continue
		}
		seen[c.Target] = true
		names = append(names, c.Target)
	}
	return names
}

func clampRunes(s string, max int64) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if int64(len(runes)) <= max {
		return s
	}
	return string(runes[:max])
}
