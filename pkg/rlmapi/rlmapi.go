// Package rlmapi is the public entry point the surrounding agent / MCP
// layer calls into: it implements rlm_run (spec.md §6) by validating a
// Request, resolving its context against the configured corpus, and
// driving one internal/session.Session to completion. Everything below
// Runtime is an internal collaborator; nothing outside this package
// needs to know internal/session, internal/budget, or internal/corpus
// exist.
package rlmapi

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/haasonsaas/rlm/internal/budget"
	"github.com/haasonsaas/rlm/internal/config"
	"github.com/haasonsaas/rlm/internal/corpus"
	"github.com/haasonsaas/rlm/internal/llm"
	"github.com/haasonsaas/rlm/internal/navtools"
	"github.com/haasonsaas/rlm/internal/observability"
	"github.com/haasonsaas/rlm/internal/sandbox"
	"github.com/haasonsaas/rlm/internal/session"
)

// Request is the rlm_run argument set, matching spec.md §6 field for
// field. Exactly one of Context/Path must be set.
type Request struct {
	Task    string
	Context string
	Path    string
	Model   string // optional; gated by LLMConfig.AllowModelOverride
}

// Result is the rlm_run return value, matching spec.md §6's
// {answer?, turns, budget_snapshot, terminated_by}.
type Result struct {
	Answer         *string
	Turns          []session.Turn
	BudgetSnapshot budget.Snapshot
	TerminatedBy   session.TerminatedBy
	HaltKind       budget.HaltKind
	Detail         string
	SessionID      string
}

// Runtime is a long-lived handle built once from a validated Config: it
// owns the corpus and the sandbox backend for the lifetime of the
// process and drives any number of Run calls against them; model
// providers are resolved fresh per call since a request may override
// the configured model. This mirrors the teacher's pattern of building
// one gateway.Server from config and serving many requests through it,
// narrowed here to a library call instead of a listening socket.
type Runtime struct {
	cfg      config.Config
	source   *corpus.Source
	tools    *navtools.Tools
	sandbox  sandbox.Backend
	observer observabilityBundle

	providerFactory func(model string) (llm.Provider, error)

	disabled bool
}

// observabilityBundle is the optional logging/metrics/tracing/event
// collaborators a Runtime wires into a RuntimeObserver per session. Any
// field left nil degrades gracefully — observability.RuntimeObserver
// nil-checks each one individually.
type observabilityBundle struct {
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
	recorder *observability.EventRecorder
}

// Option configures a Runtime at construction.
type Option func(*Runtime)

// WithObserver wires logging, metrics, tracing, and the timeline event
// recorder into every session the Runtime drives. Any argument may be
// nil to omit that collaborator.
func WithObserver(logger *observability.Logger, metrics *observability.Metrics, tracer *observability.Tracer, recorder *observability.EventRecorder) Option {
	return func(r *Runtime) {
		r.observer = observabilityBundle{logger: logger, metrics: metrics, tracer: tracer, recorder: recorder}
	}
}

// WithProviderFactory overrides how a Runtime resolves an llm.Provider
// for a model ID, bypassing the built-in anthropic/openai/mock
// prefix-sniffing in buildProvider. Tests use this to inject a
// deterministic llm.MockProvider scripted with fixed responses;
// production callers can use it to wire a provider this package does
// not ship an adapter for.
func WithProviderFactory(factory func(model string) (llm.Provider, error)) Option {
	return func(r *Runtime) { r.providerFactory = factory }
}

// WithDisabled marks the runtime as administratively disabled: every
// Run call fails fast with error_code=disabled without touching the
// corpus, a provider, or the sandbox. This is the kill switch the
// surrounding agent/MCP layer flips when the RLM capability itself
// should be unavailable, distinct from any per-request policy denial.
func WithDisabled(disabled bool) Option {
	return func(r *Runtime) { r.disabled = disabled }
}

// New builds a Runtime from a validated Config. corpusRoot is the
// directory rlm_run's path argument resolves against; workerPath is the
// rlm-sandbox-worker binary the process backend spawns (ignored by the
// firecracker/daytona backends). Callers should run cfg through
// config.Validate before calling New; New does not re-validate it.
func New(cfg config.Config, corpusRoot string, workerPath string, opts ...Option) (*Runtime, error) {
	source, err := corpus.New(corpusRoot, cfg.Session.MaxFileBytes)
	if err != nil {
		return nil, fmt.Errorf("rlmapi: construct corpus: %w", err)
	}

	backend, err := buildSandboxBackend(cfg.Sandbox, workerPath)
	if err != nil {
		return nil, fmt.Errorf("rlmapi: construct sandbox backend: %w", err)
	}

	rt := &Runtime{
		cfg:     cfg,
		source:  source,
		tools:   navtools.New(source, int(cfg.Session.MaxNavResults), int(cfg.Session.MaxContextChars)),
		sandbox: backend,
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt, nil
}

// Run implements rlm_run. It returns a non-nil error only for a
// request-validation or policy failure that never reaches the session
// loop (disabled, invalid_args, policy_denied, path_denied,
// file_too_large); every other outcome — including budget exhaustion,
// sandbox errors, model errors, and internal errors raised while the
// session was running — is reported through Result.TerminatedBy, per
// spec.md §7's recoverable/terminal propagation policy.
func (r *Runtime) Run(ctx context.Context, req Request) (*Result, error) {
	if r.disabled {
		return nil, newRLMError(ErrCodeDisabled, false, "rlm_run is administratively disabled", nil)
	}
	if err := r.validateRequest(req); err != nil {
		return nil, err
	}

	contextText, rErr := r.resolveContext(req)
	if rErr != nil {
		return nil, rErr
	}

	rootModel := r.cfg.LLM.RootModel
	if req.Model != "" {
		if !r.cfg.LLM.AllowModelOverride {
			return nil, policyDenied("model override is not permitted by configuration")
		}
		if !modelAllowed(req.Model, r.cfg.LLM.AllowedModelPrefixes) {
			return nil, policyDenied("model %q is not in the allowed model prefix list", req.Model)
		}
		rootModel = req.Model
	}

	resolveProvider := buildProvider
	if r.providerFactory != nil {
		resolveProvider = func(_ config.LLMConfig, model string) (llm.Provider, error) {
			return r.providerFactory(model)
		}
	}

	rootProvider, err := resolveProvider(r.cfg.LLM, rootModel)
	if err != nil {
		return nil, newInternalError("build root provider", err)
	}
	subModel := r.cfg.LLM.SubModel
	if subModel == "" {
		subModel = rootModel
	}
	subProvider, err := resolveProvider(r.cfg.LLM, subModel)
	if err != nil {
		return nil, newInternalError("build sub provider", err)
	}

	sessionID := uuid.NewString()
	governor := budget.NewGovernor(budgetConfigFrom(r.cfg.Budget), func(format string, args ...any) {
		if r.observer.logger != nil {
			r.observer.logger.Warn(ctx, fmt.Sprintf(format, args...))
		}
	})
	observer := observability.NewRuntimeObserver(ctx, sessionID, r.observer.logger, r.observer.metrics, r.observer.tracer, r.observer.recorder)

	sessCfg := session.Config{
		Task:        req.Task,
		ContextText: contextText,

		Source: r.source,
		Tools:  r.tools,

		RootProvider:    rootProvider,
		SubProvider:     subProvider,
		RootModel:       rootModel,
		SubModel:        subModel,
		Temperature:     r.cfg.LLM.TemperatureRoot,
		MaxOutputTokens: int(r.cfg.LLM.MaxOutputTokens),

		SandboxBackend:          r.sandbox,
		AllowedModules:          r.cfg.Sandbox.AllowedModules,
		BlockedNames:            r.cfg.Sandbox.BlockedNames,
		SecurityMode:            sandbox.SecurityMode(r.cfg.Sandbox.SecurityMode),
		ExecutionTimeoutSeconds: int(r.cfg.Sandbox.ExecutionTimeoutSeconds),
		MaxMemoryBytes:          r.cfg.Sandbox.MaxMemoryBytes,
		MaxOutputChars:          int(r.cfg.Sandbox.MaxOutputChars),

		ToolNames: toolNameSet(r.cfg.Tools.Enabled),

		MaxTurns:        r.cfg.Session.MaxTurns,
		MaxContextChars: r.cfg.Session.MaxContextChars,
		PreviewChars:    r.cfg.Trace.PreviewChars,

		Budget:   governor,
		Observer: observer,
	}

	sess := session.New(sessCfg)
	sessResult, err := sess.Run(ctx)
	if err != nil {
		return nil, newInternalError("session run", err)
	}

	return &Result{
		Answer:         sessResult.Answer,
		Turns:          sessResult.Turns,
		BudgetSnapshot: sessResult.BudgetSnapshot,
		TerminatedBy:   sessResult.TerminatedBy,
		HaltKind:       sessResult.HaltKind,
		Detail:         sessResult.Detail,
		SessionID:      sessionID,
	}, nil
}

// Close releases the sandbox backend's resources. Safe to call once the
// Runtime is no longer needed.
func (r *Runtime) Close() error {
	return r.sandbox.Close()
}

// AsError classifies a non-done termination into the same RLMError
// envelope a request-validation failure uses, for callers that want one
// uniform error representation regardless of whether the session never
// started or ran to a non-answer termination. Returns nil when the
// session produced an answer.
func (res *Result) AsError() *RLMError {
	switch res.TerminatedBy {
	case session.TerminatedDone:
		return nil
	case session.TerminatedBudgetExhausted:
		return newRLMError(ErrCodeBudgetExhausted, false, fmt.Sprintf("budget exhausted: %s", res.HaltKind), nil)
	case session.TerminatedTimeout:
		return newRLMError(ErrCodeTimeout, false, "session timed out", nil)
	case session.TerminatedMaxTurns:
		return newRLMError(ErrCodeBudgetExhausted, false, "max_turns reached without a final answer", nil)
	case session.TerminatedCancelled:
		return newRLMError(ErrCodeTimeout, false, "session was cancelled: "+res.Detail, nil)
	case session.TerminatedInternalError:
		switch {
		case strings.HasPrefix(res.Detail, "model_error:"):
			return modelError(strings.TrimPrefix(res.Detail, "model_error: "), false, nil)
		case strings.HasPrefix(res.Detail, "sandbox_error:"), strings.HasPrefix(res.Detail, "protocol_error:"):
			return sandboxError(res.Detail, nil)
		default:
			return newInternalError(res.Detail, nil)
		}
	default:
		return newInternalError("unrecognized termination reason: "+string(res.TerminatedBy), nil)
	}
}

func (r *Runtime) validateRequest(req Request) *RLMError {
	if strings.TrimSpace(req.Task) == "" {
		return invalidArgs("task must be a non-empty string")
	}
	hasContext := req.Context != ""
	hasPath := req.Path != ""
	if hasContext == hasPath {
		return invalidArgs("exactly one of context or path must be provided")
	}
	return nil
}

func (r *Runtime) resolveContext(req Request) (string, *RLMError) {
	if req.Context != "" {
		return req.Context, nil
	}

	data, err := r.source.ReadBounded(req.Path)
	if err != nil {
		switch e := err.(type) {
		case *corpus.PathDeniedError:
			return "", pathDenied(e.Detail, e)
		case *corpus.FileTooLargeError:
			return "", fileTooLarge(fmt.Sprintf("%s (%d bytes > %d byte limit)", e.Path, e.SizeHint, e.Limit), e)
		default:
			return "", newInternalError("read path", err)
		}
	}
	return string(data), nil
}

func modelAllowed(model string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

func toolNameSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

func budgetConfigFrom(b config.BudgetConfig) budget.Config {
	pricing := make(map[string]budget.Pricing, len(b.Pricing))
	for model, p := range b.Pricing {
		pricing[model] = budget.Pricing{PriceInPerToken: p.PriceIn, PriceOutPerToken: p.PriceOut}
	}
	var defaultPricing *budget.Pricing
	if b.DefaultPricing != nil {
		defaultPricing = &budget.Pricing{PriceInPerToken: b.DefaultPricing.PriceIn, PriceOutPerToken: b.DefaultPricing.PriceOut}
	}
	return budget.Config{
		MaxSessionTokens:      b.MaxSessionTokens,
		MaxSessionUSD:         b.MaxSessionUSD,
		MaxRootCalls:          b.MaxRootCalls,
		MaxSubCalls:           b.MaxSubCalls,
		SessionTimeoutSeconds: b.SessionTimeoutSeconds,
		CharsPerToken:         b.CharsPerToken,
		Pricing:               pricing,
		DefaultPricing:        defaultPricing,
	}
}
