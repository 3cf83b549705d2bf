package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/rlm/internal/budget"
	"github.com/haasonsaas/rlm/internal/corpus"
	"github.com/haasonsaas/rlm/internal/llm"
	"github.com/haasonsaas/rlm/internal/navtools"
	"github.com/haasonsaas/rlm/internal/sandbox"
)

var allToolNames = map[string]bool{
	"nav_outline": true,
	"nav_ls":      true,
	"nav_read":    true,
	"nav_search":  true,
	"nav_info":    true,
	"llm_query":   true,
}

func testBudgetConfig() budget.Config {
	return budget.Config{
		MaxSessionTokens:      1_000_000,
		MaxSessionUSD:         1000,
		MaxRootCalls:          1000,
		MaxSubCalls:           1000,
		SessionTimeoutSeconds: 3600,
		CharsPerToken:         4,
		Pricing: map[string]budget.Pricing{
			"mock-root": {},
			"mock-sub":  {},
		},
	}
}

func testCorpus(t *testing.T) *corpus.Source {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "pkg"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "pkg", "alpha.go"), []byte("package pkg\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "pkg", "beta.go"), []byte("package pkg\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	src, err := corpus.New(dir, 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	return src
}

// echoBackend is a fake sandbox.Backend that never actually runs Go:
// it "executes" a snippet by rendering every injected binding's value
// into stdout, standing in for a real sandbox printing them via
// fmt.Println. Per-call overrides let a test force a timeout or
// protocol error on a specific call.
type echoBackend struct {
	overrides map[int]*sandbox.Result
	calls     int
	lastReq   *sandbox.Request
}

func (b *echoBackend) Execute(ctx context.Context, req *sandbox.Request) (*sandbox.Result, error) {
	b.lastReq = req
	idx := b.calls
	b.calls++
	if r, ok := b.overrides[idx]; ok {
		return r, nil
	}
	var parts []string
	for _, v := range req.InjectedBindings {
		parts = append(parts, v)
	}
	return &sandbox.Result{Stdout: strings.Join(parts, "\n")}, nil
}

func (b *echoBackend) Close() error { return nil }

func newTestSession(t *testing.T, root, sub *llm.MockProvider, backend sandbox.Backend, gov *budget.Governor) *Session {
	t.Helper()
	src := testCorpus(t)
	cfg := Config{
		Task:                    "describe the repository",
		RootProvider:            root,
		SubProvider:             sub,
		RootModel:               "mock-root",
		SubModel:                "mock-sub",
		MaxOutputTokens:         512,
		Source:                  src,
		Tools:                   navtools.New(src, 20, 4000),
		SandboxBackend:          backend,
		SecurityMode:            sandbox.SecurityStrict,
		AllowedModules:          []string{"fmt"},
		ExecutionTimeoutSeconds: 5,
		MaxMemoryBytes:          1 << 20,
		MaxOutputChars:          4000,
		ToolNames:               allToolNames,
		MaxTurns:                10,
		MaxContextChars:         4000,
		PreviewChars:            200,
		Budget:                  gov,
	}
	return New(cfg)
}

func TestRunFinalAnswerFirstTurn(t *testing.T) {
	root := llm.NewMockProvider(llm.Response{Text: `FINAL("42")`})
	sub := llm.NewMockProvider()
	gov := budget.NewGovernor(testBudgetConfig(), nil)
	backend := &echoBackend{}

	s := newTestSession(t, root, sub, backend, gov)
	result, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TerminatedBy != TerminatedDone {
		t.Fatalf("expected done, got %s", result.TerminatedBy)
	}
	if result.Answer == nil || *result.Answer != "42" {
		t.Fatalf("expected answer 42, got %+v", result.Answer)
	}
	if len(result.Turns) != 1 {
		t.Fatalf("expected exactly one turn, got %d", len(result.Turns))
	}
}

func TestRunTwoTurnNavThenFinal(t *testing.T) {
	navCode := "```go\nresult := nav_ls(\".\")\n```"
	root := llm.NewMockProvider(
		llm.Response{Text: navCode},
		llm.Response{Text: `FINAL("done")`},
	)
	sub := llm.NewMockProvider()
	gov := budget.NewGovernor(testBudgetConfig(), nil)
	backend := &echoBackend{}

	s := newTestSession(t, root, sub, backend, gov)
	result, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TerminatedBy != TerminatedDone {
		t.Fatalf("expected done, got %s", result.TerminatedBy)
	}
	if len(result.Turns) != 2 {
		t.Fatalf("expected two turns, got %d", len(result.Turns))
	}
	stdout := result.Turns[0].Observation.Stdout
	for _, name := range []string{"alpha.go", "beta.go"} {
		if !strings.Contains(stdout, name) {
			t.Fatalf("expected stdout to contain %q, got %q", name, stdout)
		}
	}
}

func TestRunBudgetExhaustionRootCalls(t *testing.T) {
	trivialCode := "```go\nresult := nav_outline()\n```"
	root := llm.NewMockProvider(
		llm.Response{Text: trivialCode},
		llm.Response{Text: trivialCode},
		llm.Response{Text: trivialCode},
	)
	sub := llm.NewMockProvider()
	cfg := testBudgetConfig()
	cfg.MaxRootCalls = 2
	gov := budget.NewGovernor(cfg, nil)
	backend := &echoBackend{}

	s := newTestSession(t, root, sub, backend, gov)
	result, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TerminatedBy != TerminatedBudgetExhausted {
		t.Fatalf("expected budget_exhausted, got %s", result.TerminatedBy)
	}
	if result.HaltKind != budget.HaltRootCalls {
		t.Fatalf("expected root_calls halt, got %s", result.HaltKind)
	}
	if len(result.Turns) != 2 {
		t.Fatalf("expected exactly 2 turns before halt, got %d", len(result.Turns))
	}
	if result.BudgetSnapshot.CallsRoot != 2 {
		t.Fatalf("expected exactly 2 committed root calls, got %d", result.BudgetSnapshot.CallsRoot)
	}
}

func TestRunSandboxTimeoutContinuesSession(t *testing.T) {
	trivialCode := "```go\nresult := nav_outline()\n```"
	root := llm.NewMockProvider(
		llm.Response{Text: trivialCode},
		llm.Response{Text: `FINAL("recovered")`},
	)
	sub := llm.NewMockProvider()
	gov := budget.NewGovernor(testBudgetConfig(), nil)
	backend := &echoBackend{overrides: map[int]*sandbox.Result{
		0: {Timeout: true, Stdout: "partial"},
	}}

	s := newTestSession(t, root, sub, backend, gov)
	result, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Turns) != 2 {
		t.Fatalf("expected two turns, got %d", len(result.Turns))
	}
	if result.Turns[0].Observation.Kind != ObsTimeout || !result.Turns[0].Observation.TimedOut {
		t.Fatalf("expected first turn to be a timeout observation, got %+v", result.Turns[0].Observation)
	}
	if result.TerminatedBy != TerminatedDone {
		t.Fatalf("expected the session to recover and finish done, got %s", result.TerminatedBy)
	}
}

func TestRunMaxTurnsExhausted(t *testing.T) {
	trivialCode := "```go\nresult := nav_outline()\n```"
	root := llm.NewMockProvider(
		llm.Response{Text: trivialCode},
		llm.Response{Text: trivialCode},
	)
	sub := llm.NewMockProvider()
	gov := budget.NewGovernor(testBudgetConfig(), nil)
	backend := &echoBackend{}

	s := newTestSession(t, root, sub, backend, gov)
	s.cfg.MaxTurns = 2
	result, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TerminatedBy != TerminatedMaxTurns {
		t.Fatalf("expected max_turns, got %s", result.TerminatedBy)
	}
	if len(result.Turns) != 2 {
		t.Fatalf("expected exactly 2 turns, got %d", len(result.Turns))
	}
}

func TestRunParseErrorRecoversThenFinal(t *testing.T) {
	root := llm.NewMockProvider(
		llm.Response{Text: "not a recognizable reply at all"},
		llm.Response{Text: `FINAL("ok")`},
	)
	sub := llm.NewMockProvider()
	gov := budget.NewGovernor(testBudgetConfig(), nil)
	backend := &echoBackend{}

	s := newTestSession(t, root, sub, backend, gov)
	result, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Turns) != 2 {
		t.Fatalf("expected two turns, got %d", len(result.Turns))
	}
	if result.Turns[0].Observation.Kind != ObsParseError {
		t.Fatalf("expected first turn to be a parse_error observation, got %+v", result.Turns[0].Observation)
	}
	if result.TerminatedBy != TerminatedDone {
		t.Fatalf("expected eventual done, got %s", result.TerminatedBy)
	}
}

func TestRunCancelledContextStopsImmediately(t *testing.T) {
	root := llm.NewMockProvider(llm.Response{Text: `FINAL("unused")`})
	sub := llm.NewMockProvider()
	gov := budget.NewGovernor(testBudgetConfig(), nil)
	backend := &echoBackend{}

	s := newTestSession(t, root, sub, backend, gov)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := s.Run(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.TerminatedBy != TerminatedCancelled {
		t.Fatalf("expected cancelled, got %s", result.TerminatedBy)
	}
	if len(result.Turns) != 0 {
		t.Fatalf("expected no turns to have run, got %d", len(result.Turns))
	}
}
