package session

import (
	"context"
	"strings"
	"testing"

	"github.com/haasonsaas/rlm/internal/budget"
	"github.com/haasonsaas/rlm/internal/intercept"
	"github.com/haasonsaas/rlm/internal/llm"
	"github.com/haasonsaas/rlm/internal/sandbox"
)

func TestResolveCallsNavThenSubQueryByIdent(t *testing.T) {
	code := "outline := nav_outline()\nanswer := llm_query(\"summarize\", 128)"
	rewritten, calls, err := intercept.Rewrite(code, allToolNames)
	if err != nil {
		t.Fatalf("unexpected rewrite error: %v", err)
	}
	if rewritten == "" {
		t.Fatalf("expected a non-empty rewritten body")
	}

	root := llm.NewMockProvider()
	sub := llm.NewMockProvider(llm.Response{Text: "summary text"})
	gov := budget.NewGovernor(testBudgetConfig(), nil)
	s := newTestSession(t, root, sub, &echoBackend{}, gov)

	bindings, toolErrs, halt := s.resolveCalls(context.Background(), calls)
	if halt != nil {
		t.Fatalf("unexpected halt: %v", halt)
	}
	if len(toolErrs) != 0 {
		t.Fatalf("unexpected tool errors: %v", toolErrs)
	}
	if len(bindings) != 2 {
		t.Fatalf("expected 2 bindings, got %d", len(bindings))
	}

	var sawOutline, sawAnswer bool
	for _, c := range calls {
		switch c.Target {
		case "outline":
			sawOutline = true
			if !strings.Contains(bindings[c.Placeholder], "\"root\"") {
				t.Fatalf("expected outline binding to be JSON, got %q", bindings[c.Placeholder])
			}
		case "answer":
			sawAnswer = true
			if bindings[c.Placeholder] != "summary text" {
				t.Fatalf("expected llm_query binding to be the raw reply text, got %q", bindings[c.Placeholder])
			}
		}
	}
	if !sawOutline || !sawAnswer {
		t.Fatalf("expected both calls to resolve, calls=%+v", calls)
	}

	req := sub.Requests[0]
	if req.Messages[0].Content != "summarize" {
		t.Fatalf("expected sub prompt %q, got %q", "summarize", req.Messages[0].Content)
	}
	if req.MaxTokens != 128 {
		t.Fatalf("expected the int arg to set MaxTokens, got %d", req.MaxTokens)
	}
}

func TestResolveCallsSubQueryBudgetHalt(t *testing.T) {
	code := `answer := llm_query("anything")`
	_, calls, err := intercept.Rewrite(code, allToolNames)
	if err != nil {
		t.Fatalf("unexpected rewrite error: %v", err)
	}

	root := llm.NewMockProvider()
	sub := llm.NewMockProvider(llm.Response{Text: "unused"})
	cfg := testBudgetConfig()
	cfg.MaxSessionTokens = 1 // any ReserveSub's provisional debit now exceeds the ceiling
	gov := budget.NewGovernor(cfg, nil)
	s := newTestSession(t, root, sub, &echoBackend{}, gov)

	_, _, halt := s.resolveCalls(context.Background(), calls)
	if halt == nil {
		t.Fatalf("expected a budget halt")
	}
	if halt.Kind != budget.HaltTokens {
		t.Fatalf("expected a tokens halt, got %s", halt.Kind)
	}
}

func TestDispatchNavUnknownToolReturnsInternalError(t *testing.T) {
	bogus := []intercept.Call{{Placeholder: "__rlm_result_0", Target: "x", Tool: "nav_bogus"}}
	root := llm.NewMockProvider()
	sub := llm.NewMockProvider()
	gov := budget.NewGovernor(testBudgetConfig(), nil)
	s := newTestSession(t, root, sub, &echoBackend{}, gov)

	bindings, toolErrs, halt := s.resolveCalls(context.Background(), bogus)
	if halt != nil {
		t.Fatalf("unexpected halt: %v", halt)
	}
	if len(toolErrs) != 1 {
		t.Fatalf("expected one tool error, got %v", toolErrs)
	}
	if !strings.Contains(bindings["__rlm_result_0"], "internal_error") {
		t.Fatalf("expected internal_error placeholder, got %q", bindings["__rlm_result_0"])
	}
}

func TestExecuteCodePolicyViolationIsRecoverable(t *testing.T) {
	root := llm.NewMockProvider()
	sub := llm.NewMockProvider()
	gov := budget.NewGovernor(testBudgetConfig(), nil)
	s := newTestSession(t, root, sub, &denyingBackend{}, gov)

	obs, halt, fatal := s.executeCode(context.Background(), "x := nav_outline()")
	if halt != nil {
		t.Fatalf("unexpected halt: %v", halt)
	}
	if fatal {
		t.Fatalf("a policy violation should not be fatal to the session")
	}
	if obs.Kind != ObsCodeResult {
		t.Fatalf("expected a code_result observation carrying the violation, got %+v", obs)
	}
	if !strings.Contains(obs.Stderr, "policy_denied") {
		t.Fatalf("expected stderr to mention policy_denied, got %q", obs.Stderr)
	}
}

type denyingBackend struct{}

func (denyingBackend) Execute(ctx context.Context, req *sandbox.Request) (*sandbox.Result, error) {
	return nil, &sandbox.PolicyViolation{Detail: "module not allowed"}
}

func (denyingBackend) Close() error { return nil }
