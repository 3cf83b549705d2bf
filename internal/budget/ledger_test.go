package budget

import (
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		MaxSessionTokens:      1_000_000,
		MaxSessionUSD:         1.0,
		MaxRootCalls:          5,
		MaxSubCalls:           5,
		SessionTimeoutSeconds: 60,
		CharsPerToken:         4,
		Pricing: map[string]Pricing{
			"mock-model": {PriceInPerToken: 0.000001, PriceOutPerToken: 0.000002},
		},
	}
}

func TestEstimateInputTokensDeterministic(t *testing.T) {
	cfg := testConfig()
	a := cfg.EstimateInputTokens("hello world, this is some text")
	b := cfg.EstimateInputTokens("hello world, this is some text")
	if a != b {
		t.Fatalf("estimator not deterministic: %d != %d", a, b)
	}
	if a <= 0 {
		t.Fatalf("expected positive estimate, got %d", a)
	}
}

func TestReserveCommitMonotonic(t *testing.T) {
	g := NewGovernor(testConfig(), nil)

	r, halt := g.ReserveRoot(100)
	if halt != nil {
		t.Fatalf("unexpected halt: %v", halt)
	}
	before := g.Snapshot()

	g.Commit(r, 80, 20, "mock-model")
	after := g.Snapshot()

	if after.Tokens < before.Tokens {
		t.Fatalf("tokens decreased after commit: %d -> %d", before.Tokens, after.Tokens)
	}
	if after.Dollars < before.Dollars {
		t.Fatalf("dollars decreased after commit")
	}
	if after.CallsRoot != before.CallsRoot+1 {
		t.Fatalf("expected callsRoot to increment")
	}
}

func TestReleaseReturnsProvisionalDebit(t *testing.T) {
	g := NewGovernor(testConfig(), nil)
	before := g.Snapshot()
	r, halt := g.ReserveRoot(500)
	if halt != nil {
		t.Fatalf("unexpected halt: %v", halt)
	}
	g.Release(r)
	after := g.Snapshot()
	if after.Tokens != before.Tokens {
		t.Fatalf("expected tokens restored after release, got %d want %d", after.Tokens, before.Tokens)
	}
}

func TestRootCallBudgetExhaustion(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRootCalls = 2
	g := NewGovernor(cfg, nil)

	for i := 0; i < 2; i++ {
		r, halt := g.ReserveRoot(10)
		if halt != nil {
			t.Fatalf("unexpected halt on call %d: %v", i, halt)
		}
		g.Commit(r, 5, 5, "mock-model")
	}

	_, halt := g.ReserveRoot(10)
	if halt == nil || halt.Kind != HaltRootCalls {
		t.Fatalf("expected HaltRootCalls, got %v", halt)
	}
}

func TestTimeoutHalt(t *testing.T) {
	cfg := testConfig()
	cfg.SessionTimeoutSeconds = 0
	cfg.Unbounded = map[HaltKind]bool{}
	g := NewGovernor(cfg, nil)
	g.start = time.Now().Add(-1 * time.Hour)
	cfg.SessionTimeoutSeconds = 1
	g.cfg = cfg

	_, halt := g.ReserveRoot(10)
	if halt == nil || halt.Kind != HaltTimeout {
		t.Fatalf("expected HaltTimeout, got %v", halt)
	}
}

func TestCommitUnknownModelFallsBackToZeroCostWithWarning(t *testing.T) {
	var warned bool
	g := NewGovernor(testConfig(), func(string, ...any) { warned = true })
	r, _ := g.ReserveRoot(10)
	g.Commit(r, 10, 10, "unknown-model")
	if !warned {
		t.Fatalf("expected warning callback for unpriced model")
	}
	if g.Snapshot().Dollars != 0 {
		t.Fatalf("expected zero cost for unpriced model")
	}
}
