package toolpolicy

import (
	"testing"
	"time"

	"github.com/chaorenex1/memex-cli-sub000/pkg/models"
)

func TestDenylistMatchWins(t *testing.T) {
	e := New(Config{
		Mode: ModeAuto,
		Deny: []models.PolicyRule{{Tool: "shell.exec", Action: "exec", Reason: "blocked"}},
	})

	d, ok := e.Evaluate(time.Now(), models.CanonicalEvent{ID: "r1", EventType: models.ToolRequest, Tool: "shell.exec", Action: "exec"})
	if !ok {
		t.Fatal("expected a decision")
	}
	if d.Decision != "deny" || d.RuleID != "denylist[0]" {
		t.Fatalf("unexpected decision: %+v", d)
	}
}

func TestAllowlistPrefixMatch(t *testing.T) {
	e := New(Config{
		Mode:  ModeAuto,
		Allow: []models.PolicyRule{{Tool: "fs.*"}},
	})

	d, ok := e.Evaluate(time.Now(), models.CanonicalEvent{ID: "r2", EventType: models.ToolRequest, Tool: "fs.read"})
	if !ok || d.Decision != "allow" {
		t.Fatalf("expected allow, got %+v ok=%v", d, ok)
	}
}

func TestOneDecisionPerID(t *testing.T) {
	e := New(Config{Mode: ModeAuto, DefaultDecision: "allow"})

	now := time.Now()
	first, ok1 := e.Evaluate(now, models.CanonicalEvent{ID: "r3", Tool: "x"})
	second, ok2 := e.Evaluate(now, models.CanonicalEvent{ID: "r3", Tool: "x"})
	if !ok1 || ok2 {
		t.Fatalf("expected exactly one decision for id r3: first=%v(%v) second=%v(%v)", first, ok1, second, ok2)
	}
}

func TestOffModeNeverDecides(t *testing.T) {
	e := New(Config{Mode: ModeOff})
	_, ok := e.Evaluate(time.Now(), models.CanonicalEvent{ID: "r4", Tool: "anything"})
	if ok {
		t.Fatal("expected no decision in off mode")
	}
}

func TestPendingDecisionTimeoutAbortsUnderFailClosed(t *testing.T) {
	e := New(Config{
		Mode:            ModeAuto,
		DefaultDecision: "pending",
		DecisionTimeout: 10 * time.Millisecond,
		FailMode:        FailClosed,
	})

	now := time.Now()
	_, ok := e.Evaluate(now, models.CanonicalEvent{ID: "r5", Tool: "y"})
	if ok {
		t.Fatalf("pending default should not resolve immediately")
	}

	outcome := e.Tick(now.Add(5 * time.Millisecond))
	if outcome.Abort {
		t.Fatalf("should not abort before deadline")
	}

	outcome = e.Tick(now.Add(20 * time.Millisecond))
	if !outcome.Abort || outcome.Reason != "decision timeout" {
		t.Fatalf("expected abort after deadline, got %+v", outcome)
	}
}

func TestPendingDecisionContinuesUnderFailOpen(t *testing.T) {
	e := New(Config{
		Mode:            ModeAuto,
		DefaultDecision: "pending",
		DecisionTimeout: 10 * time.Millisecond,
		FailMode:        FailOpen,
	})

	now := time.Now()
	e.Evaluate(now, models.CanonicalEvent{ID: "r6", Tool: "z"})

	outcome := e.Tick(now.Add(20 * time.Millisecond))
	if outcome.Abort {
		t.Fatalf("fail-open should not abort, got %+v", outcome)
	}
}
