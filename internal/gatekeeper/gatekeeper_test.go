package gatekeeper

import (
	"testing"
	"time"

	"github.com/chaorenex1/memex-cli-sub000/pkg/models"
)

func match(qaID string, level int, trust, score float32, status string) models.SearchMatch {
	return models.SearchMatch{QAID: qaID, Status: status, Trust: trust, Score: score, ValidationLevel: level}
}

func TestStrongMatchInjectedAndCandidateSuppressed(t *testing.T) {
	now := time.Now()
	matches := []models.SearchMatch{
		match("qa-1", 2, 0.8, 0.9, "active"),
	}
	run := models.RunOutcome{
		RunnerResult: models.RunnerResult{ExitCode: 0, StdoutTail: "all tests passed"},
		UsedQAIDs:    []string{"qa-1"},
	}

	d := Evaluate(DefaultConfig(), now, matches, run, nil)
	if len(d.InjectList) != 1 || d.InjectList[0].QAID != "qa-1" {
		t.Fatalf("expected qa-1 injected, got %+v", d.InjectList)
	}
	if d.ShouldWriteCandidate {
		t.Fatalf("candidate should be suppressed when a strong match exists")
	}
}

func TestWeakMatchesUseFallbackInject(t *testing.T) {
	now := time.Now()
	matches := []models.SearchMatch{
		match("qa-2", 1, 0.5, 0.4, "active"),
	}
	run := models.RunOutcome{RunnerResult: models.RunnerResult{ExitCode: 0}}

	d := Evaluate(DefaultConfig(), now, matches, run, nil)
	if len(d.InjectList) != 1 || d.InjectList[0].QAID != "qa-2" {
		t.Fatalf("expected fallback inject of qa-2, got %+v", d.InjectList)
	}
	if !d.ShouldWriteCandidate {
		t.Fatalf("candidate should still be written absent a strong match")
	}
}

func TestStaleAndInactiveMatchesExcluded(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour).Format(time.RFC3339)
	matches := []models.SearchMatch{
		{QAID: "stale", Status: "active", ValidationLevel: 2, Trust: 0.9, Score: 0.9, ExpiryAt: &past},
		{QAID: "archived", Status: "archived", ValidationLevel: 2, Trust: 0.9, Score: 0.9},
	}
	run := models.RunOutcome{RunnerResult: models.RunnerResult{ExitCode: 0}}

	d := Evaluate(DefaultConfig(), now, matches, run, nil)
	if len(d.InjectList) != 0 {
		t.Fatalf("expected no injected items, got %+v", d.InjectList)
	}
}

func TestConsecutiveFailBlocksMatch(t *testing.T) {
	now := time.Now()
	m := match("qa-3", 2, 0.9, 0.9, "active")
	m.Metadata = []byte(`{"consecutive_fail": 3}`)
	run := models.RunOutcome{RunnerResult: models.RunnerResult{ExitCode: 0}}

	d := Evaluate(DefaultConfig(), now, []models.SearchMatch{m}, run, nil)
	if len(d.InjectList) != 0 {
		t.Fatalf("expected qa-3 blocked by consecutive fail floor, got %+v", d.InjectList)
	}
}

func TestHitRefsUnionOfShownAndUsed(t *testing.T) {
	run := models.RunOutcome{
		RunnerResult: models.RunnerResult{ExitCode: 0},
		ShownQAIDs:   []string{"a", "b"},
		UsedQAIDs:    []string{"b", "c"},
	}
	d := Evaluate(DefaultConfig(), time.Now(), nil, run, nil)
	if len(d.HitRefs) != 3 {
		t.Fatalf("expected 3 hit refs (union of a,b,c), got %+v", d.HitRefs)
	}
	for _, r := range d.HitRefs {
		if r.QAID == "b" && (!r.Shown || !r.Used) {
			t.Fatalf("expected b shown and used, got %+v", r)
		}
	}
}

func TestTop1ScoreOverThresholdSuppressesCandidate(t *testing.T) {
	matches := []models.SearchMatch{
		match("qa-4", 0, 0.1, 0.99, "active"),
	}
	run := models.RunOutcome{RunnerResult: models.RunnerResult{ExitCode: 0}}

	d := Evaluate(DefaultConfig(), time.Now(), matches, run, nil)
	if d.ShouldWriteCandidate {
		t.Fatalf("expected candidate suppressed by top1_score threshold")
	}
}
