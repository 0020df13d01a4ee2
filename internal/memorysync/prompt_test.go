package memorysync

import (
	"strings"
	"testing"

	"github.com/chaorenex1/memex-cli-sub000/pkg/models"
)

func TestRenderMemoryContextEmptyList(t *testing.T) {
	if got := RenderMemoryContext(nil, DefaultInjectConfig()); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}

func TestRenderMemoryContextIncludesCitationMarker(t *testing.T) {
	items := []models.InjectItem{{QAID: "qa-1", Question: "q", Answer: "a", Trust: 0.8, ValidationLevel: 2, Score: 0.9}}
	got := RenderMemoryContext(items, DefaultInjectConfig())
	if !strings.Contains(got, "[[qa:qa-1]]") {
		t.Fatalf("expected citation marker in rendered context, got %q", got)
	}
}

func TestRenderMemoryContextTruncatesAnswer(t *testing.T) {
	items := []models.InjectItem{{QAID: "qa-1", Question: "q", Answer: strings.Repeat("x", 50)}}
	got := RenderMemoryContext(items, InjectConfig{MaxItems: 1, MaxAnswerChars: 10})
	if strings.Contains(got, strings.Repeat("x", 50)) {
		t.Fatalf("expected truncation, got %q", got)
	}
}

func TestMergePromptSystemPrepends(t *testing.T) {
	got := MergePrompt("do the thing", "CONTEXT", PlacementSystem)
	if !strings.HasPrefix(got, "CONTEXT") {
		t.Fatalf("expected system placement to prepend, got %q", got)
	}
}

func TestMergePromptUserAppends(t *testing.T) {
	got := MergePrompt("do the thing", "CONTEXT", PlacementUser)
	if !strings.HasPrefix(got, "do the thing") || !strings.HasSuffix(got, "CONTEXT") {
		t.Fatalf("expected user placement to append, got %q", got)
	}
}

func TestMergePromptEmptyContextReturnsOriginal(t *testing.T) {
	got := MergePrompt("do the thing", "", PlacementSystem)
	if got != "do the thing" {
		t.Fatalf("expected unchanged prompt, got %q", got)
	}
}
