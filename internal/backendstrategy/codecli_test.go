package backendstrategy

import (
	"testing"

	"github.com/chaorenex1/memex-cli-sub000/internal/runengine"
)

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func indexOf(ss []string, s string) int {
	for i, v := range ss {
		if v == s {
			return i
		}
	}
	return -1
}

func TestCodeCLICodexResumeMapsToSubcommand(t *testing.T) {
	strat := CodeCLI{}
	_, args, err := strat.Plan(runengine.BackendPlanRequest{
		Backend:      "codex",
		ResumeID:     "sess-123",
		Prompt:       "hi",
		StreamFormat: "jsonl",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !contains(args.Args, "resume") || !contains(args.Args, "sess-123") {
		t.Fatalf("expected resume subcommand, got %v", args.Args)
	}
}

func TestCodeCLIClaudeResumeMapsToRFlag(t *testing.T) {
	strat := CodeCLI{}
	_, args, err := strat.Plan(runengine.BackendPlanRequest{
		Backend:      "claude",
		ResumeID:     "sess-abc",
		Prompt:       "hi",
		StreamFormat: "jsonl",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	idx := indexOf(args.Args, "-r")
	if idx < 0 || args.Args[idx+1] != "sess-abc" {
		t.Fatalf("expected -r sess-abc, got %v", args.Args)
	}
}

func TestCodeCLIGeminiResumeMapsToRFlag(t *testing.T) {
	strat := CodeCLI{}
	_, args, err := strat.Plan(runengine.BackendPlanRequest{
		Backend:      "gemini",
		ResumeID:     "latest",
		Prompt:       "hi",
		StreamFormat: "jsonl",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	idx := indexOf(args.Args, "-r")
	if idx < 0 || args.Args[idx+1] != "latest" {
		t.Fatalf("expected -r latest, got %v", args.Args)
	}
}

func TestCodeCLIRejectsShellMetacharacters(t *testing.T) {
	strat := CodeCLI{}
	_, _, err := strat.Plan(runengine.BackendPlanRequest{
		Backend: "claude; rm -rf /",
		Prompt:  "hi",
	})
	if err == nil {
		t.Fatal("expected sanitization error for shell metacharacters")
	}
}

func TestCodeCLIGenericFallback(t *testing.T) {
	strat := CodeCLI{}
	_, args, err := strat.Plan(runengine.BackendPlanRequest{
		Backend:      "some-other-cli",
		Model:        "m1",
		Prompt:       "hi",
		StreamFormat: "jsonl",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !contains(args.Args, "--model") || !contains(args.Args, "--stream") {
		t.Fatalf("expected generic fallback flags, got %v", args.Args)
	}
}
