package memorysync

import (
	"regexp"
	"strings"

	"github.com/chaorenex1/memex-cli-sub000/pkg/models"
)

// CandidateExtractConfig bounds how a new qa candidate is drafted from a
// run's output when the gatekeeper found no strong existing match.
// Defaults mirror the reference config's CandidateExtractConfig.
type CandidateExtractConfig struct {
	MaxCandidates        int
	MaxAnswerChars        int
	MinAnswerChars        int
	ContextLines          int
	ToolStepsMax          int
	ToolStepArgsKeysMax   int
	ToolStepValueMaxChars int
	Redact                bool
	StrictSecretBlock     bool
	Confidence            float32
}

// DefaultCandidateExtractConfig matches the reference implementation's
// defaults.
func DefaultCandidateExtractConfig() CandidateExtractConfig {
	return CandidateExtractConfig{
		MaxCandidates:         1,
		MaxAnswerChars:        1200,
		MinAnswerChars:        200,
		ContextLines:          8,
		ToolStepsMax:          5,
		ToolStepArgsKeysMax:   16,
		ToolStepValueMaxChars: 140,
		Redact:                true,
		StrictSecretBlock:     true,
		Confidence:            0.5,
	}
}

// CandidateDraft is a proposed new qa pair pending review/promotion.
type CandidateDraft struct {
	Question string
	Answer   string
	Tags     []string
}

var secretRe = regexp.MustCompile(`(?i)(api[_-]?key|secret|token|password|bearer)\s*[:=]\s*\S+`)

// ExtractCandidates drafts up to cfg.MaxCandidates candidates from a run's
// output. An answer longer than MaxAnswerChars is truncated to it; nil is
// returned when the body is empty, when the answer is shorter than
// MinAnswerChars, or when StrictSecretBlock is on and a secret-looking
// token remains in the body (after redaction, when Redact is on).
func ExtractCandidates(cfg CandidateExtractConfig, userQuery, stdoutTail, stderrTail string, toolEvents []models.CanonicalEvent) []CandidateDraft {
	body := strings.TrimSpace(stdoutTail)
	if body == "" {
		body = strings.TrimSpace(stderrTail)
	}
	if body == "" {
		return nil
	}

	if cfg.Redact {
		body = secretRe.ReplaceAllString(body, "$1: [REDACTED]")
	}
	if cfg.StrictSecretBlock && secretRe.MatchString(body) {
		return nil
	}

	if cfg.ContextLines > 0 {
		lines := strings.Split(body, "\n")
		if len(lines) > cfg.ContextLines {
			lines = lines[:cfg.ContextLines]
		}
		body = strings.Join(lines, "\n")
	}

	answer := body
	if steps := summarizeToolSteps(cfg, toolEvents); steps != "" {
		answer = answer + "\n\n" + steps
	}

	runes := []rune(answer)
	if cfg.MaxAnswerChars > 0 && len(runes) > cfg.MaxAnswerChars {
		answer = string(runes[:cfg.MaxAnswerChars])
		runes = []rune(answer)
	}
	if len(runes) < cfg.MinAnswerChars {
		return nil
	}

	max := cfg.MaxCandidates
	if max <= 0 {
		max = 1
	}

	draft := CandidateDraft{Question: userQuery, Answer: answer, Tags: toolNames(toolEvents)}
	drafts := make([]CandidateDraft, 0, max)
	drafts = append(drafts, draft)
	if len(drafts) > max {
		drafts = drafts[:max]
	}
	return drafts
}

func summarizeToolSteps(cfg CandidateExtractConfig, events []models.CanonicalEvent) string {
	max := cfg.ToolStepsMax
	if max <= 0 {
		return ""
	}
	var b strings.Builder
	count := 0
	for _, e := range events {
		if e.EventType != models.ToolRequest || e.Tool == "" {
			continue
		}
		if count >= max {
			break
		}
		b.WriteString("- ")
		b.WriteString(e.Tool)
		if e.Action != "" {
			b.WriteString(" ")
			b.WriteString(e.Action)
		}
		b.WriteString("\n")
		count++
	}
	if count == 0 {
		return ""
	}
	return "Steps:\n" + b.String()
}

func toolNames(events []models.CanonicalEvent) []string {
	seen := map[string]bool{}
	var tags []string
	for _, e := range events {
		if e.Tool == "" || seen[e.Tool] {
			continue
		}
		seen[e.Tool] = true
		tags = append(tags, e.Tool)
	}
	return tags
}
