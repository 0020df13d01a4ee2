package memorysync

import (
	"fmt"
	"strings"

	"github.com/chaorenex1/memex-cli-sub000/pkg/models"
)

// InjectPlacement selects where the rendered memory context is merged into
// the user prompt.
type InjectPlacement string

const (
	PlacementSystem InjectPlacement = "system"
	PlacementUser   InjectPlacement = "user"
)

// InjectConfig controls how the gatekeeper's inject list is rendered into
// the merged prompt. Defaults mirror the reference config's
// PromptInjectConfig.
type InjectConfig struct {
	Placement       InjectPlacement
	MaxItems        int
	MaxAnswerChars  int
	IncludeMetaLine bool
}

// DefaultInjectConfig matches the reference implementation's defaults.
func DefaultInjectConfig() InjectConfig {
	return InjectConfig{
		Placement:       PlacementSystem,
		MaxItems:        3,
		MaxAnswerChars:  900,
		IncludeMetaLine: true,
	}
}

// RenderMemoryContext renders an inject list into a prompt context block.
// Each item is truncated to MaxAnswerChars and tagged with a [[qa:<id>]]
// marker so a run's output can later be scanned for citations
// (gatekeeper.ExtractQARefs). Returns "" if the list is empty.
func RenderMemoryContext(items []models.InjectItem, cfg InjectConfig) string {
	if len(items) == 0 {
		return ""
	}
	max := cfg.MaxItems
	if max <= 0 || max > len(items) {
		max = len(items)
	}

	var b strings.Builder
	b.WriteString("Relevant prior answers (cite with [[qa:<id>]] if you rely on one):\n")
	for i, item := range items[:max] {
		answer := item.Answer
		if cfg.MaxAnswerChars > 0 {
			r := []rune(answer)
			if len(r) > cfg.MaxAnswerChars {
				answer = string(r[:cfg.MaxAnswerChars])
			}
		}
		fmt.Fprintf(&b, "%d. [[qa:%s]] Q: %s\n   A: %s\n", i+1, item.QAID, item.Question, answer)
		if cfg.IncludeMetaLine {
			fmt.Fprintf(&b, "   (trust=%.2f validation_level=%d score=%.2f)\n", item.Trust, item.ValidationLevel, item.Score)
		}
	}
	return b.String()
}

// MergePrompt combines the rendered memory context with the user prompt
// according to placement. An empty memoryCtx returns the user prompt
// unchanged.
func MergePrompt(userPrompt, memoryCtx string, placement InjectPlacement) string {
	if memoryCtx == "" {
		return userPrompt
	}
	switch placement {
	case PlacementUser:
		return userPrompt + "\n\n" + memoryCtx
	default:
		return memoryCtx + "\n\n" + userPrompt
	}
}
