// Package gatekeeper selects inject candidates from retrieved memory
// matches, suppresses weak/stale items, grades validation signals, and
// emits a structured decision — ported from the reference evaluate.rs
// algorithm this specification pins.
package gatekeeper

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/width"

	"github.com/chaorenex1/memex-cli-sub000/internal/correlate"
	"github.com/chaorenex1/memex-cli-sub000/pkg/models"
)

// Config carries the thresholds named throughout spec.md §4.9.
type Config struct {
	ActiveStatuses         map[string]bool
	ExcludeStaleByDefault  bool
	BlockIfConsecutiveFailGE int
	MinLevelInject         int
	MinLevelFallback       int
	MinTrustShow           float32
	MaxInject              int
	SkipIfTop1ScoreGE      float32
	DigestHeadChars        int
	DigestTailChars        int
}

// DefaultConfig matches the reference implementation's defaults.
func DefaultConfig() Config {
	return Config{
		ActiveStatuses:           map[string]bool{"active": true},
		ExcludeStaleByDefault:    true,
		BlockIfConsecutiveFailGE: 3,
		MinLevelInject:           2,
		MinLevelFallback:         1,
		MinTrustShow:             0.3,
		MaxInject:                3,
		SkipIfTop1ScoreGE:        0.95,
		DigestHeadChars:          200,
		DigestTailChars:          200,
	}
}

var (
	successRe = regexp.MustCompile(`(?i)\b(tests? passed|build succeeded|all tests passed|success)\b`)
	failureRe = regexp.MustCompile(`(?i)\b(panic|traceback|fatal error|build failed|tests? failed)\b`)
)

// Evaluate computes a gatekeeper decision from retrieved matches, the run
// outcome, and the tool events observed during the run.
func Evaluate(cfg Config, now time.Time, matches []models.SearchMatch, run models.RunOutcome, toolEvents []models.CanonicalEvent) models.GatekeeperDecision {
	var reasons []string

	var top1Score float32
	hasTop1 := false
	for _, m := range matches {
		if !hasTop1 || m.Score > top1Score {
			top1Score = m.Score
			hasTop1 = true
		}
	}

	var usable []models.SearchMatch
	staleCount, statusReject, failReject := 0, 0, 0

	for _, m := range matches {
		if !cfg.ActiveStatuses[m.Status] {
			statusReject++
			continue
		}
		if cfg.ExcludeStaleByDefault && isStale(m, now) {
			staleCount++
			continue
		}
		if consecutiveFail(m) >= cfg.BlockIfConsecutiveFailGE {
			failReject++
			continue
		}
		usable = append(usable, m)
	}

	sort.SliceStable(usable, func(i, j int) bool {
		a, b := usable[i], usable[j]
		if a.ValidationLevel != b.ValidationLevel {
			return a.ValidationLevel > b.ValidationLevel
		}
		if a.Trust != b.Trust {
			return a.Trust > b.Trust
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.Freshness > b.Freshness
	})

	hasStrong := false
	for _, m := range usable {
		if m.ValidationLevel >= cfg.MinLevelInject {
			hasStrong = true
			break
		}
	}

	var injectList []models.InjectItem
	for _, m := range usable {
		if len(injectList) >= cfg.MaxInject {
			break
		}
		if m.ValidationLevel >= cfg.MinLevelInject && m.Trust >= cfg.MinTrustShow {
			injectList = append(injectList, toInjectItem(m))
		}
	}

	if len(injectList) == 0 && len(usable) > 0 && !hasStrong {
		for i := 0; i < len(usable) && i < cfg.MaxInject; i++ {
			m := usable[i]
			if m.ValidationLevel >= cfg.MinLevelFallback && m.Trust >= cfg.MinTrustShow {
				reasons = append(reasons, "inject fallback (no strong matches)")
				injectList = append(injectList, toInjectItem(m))
				break
			}
		}
	}

	shouldWriteCandidate := true
	if hasStrong {
		shouldWriteCandidate = false
		reasons = append(reasons, "candidate suppressed: has strong matches")
	}
	if hasTop1 && top1Score >= cfg.SkipIfTop1ScoreGE {
		shouldWriteCandidate = false
		reasons = append(reasons, "candidate suppressed: top1_score over threshold")
	}

	hitRefs := buildHitRefs(run)
	insights := correlate.Build(toolEvents)

	sig := gradeValidationSignal(run, insights)

	var validateTargets []string
	if len(run.UsedQAIDs) > 0 {
		validateTargets = append(validateTargets, run.UsedQAIDs...)
	} else if len(injectList) > 0 {
		validateTargets = append(validateTargets, injectList[0].QAID)
	}

	var validatePlans []models.ValidatePlan
	for _, qaID := range validateTargets {
		payload := map[string]any{
			"exit_code":            run.ExitCode,
			"duration_ms":          run.DurationMs,
			"stdout_tail_digest":   digest(run.StdoutTail, cfg.DigestHeadChars, cfg.DigestTailChars),
			"stderr_tail_digest":   digest(run.StderrTail, cfg.DigestHeadChars, cfg.DigestTailChars),
			"tool_events_total":    insights.Total,
			"tool_events_by_type":  insights.ByType,
			"tools":                insights.Tools,
			"failing_tools":        insights.FailingTools,
			"tool_corr":            insights.Correlation,
		}
		payloadJSON, _ := json.Marshal(payload)
		validatePlans = append(validatePlans, models.ValidatePlan{
			QAID:           qaID,
			Result:         sig.result,
			SignalStrength: sig.strength,
			StrongSignal:   sig.strong,
			Context:        sig.reason,
			Payload:        payloadJSON,
		})
	}

	reasons = append(reasons, anomalyReasons(insights.Correlation)...)

	signals := map[string]any{
		"usable_count":         len(usable),
		"inject_count":         len(injectList),
		"has_strong":           hasStrong,
		"top1_score":           top1Score,
		"status_reject":        statusReject,
		"stale_reject":         staleCount,
		"fail_reject":          failReject,
		"should_write_candidate": shouldWriteCandidate,
		"tool_events_total":    insights.Total,
		"tool_events_by_type":  insights.ByType,
		"tools":                insights.Tools,
		"failing_tools":        insights.FailingTools,
	}
	signalsJSON, _ := json.Marshal(signals)

	return models.GatekeeperDecision{
		InjectList:           injectList,
		ShouldWriteCandidate: shouldWriteCandidate,
		HitRefs:              hitRefs,
		ValidatePlans:        validatePlans,
		Reasons:              reasons,
		Signals:              signalsJSON,
	}
}

func toInjectItem(m models.SearchMatch) models.InjectItem {
	return models.InjectItem{
		QAID: m.QAID, Question: m.Question, Answer: m.Answer, Summary: m.Summary,
		Trust: m.Trust, ValidationLevel: m.ValidationLevel, Score: m.Score, Tags: m.Tags,
	}
}

func isStale(m models.SearchMatch, now time.Time) bool {
	if m.ExpiryAt == nil {
		return false
	}
	t, err := time.Parse(time.RFC3339, *m.ExpiryAt)
	if err != nil {
		return false
	}
	return !t.UTC().After(now.UTC())
}

func consecutiveFail(m models.SearchMatch) int {
	if len(m.Metadata) == 0 {
		return 0
	}
	var meta map[string]any
	if err := json.Unmarshal(m.Metadata, &meta); err != nil {
		return 0
	}
	v, ok := meta["consecutive_fail"]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i
		}
	}
	return 0
}

func buildHitRefs(run models.RunOutcome) []models.HitRef {
	shown := map[string]bool{}
	used := map[string]bool{}
	for _, id := range run.ShownQAIDs {
		shown[id] = true
	}
	for _, id := range run.UsedQAIDs {
		used[id] = true
	}
	union := map[string]bool{}
	for id := range shown {
		union[id] = true
	}
	for id := range used {
		union[id] = true
	}

	ids := make([]string, 0, len(union))
	for id := range union {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	refs := make([]models.HitRef, 0, len(ids))
	for _, id := range ids {
		refs = append(refs, models.HitRef{QAID: id, Shown: shown[id], Used: used[id]})
	}
	return refs
}

type signalResult struct {
	result   string
	strength string
	strong   bool
	reason   string
}

func gradeValidationSignal(run models.RunOutcome, insights correlate.Insights) signalResult {
	combined := run.StdoutTail + "\n" + run.StderrTail
	successMatched := successRe.MatchString(combined)
	failureMatched := failureRe.MatchString(combined)
	usedAny := len(run.UsedQAIDs) > 0
	noFailingTool := len(insights.FailingTools) == 0

	result := "fail"
	if run.ExitCode == 0 {
		result = "pass"
	}

	switch {
	case run.ExitCode == 0 && successMatched && usedAny && noFailingTool:
		return signalResult{result: result, strength: "strong", strong: true, reason: "exit_code=0, success marker matched, used qa present, no failing tool"}
	case run.ExitCode == 0 && (successMatched || usedAny):
		return signalResult{result: result, strength: "medium", strong: false, reason: "exit_code=0, partial success signal"}
	case run.ExitCode != 0 && failureMatched:
		return signalResult{result: result, strength: "medium", strong: false, reason: "exit_code!=0, explicit failure marker matched"}
	default:
		return signalResult{result: result, strength: "weak", strong: false, reason: "no strong signal"}
	}
}

func anomalyReasons(c correlate.Correlation) []string {
	var out []string
	if c.UnmatchedRequests > 0 {
		out = append(out, "tool correlation: unmatched requests present")
	}
	if c.UnmatchedResults > 0 {
		out = append(out, "tool correlation: unmatched results present")
	}
	if len(c.DuplicateRequestIDs) > 0 || len(c.DuplicateResultIDs) > 0 {
		out = append(out, "tool correlation: duplicate ids observed")
	}
	if c.FailedResults > 0 {
		out = append(out, "tool correlation: failed tool results observed")
	}
	return out
}

// digest builds a head/tail preview of s, truncating by display column width
// rather than rune count so a run of wide (e.g. CJK) characters doesn't blow
// past the configured budget.
func digest(s string, headChars, tailChars int) map[string]any {
	runes := []rune(s)
	return map[string]any{
		"len":  len(runes),
		"head": headByWidth(runes, headChars),
		"tail": tailByWidth(runes, tailChars),
	}
}

func headByWidth(runes []rune, budget int) string {
	var b strings.Builder
	used := 0
	for _, r := range runes {
		w := runeWidth(r)
		if used+w > budget {
			break
		}
		used += w
		b.WriteRune(r)
	}
	return b.String()
}

func tailByWidth(runes []rune, budget int) string {
	used := 0
	start := len(runes)
	for i := len(runes) - 1; i >= 0; i-- {
		w := runeWidth(runes[i])
		if used+w > budget {
			break
		}
		used += w
		start = i
	}
	return string(runes[start:])
}

// runeWidth reports the display column width of r: 2 for East Asian wide
// and fullwidth runes, 1 otherwise.
func runeWidth(r rune) int {
	switch width.LookupRune(r).Kind() {
	case width.EastAsianWide, width.EastAsianFullwidth:
		return 2
	default:
		return 1
	}
}
