package runengine

import (
	"context"
	"time"

	"github.com/chaorenex1/memex-cli-sub000/internal/gatekeeper"
	"github.com/chaorenex1/memex-cli-sub000/internal/memorysync"
	"github.com/chaorenex1/memex-cli-sub000/pkg/models"
)

// preRun issues an optional memory search, feeds the matches through the
// gatekeeper to compute an inject list, and merges the rendered context
// into the user's query. A disabled or failing memory service degrades to
// the query unchanged (spec §4.10 pre-run).
func (e *Engine) preRun(ctx context.Context, sessionID, projectID, userQuery string) preRunResult {
	e.transition(sessionID, models.PhaseMemorySearch)

	if e.Memory == nil {
		return preRunResult{mergedQuery: userQuery}
	}

	matches := e.Memory.Search(ctx, memorysync.SearchRequest{
		ProjectID: projectID,
		Query:     userQuery,
		Limit:     e.Config.MemorySearchLimit,
		MinScore:  e.Config.MemoryMinScore,
	})
	if matches == nil {
		return preRunResult{mergedQuery: userQuery}
	}

	emptyOutcome := models.RunOutcome{}
	decision := gatekeeper.Evaluate(e.Config.GatekeeperCfg, time.Now(), matches, emptyOutcome, nil)

	memoryCtx := memorysync.RenderMemoryContext(decision.InjectList, e.Config.InjectCfg)
	merged := memorysync.MergePrompt(userQuery, memoryCtx, e.Config.InjectCfg.Placement)

	shown := make([]string, 0, len(decision.InjectList))
	for _, item := range decision.InjectList {
		shown = append(shown, item.QAID)
	}

	searchEvent := models.WrapperEvent{
		Type: models.WrapperMemorySearchResult,
		TS:   nowRFC3339(),
		Data: mustJSON(map[string]any{"query": userQuery, "matches": matches}),
	}

	return preRunResult{
		mergedQuery: merged,
		shownQAIDs:  shown,
		matches:     matches,
		searchEvent: &searchEvent,
	}
}

// postRun computes the gatekeeper decision from the runner result, then —
// if memory is enabled — reports hits, validations, and (when not
// suppressed) extracted candidates (spec §4.10 post-run).
func (e *Engine) postRun(ctx context.Context, sessionID, projectID string, run models.RunnerResult, matches []models.SearchMatch, shownQAIDs []string, userQuery string) (models.RunOutcome, models.GatekeeperDecision) {
	e.transition(sessionID, models.PhaseGatekeeperEvaluating)

	outcome := models.RunOutcome{
		RunnerResult: run,
		ShownQAIDs:   shownQAIDs,
		UsedQAIDs:    gatekeeper.ExtractQARefs(run.StdoutTail),
	}

	decision := gatekeeper.Evaluate(e.Config.GatekeeperCfg, time.Now(), matches, outcome, run.ToolEvents)

	e.Metrics.RecordGatekeeperDecision(decisionOutcome(decision))
	for _, ev := range run.ToolEvents {
		e.Metrics.RecordToolEvent(ev.Tool)
	}

	if e.Memory == nil {
		return outcome, decision
	}

	e.transition(sessionID, models.PhaseMemoryPersisting)

	e.Memory.ReportHits(ctx, run.RunID, decision.HitRefs)
	e.Memory.ReportValidations(ctx, run.RunID, decision.ValidatePlans)

	if decision.ShouldWriteCandidate {
		drafts := memorysync.ExtractCandidates(e.Config.CandCfg, userQuery, outcome.StdoutTail, outcome.StderrTail, run.ToolEvents)
		for _, d := range drafts {
			e.Memory.ReportCandidate(ctx, memorysync.CandidateRequest{
				RunID:    run.RunID,
				Question: d.Question,
				Answer:   d.Answer,
				Tags:     d.Tags,
			})
		}
	}

	return outcome, decision
}

// decisionOutcome reduces a gatekeeper decision to a single label for metrics.
func decisionOutcome(decision models.GatekeeperDecision) string {
	switch {
	case decision.ShouldWriteCandidate:
		return "write_candidate"
	case len(decision.InjectList) > 0:
		return "inject"
	case len(decision.HitRefs) > 0:
		return "hit"
	default:
		return "none"
	}
}
