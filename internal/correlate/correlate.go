// Package correlate computes aggregate insights over a session's collected
// tool events: counts, failing tools, and request/result correlation stats.
package correlate

import "github.com/chaorenex1/memex-cli-sub000/pkg/models"

// Pair is the last observed request/result pair.
type Pair struct {
	Request *models.CanonicalEvent `json:"request,omitempty"`
	Result  *models.CanonicalEvent `json:"result,omitempty"`
}

// Correlation holds request/result matching statistics.
type Correlation struct {
	RequestCount       int      `json:"request_count"`
	ResultCount        int      `json:"result_count"`
	MatchedPairs       int      `json:"matched_pairs"`
	UnmatchedRequests  int      `json:"unmatched_requests"`
	UnmatchedResults   int      `json:"unmatched_results"`
	RequestMissingID   int      `json:"request_missing_id"`
	ResultMissingID    int      `json:"result_missing_id"`
	DuplicateRequestIDs []string `json:"duplicate_request_ids,omitempty"`
	DuplicateResultIDs  []string `json:"duplicate_result_ids,omitempty"`
	FailedResults      int      `json:"failed_results"`
	LastPair           *Pair    `json:"last_pair,omitempty"`
}

// Insights is the full aggregate computed from a tool-event list.
type Insights struct {
	Total         int
	ByType        map[string]int
	Tools         []string
	FailingTools  []string
	LastRequest   *models.CanonicalEvent
	LastResult    *models.CanonicalEvent
	Correlation   Correlation
}

// Build computes aggregate insights over events (C8).
func Build(events []models.CanonicalEvent) Insights {
	ins := Insights{ByType: map[string]int{}}

	toolSet := map[string]bool{}
	failingSet := map[string]bool{}

	reqSeen := map[string]int{}
	resSeen := map[string]int{}
	reqByID := map[string]models.CanonicalEvent{}

	var corr Correlation

	for i := range events {
		ev := events[i]
		ins.Total++
		ins.ByType[string(ev.EventType)]++

		if ev.Tool != "" {
			toolSet[ev.Tool] = true
		}

		switch ev.EventType {
		case models.ToolRequest:
			corr.RequestCount++
			ins.LastRequest = &events[i]
			if ev.ID == "" {
				corr.RequestMissingID++
				continue
			}
			reqSeen[ev.ID]++
			if reqSeen[ev.ID] > 1 {
				corr.DuplicateRequestIDs = append(corr.DuplicateRequestIDs, ev.ID)
			}
			reqByID[ev.ID] = ev

		case models.ToolResult:
			corr.ResultCount++
			ins.LastResult = &events[i]
			if ev.Ok != nil && !*ev.Ok {
				corr.FailedResults++
				if ev.Tool != "" {
					failingSet[ev.Tool] = true
				}
			}
			if ev.ID == "" {
				corr.ResultMissingID++
				continue
			}
			resSeen[ev.ID]++
			if resSeen[ev.ID] > 1 {
				corr.DuplicateResultIDs = append(corr.DuplicateResultIDs, ev.ID)
			}
			if req, ok := reqByID[ev.ID]; ok {
				corr.MatchedPairs++
				reqCopy := req
				resCopy := ev
				corr.LastPair = &Pair{Request: &reqCopy, Result: &resCopy}
			}
		}
	}

	corr.UnmatchedRequests = corr.RequestCount - corr.MatchedPairs
	corr.UnmatchedResults = corr.ResultCount - corr.MatchedPairs

	for t := range toolSet {
		ins.Tools = append(ins.Tools, t)
	}
	for t := range failingSet {
		ins.FailingTools = append(ins.FailingTools, t)
	}
	ins.Correlation = corr
	return ins
}
