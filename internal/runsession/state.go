package runsession

import (
	"encoding/json"
	"time"

	"github.com/chaorenex1/memex-cli-sub000/internal/iopump"
	"github.com/chaorenex1/memex-cli-sub000/internal/stdiocodec"
	"github.com/chaorenex1/memex-cli-sub000/internal/toolpolicy"
	"github.com/chaorenex1/memex-cli-sub000/pkg/models"
)

// runState accumulates per-run mutable state across the select loop: the
// tool events observed so far, the dropped-line count, and the backend's
// own run id once the parser discovers one.
type runState struct {
	in     Input
	runID  string
	policy *toolpolicy.Engine
	parser *stdiocodec.Parser
	ctlCh  chan<- models.ControlCommand

	events  []models.CanonicalEvent
	dropped uint64
}

// effectiveRunID prefers the run id the backend stream reports over the
// one the caller supplied, matching the reference's fallback order.
func (r *runState) effectiveRunID() string {
	if id := r.parser.RunID(); id != "" {
		return id
	}
	return r.runID
}

// onLine feeds one line to the parser, forwards any derived tool events to
// the TUI channel and policy engine, and reports whether the runtime
// should abort (and why).
func (r *runState) onLine(tap iopump.LineTap) (reason string, abort bool) {
	switch tap.Stream {
	case iopump.Stdout:
		r.notify(Event{Kind: "raw_stdout", Line: tap.Line})
	case iopump.Stderr:
		r.notify(Event{Kind: "raw_stderr", Line: tap.Line})
	}

	evs, err := r.parser.ParseLine(string(tap.Stream), tap.Line)
	if err != nil {
		// Plain text on the wire (no JSON envelope at all) is ordinary
		// backend chatter, not a dropped event: surface it unparsed.
		if tap.Stream == iopump.Stdout {
			r.notify(Event{Kind: "assistant_output", Line: tap.Line})
		}
		return "", false
	}

	for i := range evs {
		ev := evs[i]
		r.events = append(r.events, ev)
		if !r.notify(Event{Kind: "tool_event", ToolEvent: &ev}) {
			r.dropped++
		}

		switch ev.EventType {
		case models.AssistantOutput:
			r.notify(Event{Kind: "assistant_output", Line: rawString(ev.Output)})
		case models.ToolRequest:
			decision, decided := r.policy.Evaluate(time.Now(), ev)
			if decided {
				r.dispatchDecision(decision)
			}
		}
	}
	return "", false
}

func (r *runState) dispatchDecision(d toolpolicy.Decision) {
	select {
	case r.ctlCh <- models.ControlCommand{
		Kind:     models.ControlKindPolicyDecision,
		ID:       d.ID,
		Decision: d.Decision,
		Reason:   d.Reason,
		RuleID:   d.RuleID,
	}:
	default:
	}
}

// notify forwards ev to the TUI channel (if any), reporting whether it was
// delivered; a full channel drops the event rather than blocking the run.
func (r *runState) notify(ev Event) bool {
	if r.in.TUIEvents == nil {
		return true
	}
	select {
	case r.in.TUIEvents <- ev:
		return true
	default:
		return false
	}
}

func (r *runState) reportToolEvents() {
	if r.in.State == nil || r.in.SessionID == "" {
		return
	}
	r.in.State.RecordToolEvents(r.in.SessionID, len(r.events))
}

func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
