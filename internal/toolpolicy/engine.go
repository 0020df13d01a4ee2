// Package toolpolicy evaluates tool.request events against deny/allow rule
// sets and tracks pending decision deadlines.
package toolpolicy

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chaorenex1/memex-cli-sub000/pkg/models"
)

// Mode selects whether the engine evaluates rules at all.
type Mode string

const (
	ModeOff  Mode = "off"
	ModeAuto Mode = "auto"
)

// FailMode controls what happens when a control write or decision times out.
type FailMode string

const (
	FailClosed FailMode = "closed"
	FailOpen   FailMode = "open"
)

// Outcome is the result of evaluating one tool.request.
type Outcome struct {
	Abort  bool
	Reason string
}

// Config configures the policy engine.
type Config struct {
	Mode              Mode
	Deny              []models.PolicyRule
	Allow             []models.PolicyRule
	DefaultDecision   string // "allow", "deny" or "pending"
	DecisionTimeout   time.Duration
	FailMode          FailMode
}

type pendingEntry struct {
	deadline time.Time
}

// Engine evaluates requests and decides allow/deny, with a pending-decision
// deadline tracked per request id.
type Engine struct {
	cfg     Config
	mu      sync.Mutex
	pending map[string]pendingEntry
	decided map[string]bool
}

// New constructs a policy engine.
func New(cfg Config) *Engine {
	if cfg.DefaultDecision == "" {
		cfg.DefaultDecision = "allow"
	}
	return &Engine{
		cfg:     cfg,
		pending: map[string]pendingEntry{},
		decided: map[string]bool{},
	}
}

// Decision is the outcome of evaluating a single tool.request.
type Decision struct {
	ID       string
	Decision string // "allow" | "deny"
	Reason   string
	RuleID   string
}

// SetRules replaces the deny/allow rule lists in place, letting a caller
// hot-reload policy rules without rebuilding the engine (and losing its
// pending-decision state).
func (e *Engine) SetRules(deny, allow []models.PolicyRule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.Deny = deny
	e.cfg.Allow = allow
}

// Evaluate runs rule evaluation for a tool.request event (C6 §4.6). It never
// issues more than one decision per id per session.
func (e *Engine) Evaluate(now time.Time, ev models.CanonicalEvent) (Decision, bool) {
	if e.cfg.Mode == ModeOff {
		return Decision{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.decided[ev.ID] {
		return Decision{}, false
	}

	if idx, rule := firstMatch(e.cfg.Deny, ev); idx >= 0 {
		e.decided[ev.ID] = true
		delete(e.pending, ev.ID)
		return Decision{ID: ev.ID, Decision: "deny", Reason: rule.Reason, RuleID: ruleID("denylist", idx)}, true
	}

	if idx, rule := firstMatch(e.cfg.Allow, ev); idx >= 0 {
		e.decided[ev.ID] = true
		delete(e.pending, ev.ID)
		return Decision{ID: ev.ID, Decision: "allow", Reason: rule.Reason, RuleID: ruleID("allowlist", idx)}, true
	}

	// No matching rule. A default of "pending" means no immediate decision
	// is made; the request is tracked until an external decider resolves it
	// (not modeled here) or the deadline elapses, at which point Tick
	// escalates per FailMode. Any other default resolves immediately.
	if e.cfg.DefaultDecision == "pending" {
		if e.cfg.DecisionTimeout > 0 {
			if _, exists := e.pending[ev.ID]; !exists {
				e.pending[ev.ID] = pendingEntry{deadline: now.Add(e.cfg.DecisionTimeout)}
			}
		}
		return Decision{}, false
	}

	e.decided[ev.ID] = true
	delete(e.pending, ev.ID)
	return Decision{ID: ev.ID, Decision: e.cfg.DefaultDecision, Reason: "default"}, true
}

// Tick examines pending entries; returns an Abort outcome if any pending
// decision has exceeded its deadline under fail-closed, otherwise a
// Continue outcome (possibly after logging under fail-open, left to the
// caller).
func (e *Engine) Tick(now time.Time) Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, entry := range e.pending {
		if now.After(entry.deadline) {
			if e.cfg.FailMode == FailClosed {
				return Outcome{Abort: true, Reason: "decision timeout"}
			}
			delete(e.pending, id)
		}
	}
	return Outcome{}
}

func firstMatch(rules []models.PolicyRule, ev models.CanonicalEvent) (int, models.PolicyRule) {
	for i, r := range rules {
		if matchesTool(r.Tool, ev.Tool) && (r.Action == "" || r.Action == ev.Action) {
			return i, r
		}
	}
	return -1, models.PolicyRule{}
}

func matchesTool(pattern, tool string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(tool, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == tool
}

func ruleID(list string, idx int) string {
	return list + "[" + strconv.Itoa(idx) + "]"
}
