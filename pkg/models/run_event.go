package models

import (
	"encoding/json"
	"time"
)

// CanonicalEventType enumerates the normalized event shapes produced by the
// stream-JSON parser, independent of which vendor dialect a backend speaks.
type CanonicalEventType string

const (
	EventStart         CanonicalEventType = "event.start"
	EventEnd           CanonicalEventType = "event.end"
	ToolRequest        CanonicalEventType = "tool.request"
	ToolResult         CanonicalEventType = "tool.result"
	AssistantOutput    CanonicalEventType = "assistant.output"
	AssistantReasoning CanonicalEventType = "assistant.reasoning"
)

// CanonicalEventSchemaVersion is the current value of CanonicalEvent.V.
const CanonicalEventSchemaVersion = 1

// CanonicalEvent is the unit of observation produced by the stream-JSON
// parser (C3) from any of the three recognized vendor dialects.
type CanonicalEvent struct {
	V         int                `json:"v"`
	EventType CanonicalEventType `json:"event_type"`
	TS        string             `json:"ts"`
	RunID     string             `json:"run_id,omitempty"`
	ID        string             `json:"id,omitempty"`
	Tool      string             `json:"tool,omitempty"`
	Action    string             `json:"action,omitempty"`
	Args      json.RawMessage    `json:"args,omitempty"`
	Ok        *bool              `json:"ok,omitempty"`
	Output    json.RawMessage    `json:"output,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// WrapperEvent is the coarser audit record emitted by the engine, distinct
// from backend-produced tool events.
type WrapperEvent struct {
	Type  string          `json:"type"`
	TS    string          `json:"ts"`
	RunID string          `json:"run_id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

const (
	WrapperRunStart             = "run.start"
	WrapperRunEnd               = "run.end"
	WrapperMemorySearchResult   = "memory.search.result"
	WrapperGatekeeperDecision   = "gatekeeper.decision"
	WrapperTeeDrop              = "tee.drop"
)

// SearchMatch is a retrieved Q/A record returned by the memory service.
// Immutable once returned from a search call.
type SearchMatch struct {
	QAID            string            `json:"qa_id"`
	Question        string            `json:"question"`
	Answer          string            `json:"answer"`
	Score           float32           `json:"score"`
	Trust           float32           `json:"trust"`
	ValidationLevel int               `json:"validation_level"`
	Status          string            `json:"status"`
	Tags            []string          `json:"tags,omitempty"`
	Metadata        json.RawMessage   `json:"metadata,omitempty"`
	Freshness       float32           `json:"freshness"`
	ExpiryAt        *string           `json:"expiry_at,omitempty"`
	Summary         string            `json:"summary,omitempty"`
}

// InjectItem is the subset of SearchMatch fields selected for prompt
// embedding by the gatekeeper.
type InjectItem struct {
	QAID            string   `json:"qa_id"`
	Question        string   `json:"question"`
	Answer          string   `json:"answer"`
	Summary         string   `json:"summary,omitempty"`
	Trust           float32  `json:"trust"`
	ValidationLevel int      `json:"validation_level"`
	Score           float32  `json:"score"`
	Tags            []string `json:"tags,omitempty"`
}

// HitRef records whether a retrieved qa_id was shown and/or used in a run.
type HitRef struct {
	QAID      string  `json:"qa_id"`
	Shown     bool    `json:"shown"`
	Used      bool    `json:"used"`
	MessageID *string `json:"message_id,omitempty"`
	Context   *string `json:"context,omitempty"`
}

// ValidatePlan is one post-run validation call to be sent to the memory
// service for a qa_id touched by the run.
type ValidatePlan struct {
	QAID           string          `json:"qa_id"`
	Result         string          `json:"result"`
	SignalStrength string          `json:"signal_strength"`
	StrongSignal   bool            `json:"strong_signal"`
	Context        string          `json:"context,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// GatekeeperDecision is the structured output of the gatekeeper (C9).
type GatekeeperDecision struct {
	InjectList          []InjectItem     `json:"inject_list"`
	ShouldWriteCandidate bool            `json:"should_write_candidate"`
	HitRefs             []HitRef         `json:"hit_refs"`
	ValidatePlans       []ValidatePlan   `json:"validate_plans"`
	Reasons             []string         `json:"reasons"`
	Signals             json.RawMessage  `json:"signals"`
}

// RunnerResult is the raw outcome of one session (C7) run.
type RunnerResult struct {
	RunID        string           `json:"run_id"`
	ExitCode     int              `json:"exit_code"`
	DurationMs   *int64           `json:"duration_ms,omitempty"`
	StdoutTail   string           `json:"stdout_tail"`
	StderrTail   string           `json:"stderr_tail"`
	ToolEvents   []CanonicalEvent `json:"tool_events"`
	DroppedLines uint64           `json:"dropped_lines"`
}

// RunOutcome augments RunnerResult with shown/used qa ids extracted from
// stdout during post-processing.
type RunOutcome struct {
	RunnerResult
	ShownQAIDs []string `json:"shown_qa_ids"`
	UsedQAIDs  []string `json:"used_qa_ids"`
}

// RunnerStartArgs is built by a backend strategy from the merged prompt,
// model, provider, resume id and stream format.
type RunnerStartArgs struct {
	Cmd         string            `json:"cmd"`
	Args        []string          `json:"args"`
	Envs        map[string]string `json:"envs,omitempty"`
	StdinPayload *string          `json:"stdin_payload,omitempty"`
}

// FilesMode controls how a task's file attachments are delivered.
type FilesMode string

const (
	FilesModeEmbed FilesMode = "embed"
	FilesModeRef   FilesMode = "ref"
	FilesModeAuto  FilesMode = "auto"
)

// FilesEncoding controls how embedded file content is encoded.
type FilesEncoding string

const (
	FilesEncodingUTF8   FilesEncoding = "utf8"
	FilesEncodingBase64 FilesEncoding = "base64"
	FilesEncodingAuto   FilesEncoding = "auto"
)

// Task is one DAG node submitted to the executor.
type Task struct {
	ID             string        `json:"id"`
	Backend        string        `json:"backend"`
	Workdir        string        `json:"workdir"`
	Model          string        `json:"model,omitempty"`
	ModelProvider  string        `json:"model_provider,omitempty"`
	Dependencies   []string      `json:"dependencies,omitempty"`
	StreamFormat   string        `json:"stream_format"`
	Timeout        time.Duration `json:"timeout"`
	Retry          string        `json:"retry,omitempty"`
	Files          []string      `json:"files,omitempty"`
	FilesMode      FilesMode     `json:"files_mode"`
	FilesEncoding  FilesEncoding `json:"files_encoding"`
	Content        string        `json:"content"`
}

// TaskID satisfies taskgraph.Task.
func (t Task) TaskID() string { return t.ID }

// TaskDependencies satisfies taskgraph.Task.
func (t Task) TaskDependencies() []string { return t.Dependencies }

// ControlCommand is structured JSON written to backend stdin by C5.
type ControlCommand struct {
	Kind     string `json:"kind"`
	ID       string `json:"id,omitempty"`
	Decision string `json:"decision,omitempty"`
	Reason   string `json:"reason,omitempty"`
	RuleID   string `json:"rule_id,omitempty"`
	RunID    string `json:"run_id,omitempty"`
}

const (
	ControlKindPolicyDecision = "policy.decision"
	ControlKindPolicyAbort    = "policy.abort"
)

// PolicyRule matches a tool request. Tool matches literally, as a prefix
// when ending in "*", or "*" meaning any.
type PolicyRule struct {
	Tool   string `json:"tool"`
	Action string `json:"action,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// SessionPhase enumerates the phases of a session's lifecycle, as tracked
// by the state manager (C15).
type SessionPhase string

const (
	PhaseIdle                  SessionPhase = "Idle"
	PhaseInitializing          SessionPhase = "Initializing"
	PhaseMemorySearch          SessionPhase = "MemorySearch"
	PhaseRunnerStarting        SessionPhase = "RunnerStarting"
	PhaseRunnerRunning         SessionPhase = "RunnerRunning"
	PhaseProcessingToolEvents  SessionPhase = "ProcessingToolEvents"
	PhaseGatekeeperEvaluating  SessionPhase = "GatekeeperEvaluating"
	PhaseMemoryPersisting      SessionPhase = "MemoryPersisting"
	PhaseCompleted             SessionPhase = "Completed"
	PhaseFailed                SessionPhase = "Failed"
)

// SessionStatus is the coarse outer status of a session.
type SessionStatus string

const (
	StatusCreated   SessionStatus = "Created"
	StatusRunning   SessionStatus = "Running"
	StatusCompleted SessionStatus = "Completed"
	StatusFailed    SessionStatus = "Failed"
	StatusCancelled SessionStatus = "Cancelled"
)

// RunSessionState is the per-session record maintained by the state
// manager (C15).
type RunSessionState struct {
	SessionID          string              `json:"session_id"`
	RunID              string              `json:"run_id,omitempty"`
	Phase              SessionPhase        `json:"phase"`
	MemoryHits         int                 `json:"memory_hits"`
	ToolEventsSeen     int                 `json:"tool_events_seen"`
	GatekeeperDecision *GatekeeperDecision `json:"gatekeeper_decision,omitempty"`
	StartedAt          time.Time           `json:"started_at"`
	CompletedAt        *time.Time          `json:"completed_at,omitempty"`
	Status             SessionStatus       `json:"status"`
}

// RunnerExitAbort is the exit code reserved for a session abort.
const RunnerExitAbort = 40

// TaskTimeoutExitCode replaces a task's real exit code when the DAG
// executor's per-task timer expires, regardless of what the underlying
// runner eventually returned.
const TaskTimeoutExitCode = 124

// TaskResult is one task's outcome within a DAG executor run (C13).
type TaskResult struct {
	ExitCode    int    `json:"exit_code"`
	DurationMs  int64  `json:"duration_ms"`
	Output      string `json:"output"`
	Error       string `json:"error,omitempty"`
	RetriesUsed int    `json:"retries_used"`
}

// DAGResult is the aggregate outcome of a DAG executor run (C13).
type DAGResult struct {
	TotalTasks  int                   `json:"total_tasks"`
	Completed   int                   `json:"completed"`
	Failed      int                   `json:"failed"`
	DurationMs  int64                 `json:"duration_ms"`
	TaskResults map[string]TaskResult `json:"task_results"`
	Stages      [][]string            `json:"stages"`
}
