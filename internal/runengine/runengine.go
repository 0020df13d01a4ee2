// Package runengine stitches one user query through memory pre-run,
// backend-plan resolution, session execution, and gatekeeper/memory
// post-run persistence — the top-level orchestration for a single run.
package runengine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/chaorenex1/memex-cli-sub000/internal/gatekeeper"
	"github.com/chaorenex1/memex-cli-sub000/internal/memorysync"
	"github.com/chaorenex1/memex-cli-sub000/internal/observability"
	"github.com/chaorenex1/memex-cli-sub000/internal/statemgr"
	"github.com/chaorenex1/memex-cli-sub000/internal/wrapperevents"
	"github.com/chaorenex1/memex-cli-sub000/pkg/models"
)

// Session is an opaque handle to a started runner session; only the
// caller-supplied SessionLoopFunc needs to know its concrete type.
type Session any

// RunnerPlugin starts a session for a resolved set of start args.
type RunnerPlugin interface {
	Name() string
	StartSession(ctx context.Context, args models.RunnerStartArgs) (Session, error)
}

// BackendPlanRequest is what a BackendStrategy needs to resolve a concrete
// runner and its start args from a merged prompt.
type BackendPlanRequest struct {
	Backend       string
	BaseEnvs      map[string]string
	ResumeID      string
	Prompt        string
	Model         string
	ModelProvider string
	ProjectID     string
	StreamFormat  string
}

// BackendStrategy resolves a backend spec (e.g. "codecli:claude") into a
// concrete runner plugin and the args to start it with.
type BackendStrategy interface {
	Plan(req BackendPlanRequest) (RunnerPlugin, models.RunnerStartArgs, error)
}

// RunnerSpec selects how the runner for this query is obtained: either a
// backend plan resolved from the merged prompt (Strategy != nil), or a
// pre-built passthrough runner and start args.
type RunnerSpec struct {
	Strategy      BackendStrategy
	BackendSpec   string
	BaseEnvs      map[string]string
	ResumeID      string
	Model         string
	ModelProvider string
	StreamFormat  string

	Runner    RunnerPlugin
	StartArgs models.RunnerStartArgs
}

// RunSessionInput is handed to the caller-supplied session-loop function
// once the session has started.
type RunSessionInput struct {
	Session      Session
	RunID        string
	CaptureBytes int
	StreamFormat string
	StdinPayload *string
}

// SessionLoopFunc runs a started session to completion (or failure),
// producing the raw runner result. Callers (e.g. a TUI) can wrap this to
// interleave UI events while reusing the rest of this package's
// orchestration.
type SessionLoopFunc func(ctx context.Context, input RunSessionInput) (models.RunnerResult, error)

// RunQueryArgs is one user query's worth of run configuration.
type RunQueryArgs struct {
	UserQuery        string
	ProjectID        string
	Runner           RunnerSpec
	RunID            string
	CaptureBytes     int
	StreamFormat     string
	EventsOut        *wrapperevents.Writer
	WrapperStartData json.RawMessage
	SessionID        string
}

// Config bounds the inject/candidate/gatekeeper/search settings for every
// run through this engine.
type Config struct {
	InjectCfg         memorysync.InjectConfig
	CandCfg           memorysync.CandidateExtractConfig
	GatekeeperCfg     gatekeeper.Config
	MemorySearchLimit int
	MemoryMinScore    float32
}

// DefaultConfig matches the reference implementation's defaults.
func DefaultConfig() Config {
	return Config{
		InjectCfg:         memorysync.DefaultInjectConfig(),
		CandCfg:           memorysync.DefaultCandidateExtractConfig(),
		GatekeeperCfg:     gatekeeper.DefaultConfig(),
		MemorySearchLimit: 5,
		MemoryMinScore:    0.5,
	}
}

// Engine is the top-level per-run orchestrator (spec §4.11). Memory and
// State are optional: a nil Memory disables retrieval/persistence, a nil
// State disables session-lifecycle tracking.
type Engine struct {
	Memory  *memorysync.Client
	State   *statemgr.Manager
	Tracer  *observability.Tracer
	Metrics *observability.Metrics
	Logger  *slog.Logger
	Config  Config
}

// New builds an Engine. logger defaults to slog.Default() when nil.
func New(cfg Config, memory *memorysync.Client, state *statemgr.Manager, tracer *observability.Tracer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{Memory: memory, State: state, Tracer: tracer, Logger: logger, Config: cfg}
}

// WithMetrics attaches a Prometheus metrics sink. A nil metrics pointer
// (the zero value of this option) disables metrics entirely.
func (e *Engine) WithMetrics(metrics *observability.Metrics) *Engine {
	e.Metrics = metrics
	return e
}

type preRunResult struct {
	mergedQuery string
	shownQAIDs  []string
	matches     []models.SearchMatch
	searchEvent *models.WrapperEvent
}

// RunWithQuery runs one user query end to end: pre-run retrieval/inject,
// runner-spec resolution, session execution via runSession, and post-run
// gatekeeper/memory persistence. Wrapper events are buffered until the
// effective run_id is known, then flushed in emission order.
func (e *Engine) RunWithQuery(ctx context.Context, args RunQueryArgs, runSession SessionLoopFunc) (models.RunOutcome, error) {
	if e.Tracer != nil {
		var span trace.Span
		ctx, span = e.Tracer.Start(ctx, "runengine.run_with_query")
		defer span.End()
	}

	runID := args.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	if e.State != nil && args.SessionID != "" {
		e.State.CreateSession(args.SessionID, runID)
		e.transition(args.SessionID, models.PhaseInitializing)
	}

	pre := e.preRun(ctx, args.SessionID, args.ProjectID, args.UserQuery)

	var pending []models.WrapperEvent
	if pre.searchEvent != nil {
		pending = append(pending, *pre.searchEvent)
	}
	startEvent := models.WrapperEvent{Type: models.WrapperRunStart, TS: nowRFC3339(), Data: args.WrapperStartData}
	pending = append(pending, startEvent)

	runner, startArgs, err := e.resolveRunner(args.Runner, pre.mergedQuery)
	if err != nil {
		e.flush(ctx, args.EventsOut, pending, runID)
		e.fail(args.SessionID, err)
		return models.RunOutcome{}, fmt.Errorf("resolve runner: %w", err)
	}

	mergeCmdArgs(&pending[len(pending)-1], startArgs)

	e.transition(args.SessionID, models.PhaseRunnerStarting)
	startCtx := ctx
	var startSpan trace.Span
	if e.Tracer != nil {
		startCtx, startSpan = e.Tracer.TraceBackendInvocation(ctx, runner.Name(), args.SessionID)
	}
	session, err := runner.StartSession(startCtx, startArgs)
	if startSpan != nil {
		if err != nil {
			e.Tracer.RecordError(startSpan, err)
		}
		startSpan.End()
	}
	if err != nil {
		e.flush(ctx, args.EventsOut, pending, runID)
		e.fail(args.SessionID, err)
		return models.RunOutcome{}, fmt.Errorf("start session: %w", err)
	}

	e.transition(args.SessionID, models.PhaseRunnerRunning)
	runResult, err := runSession(ctx, RunSessionInput{
		Session:      session,
		RunID:        runID,
		CaptureBytes: args.CaptureBytes,
		StreamFormat: args.StreamFormat,
		StdinPayload: startArgs.StdinPayload,
	})
	if err != nil {
		e.flush(ctx, args.EventsOut, pending, runID)
		e.fail(args.SessionID, err)
		return models.RunOutcome{}, fmt.Errorf("run session: %w", err)
	}

	effectiveRunID := runResult.RunID
	if effectiveRunID == "" {
		effectiveRunID = runID
	}
	e.flush(ctx, args.EventsOut, pending, effectiveRunID)

	if runResult.DroppedLines > 0 {
		e.emit(ctx, args.EventsOut, models.WrapperEvent{
			Type:  models.WrapperTeeDrop,
			TS:    nowRFC3339(),
			RunID: effectiveRunID,
			Data:  mustJSON(map[string]any{"dropped_lines": runResult.DroppedLines}),
		})
	}

	outcome, decision := e.postRun(ctx, args.SessionID, args.ProjectID, runResult, pre.matches, pre.shownQAIDs, args.UserQuery)

	e.emit(ctx, args.EventsOut, models.WrapperEvent{
		Type:  models.WrapperGatekeeperDecision,
		TS:    nowRFC3339(),
		RunID: effectiveRunID,
		Data:  mustJSON(map[string]any{"decision": decision}),
	})

	e.emit(ctx, args.EventsOut, models.WrapperEvent{
		Type:  models.WrapperRunEnd,
		TS:    nowRFC3339(),
		RunID: effectiveRunID,
		Data: mustJSON(map[string]any{
			"exit_code":    outcome.ExitCode,
			"duration_ms":  outcome.DurationMs,
			"stdout_tail":  outcome.StdoutTail,
			"stderr_tail":  outcome.StderrTail,
			"used_qa_ids":  outcome.UsedQAIDs,
			"shown_qa_ids": outcome.ShownQAIDs,
		}),
	})

	if args.SessionID != "" && e.State != nil {
		if outcome.ExitCode == 0 {
			_ = e.State.Complete(args.SessionID, outcome.ExitCode)
		} else {
			_ = e.State.Fail(args.SessionID, fmt.Sprintf("exit_code=%d", outcome.ExitCode))
		}
	}

	return outcome, nil
}

func (e *Engine) resolveRunner(spec RunnerSpec, mergedQuery string) (RunnerPlugin, models.RunnerStartArgs, error) {
	if spec.Strategy == nil {
		return spec.Runner, spec.StartArgs, nil
	}
	runner, startArgs, err := spec.Strategy.Plan(BackendPlanRequest{
		Backend:       spec.BackendSpec,
		BaseEnvs:      spec.BaseEnvs,
		ResumeID:      spec.ResumeID,
		Prompt:        mergedQuery,
		Model:         spec.Model,
		ModelProvider: spec.ModelProvider,
		StreamFormat:  spec.StreamFormat,
	})
	if err != nil {
		return nil, models.RunnerStartArgs{}, err
	}
	return runner, startArgs, nil
}

func (e *Engine) transition(sessionID string, phase models.SessionPhase) {
	if e.State == nil || sessionID == "" {
		return
	}
	if err := e.State.TransitionPhase(sessionID, phase); err != nil {
		e.Logger.Warn("phase transition failed", "session_id", sessionID, "phase", phase, "error", err)
	}
}

func (e *Engine) fail(sessionID string, cause error) {
	if e.State == nil || sessionID == "" {
		return
	}
	_ = e.State.Fail(sessionID, cause.Error())
}

func (e *Engine) flush(ctx context.Context, out *wrapperevents.Writer, events []models.WrapperEvent, runID string) {
	for _, ev := range events {
		ev.RunID = runID
		e.emit(ctx, out, ev)
	}
}

func (e *Engine) emit(ctx context.Context, out *wrapperevents.Writer, ev models.WrapperEvent) {
	if out == nil {
		return
	}
	line, err := json.Marshal(ev)
	if err != nil {
		e.Logger.Warn("wrapper event encode failed", "type", ev.Type, "error", err)
		return
	}
	out.SendLine(ctx, string(line))
}

func mergeCmdArgs(ev *models.WrapperEvent, startArgs models.RunnerStartArgs) {
	extra := map[string]any{"cmd": startArgs.Cmd, "args": startArgs.Args}
	if len(ev.Data) == 0 {
		ev.Data = mustJSON(extra)
		return
	}
	var obj map[string]any
	if err := json.Unmarshal(ev.Data, &obj); err != nil || obj == nil {
		ev.Data = mustJSON(extra)
		return
	}
	if _, ok := obj["cmd"]; !ok {
		obj["cmd"] = startArgs.Cmd
	}
	if _, ok := obj["args"]; !ok {
		obj["args"] = startArgs.Args
	}
	ev.Data = mustJSON(obj)
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
