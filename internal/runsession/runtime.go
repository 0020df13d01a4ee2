// Package runsession implements the session runtime: a single cooperative
// loop joining the I/O pumps, the control writer, the stream-JSON parser,
// and the tool-policy engine over one child session, with a deadline-bound
// abort sequence.
package runsession

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/chaorenex1/memex-cli-sub000/internal/config"
	"github.com/chaorenex1/memex-cli-sub000/internal/control"
	"github.com/chaorenex1/memex-cli-sub000/internal/iopump"
	"github.com/chaorenex1/memex-cli-sub000/internal/observability"
	"github.com/chaorenex1/memex-cli-sub000/internal/ring"
	"github.com/chaorenex1/memex-cli-sub000/internal/statemgr"
	"github.com/chaorenex1/memex-cli-sub000/internal/stdiocodec"
	"github.com/chaorenex1/memex-cli-sub000/internal/toolpolicy"
	"github.com/chaorenex1/memex-cli-sub000/pkg/models"
)

// RunnerSession is one started child session's I/O surface. Runner plugins
// (C7's collaborator) implement this over a subprocess or an HTTP stream.
type RunnerSession interface {
	Stdout() io.Reader
	Stderr() io.Reader
	Stdin() io.WriteCloser
	// Wait blocks until the session's backend process/stream terminates.
	Wait(ctx context.Context) (exitCode int, err error)
	// Kill forcibly terminates the session. Called only from the abort path.
	Kill() error
}

// Event is a TUI-facing notification emitted during the run; nil TUIEvents
// in Input disables this entirely.
type Event struct {
	Kind       string // "raw_stdout" | "raw_stderr" | "tool_event" | "assistant_output" | "error" | "run_complete"
	Line       string
	ToolEvent  *models.CanonicalEvent
	ExitCode   int
}

// Input configures one run of the session runtime.
type Input struct {
	Session   RunnerSession
	RunID     string
	SessionID string

	ControlCfg config.ControlConfig
	Policy     *toolpolicy.Engine // nil disables policy evaluation entirely

	Silent    bool
	Tee       io.Writer // optional passthrough for the wrapper's own stdout/stderr
	TUIEvents chan<- Event
	State     *statemgr.Manager
	Tracer    *observability.Tracer
}

// Run executes the session runtime loop to completion: spawns pumps and
// the control writer, dispatches incoming lines through the parser and
// policy engine, and on abort or normal exit assembles the RunnerResult
// (spec §4.7).
func Run(ctx context.Context, in Input) (models.RunnerResult, error) {
	if in.Tracer != nil {
		var span trace.Span
		ctx, span = in.Tracer.Start(ctx, "runsession.run")
		defer span.End()
	}

	cfg := in.ControlCfg
	runID := in.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	captureBytes := cfg.CaptureBytes
	if captureBytes <= 0 {
		captureBytes = 65536
	}
	ringOut := ring.New(captureBytes)
	ringErr := ring.New(captureBytes)

	lineTapCap := cfg.LineTapChannelCapacity
	if lineTapCap <= 0 {
		lineTapCap = 256
	}
	lines := make(chan iopump.LineTap, lineTapCap)

	pumpCtx, cancelPumps := context.WithCancel(ctx)
	defer cancelPumps()

	outDone := make(chan struct{})
	errDone := make(chan struct{})
	go func() {
		defer close(outDone)
		_, _ = iopump.Pump(pumpCtx, in.Session.Stdout(), in.Tee, ringOut, lines, in.Silent, iopump.Stdout)
	}()
	go func() {
		defer close(errDone)
		_, _ = iopump.Pump(pumpCtx, in.Session.Stderr(), in.Tee, ringErr, lines, in.Silent, iopump.Stderr)
	}()

	controlCap := cfg.ControlChannelCapacity
	if controlCap <= 0 {
		controlCap = 32
	}
	errCap := cfg.ControlWriterErrorCapacity
	if errCap <= 0 {
		errCap = 1
	}
	ctlCh := make(chan models.ControlCommand, controlCap)
	writer := control.New(ctlCh, in.Session.Stdin(), errCap)
	writerCtx, cancelWriter := context.WithCancel(ctx)
	defer cancelWriter()
	go writer.Run(writerCtx)

	failClosed := cfg.FailMode != "open"
	abortGrace := time.Duration(cfg.AbortGraceMs) * time.Millisecond
	if abortGrace <= 0 {
		abortGrace = 2 * time.Second
	}
	tickInterval := time.Duration(cfg.TickIntervalMs) * time.Millisecond
	if tickInterval <= 0 {
		tickInterval = 500 * time.Millisecond
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	policy := in.Policy
	if policy == nil {
		policy = toolpolicy.New(toolpolicy.Config{Mode: toolpolicy.ModeOff})
	}

	parser := stdiocodec.New(nil)

	startedAt := time.Now()
	r := &runState{
		in:     in,
		runID:  runID,
		policy: policy,
		parser: parser,
		ctlCh:  ctlCh,
	}

	waitCh := make(chan waitResult, 1)
	go func() {
		code, err := in.Session.Wait(ctx)
		waitCh <- waitResult{code: code, err: err}
	}()

	var exit waitResult
	var abortReason string

loop:
	for {
		select {
		case res := <-waitCh:
			exit = res
			break loop

		case err := <-writer.Errs():
			if err != nil {
				if failClosed {
					abortReason = "control channel broken"
					break loop
				}
			}

		case tap, ok := <-lines:
			if !ok {
				continue
			}
			if reason, abort := r.onLine(tap); abort {
				abortReason = reason
				break loop
			}

		case <-ticker.C:
			if outcome := policy.Tick(time.Now()); outcome.Abort {
				abortReason = outcome.Reason
				break loop
			}

		case <-ctx.Done():
			abortReason = "context cancelled"
			break loop
		}
	}

	if abortReason != "" {
		effectiveRunID := r.effectiveRunID()
		sendAbort(ctlCh, effectiveRunID, abortReason)
		select {
		case <-waitCh:
		case <-time.After(abortGrace):
			_ = in.Session.Kill()
		}
		cancelPumps()
		cancelWriter()
		<-outDone
		<-errDone

		durationMs := time.Since(startedAt).Milliseconds()
		r.reportToolEvents()
		r.notify(Event{Kind: "error", Line: abortReason})
		r.notify(Event{Kind: "run_complete", ExitCode: models.RunnerExitAbort})

		return models.RunnerResult{
			RunID:        effectiveRunID,
			ExitCode:     models.RunnerExitAbort,
			DurationMs:   &durationMs,
			StdoutTail:   "",
			StderrTail:   "",
			ToolEvents:   r.events,
			DroppedLines: r.dropped,
		}, nil
	}

	close(ctlCh)
	cancelWriter()
	cancelPumps()
	<-outDone
	<-errDone

	durationMs := time.Since(startedAt).Milliseconds()
	r.reportToolEvents()

	effectiveRunID := r.effectiveRunID()
	r.notify(Event{Kind: "run_complete", ExitCode: exit.code})

	if exit.err != nil {
		return models.RunnerResult{}, exit.err
	}

	return models.RunnerResult{
		RunID:        effectiveRunID,
		ExitCode:     exit.code,
		DurationMs:   &durationMs,
		StdoutTail:   string(ringOut.Bytes()),
		StderrTail:   string(ringErr.Bytes()),
		ToolEvents:   r.events,
		DroppedLines: r.dropped,
	}, nil
}

type waitResult struct {
	code int
	err  error
}

func sendAbort(ctlCh chan models.ControlCommand, runID, reason string) {
	select {
	case ctlCh <- models.ControlCommand{Kind: models.ControlKindPolicyAbort, RunID: runID, Reason: reason}:
	default:
	}
}
