package runengine

import (
	"context"
	"fmt"

	"github.com/chaorenex1/memex-cli-sub000/internal/config"
	"github.com/chaorenex1/memex-cli-sub000/internal/observability"
	"github.com/chaorenex1/memex-cli-sub000/internal/runsession"
	"github.com/chaorenex1/memex-cli-sub000/internal/statemgr"
	"github.com/chaorenex1/memex-cli-sub000/internal/toolpolicy"
	"github.com/chaorenex1/memex-cli-sub000/pkg/models"
)

// SessionLoopOptions carries the runsession.Input fields a caller wants
// applied to every session this loop runs, beyond what RunWithQuery fills
// in per-call (Session, RunID, CaptureBytes, StreamFormat).
type SessionLoopOptions struct {
	ControlCfg config.ControlConfig
	Policy     *toolpolicy.Engine
	Silent     bool
	State      *statemgr.Manager
	Tracer     *observability.Tracer
	// TUIEvents, when non-nil, receives every raw line and tool event the
	// session observes (see runsession.Event); a full channel drops events
	// rather than blocking the run.
	TUIEvents chan<- runsession.Event
}

// NewSessionLoop adapts runsession.Run into a SessionLoopFunc: the Session
// opaque handle RunWithQuery hands back must be a runsession.RunnerSession,
// which every RunnerPlugin in this module (runnerplugin.Subprocess,
// runnerplugin.HTTPStream) satisfies.
func NewSessionLoop(opts SessionLoopOptions) SessionLoopFunc {
	return func(ctx context.Context, input RunSessionInput) (models.RunnerResult, error) {
		rs, ok := input.Session.(runsession.RunnerSession)
		if !ok {
			return models.RunnerResult{}, fmt.Errorf("runengine: session %T does not implement runsession.RunnerSession", input.Session)
		}

		cfg := opts.ControlCfg
		if input.CaptureBytes > 0 {
			cfg.CaptureBytes = input.CaptureBytes
		}

		return runsession.Run(ctx, runsession.Input{
			Session:    rs,
			RunID:      input.RunID,
			ControlCfg: cfg,
			Policy:     opts.Policy,
			Silent:     opts.Silent,
			State:      opts.State,
			Tracer:     opts.Tracer,
			TUIEvents:  opts.TUIEvents,
		})
	}
}
