package runengine

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/chaorenex1/memex-cli-sub000/internal/memorysync"
	"github.com/chaorenex1/memex-cli-sub000/internal/statemgr"
	"github.com/chaorenex1/memex-cli-sub000/internal/wrapperevents"
	"github.com/chaorenex1/memex-cli-sub000/pkg/models"
)

type fakeRunner struct {
	name    string
	started models.RunnerStartArgs
}

func (f *fakeRunner) Name() string { return f.name }
func (f *fakeRunner) StartSession(_ context.Context, args models.RunnerStartArgs) (Session, error) {
	f.started = args
	return "fake-session", nil
}

type fakeStrategy struct {
	runner *fakeRunner
}

func (s *fakeStrategy) Plan(req BackendPlanRequest) (RunnerPlugin, models.RunnerStartArgs, error) {
	return s.runner, models.RunnerStartArgs{Cmd: "codecli", Args: []string{"run", req.Prompt}}, nil
}

type memBuf struct {
	mu    sync.Mutex
	lines []string
}

func (m *memBuf) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = append(m.lines, string(p))
	return len(p), nil
}

func (m *memBuf) all() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return strings.Join(m.lines, "")
}

func TestRunWithQueryNoMemoryHappyPath(t *testing.T) {
	buf := &memBuf{}
	w := wrapperevents.Start(wrapperevents.Config{ChannelCapacity: 16}, buf)

	e := New(DefaultConfig(), nil, nil, nil, nil)

	runner := &fakeRunner{name: "codecli"}
	var gotRunID string
	loop := func(_ context.Context, input RunSessionInput) (models.RunnerResult, error) {
		gotRunID = input.RunID
		return models.RunnerResult{RunID: input.RunID, ExitCode: 0, StdoutTail: "all good"}, nil
	}

	outcome, err := e.RunWithQuery(context.Background(), RunQueryArgs{
		UserQuery: "deploy the service",
		Runner:    RunnerSpec{Strategy: &fakeStrategy{runner: runner}},
		RunID:     "run-abc",
		EventsOut: w,
	}, loop)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.ExitCode != 0 {
		t.Fatalf("expected exit 0, got %d", outcome.ExitCode)
	}
	if gotRunID != "run-abc" {
		t.Fatalf("expected run id threaded through, got %q", gotRunID)
	}
	if runner.started.Cmd != "codecli" {
		t.Fatalf("expected runner to be started with resolved args, got %+v", runner.started)
	}

	w.Close()
	flushed := buf.all()
	for _, want := range []string{`"run.start"`, `"run.end"`, `"gatekeeper.decision"`} {
		if !strings.Contains(flushed, want) {
			t.Fatalf("expected flushed events to contain %s, got %s", want, flushed)
		}
	}
}

func TestRunWithQueryMemorySearchInjectsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/qa/search":
			json.NewEncoder(w).Encode(map[string]any{
				"matches": []models.SearchMatch{
					{QAID: "qa-1", Question: "how to deploy", Answer: "use kubectl apply", Trust: 0.9, ValidationLevel: 2, Score: 0.95, Status: "active"},
				},
			})
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	mem := memorysync.New(memorysync.Config{BaseURL: srv.URL}, nil)
	e := New(DefaultConfig(), mem, nil, nil, nil)

	runner := &fakeRunner{name: "codecli"}
	var seenPrompt string
	strategy := &fakeStrategy{runner: runner}
	loop := func(_ context.Context, input RunSessionInput) (models.RunnerResult, error) {
		return models.RunnerResult{RunID: input.RunID, ExitCode: 0, StdoutTail: "done, see [[qa:qa-1]]"}, nil
	}

	_, err := e.RunWithQuery(context.Background(), RunQueryArgs{
		UserQuery: "how to deploy",
		Runner:    RunnerSpec{Strategy: strategy},
		RunID:     "run-1",
	}, loop)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	seenPrompt = runner.started.Args[len(runner.started.Args)-1]
	if !strings.Contains(seenPrompt, "qa-1") {
		t.Fatalf("expected merged prompt to carry memory context, got %q", seenPrompt)
	}
}

func TestRunWithQueryPlanFailureFlushesBuffered(t *testing.T) {
	buf := &memBuf{}
	w := wrapperevents.Start(wrapperevents.Config{ChannelCapacity: 16}, buf)

	e := New(DefaultConfig(), nil, nil, nil, nil)
	strategy := &erroringStrategy{}

	_, err := e.RunWithQuery(context.Background(), RunQueryArgs{
		UserQuery: "q",
		Runner:    RunnerSpec{Strategy: strategy},
		RunID:     "run-err",
		EventsOut: w,
	}, func(context.Context, RunSessionInput) (models.RunnerResult, error) {
		t.Fatal("session loop should not run when plan resolution fails")
		return models.RunnerResult{}, nil
	})
	if err == nil {
		t.Fatal("expected error")
	}

	w.Close()
	if !strings.Contains(buf.all(), `"run-err"`) {
		t.Fatalf("expected buffered events flushed with configured run_id, got %s", buf.all())
	}
}

type erroringStrategy struct{}

func (erroringStrategy) Plan(BackendPlanRequest) (RunnerPlugin, models.RunnerStartArgs, error) {
	return nil, models.RunnerStartArgs{}, errors.New("plan failed")
}

func TestRunWithQueryTracksSessionLifecycle(t *testing.T) {
	mgr := statemgr.New(statemgr.CleanupPolicy{})
	e := New(DefaultConfig(), nil, mgr, nil, nil)

	runner := &fakeRunner{name: "codecli"}
	loop := func(_ context.Context, input RunSessionInput) (models.RunnerResult, error) {
		return models.RunnerResult{RunID: input.RunID, ExitCode: 0}, nil
	}

	_, err := e.RunWithQuery(context.Background(), RunQueryArgs{
		UserQuery: "q",
		Runner:    RunnerSpec{Strategy: &fakeStrategy{runner: runner}},
		RunID:     "run-2",
		SessionID: "sess-2",
	}, loop)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	state, ok := mgr.Get("sess-2")
	if !ok {
		t.Fatal("expected session tracked")
	}
	if state.Status != models.StatusCompleted {
		t.Fatalf("expected completed status, got %v", state.Status)
	}
}
