package runsession

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/chaorenex1/memex-cli-sub000/internal/config"
	"github.com/chaorenex1/memex-cli-sub000/internal/toolpolicy"
	"github.com/chaorenex1/memex-cli-sub000/pkg/models"
)

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

type fakeSession struct {
	stdout   io.Reader
	stderr   io.Reader
	stdin    *bytes.Buffer
	exitCode int
	waitErr  error
	waited   chan struct{}
	killed   bool
}

func newFakeSession(stdout string) *fakeSession {
	return &fakeSession{
		stdout: strings.NewReader(stdout),
		stderr: strings.NewReader(""),
		stdin:  &bytes.Buffer{},
		waited: make(chan struct{}),
	}
}

func (f *fakeSession) Stdout() io.Reader      { return f.stdout }
func (f *fakeSession) Stderr() io.Reader      { return f.stderr }
func (f *fakeSession) Stdin() io.WriteCloser  { return nopCloser{f.stdin} }
func (f *fakeSession) Kill() error            { f.killed = true; return nil }
func (f *fakeSession) Wait(ctx context.Context) (int, error) {
	<-f.waited
	return f.exitCode, f.waitErr
}

func TestRunHappyPathAssemblesResult(t *testing.T) {
	line := `{"type":"assistant","message":{"content":[{"type":"tool_use","id":"t1","name":"shell.exec","input":{}}]},"session_id":"run-xyz"}` + "\n"
	sess := newFakeSession(line)
	go func() {
		time.Sleep(30 * time.Millisecond)
		close(sess.waited)
	}()

	result, err := Run(context.Background(), Input{
		Session:    sess,
		RunID:      "run-local",
		ControlCfg: config.DefaultControlConfig(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.RunID != "run-xyz" {
		t.Fatalf("expected backend-reported run id to win, got %q", result.RunID)
	}
	if len(result.ToolEvents) != 1 || result.ToolEvents[0].Tool != "shell.exec" {
		t.Fatalf("expected one tool.request event, got %+v", result.ToolEvents)
	}
}

func TestRunPolicyDenyWritesControlCommandWithoutAbort(t *testing.T) {
	line := `{"type":"assistant","message":{"content":[{"type":"tool_use","id":"r1","name":"shell.exec","input":{}}]}}` + "\n"
	sess := newFakeSession(line)
	go func() {
		time.Sleep(30 * time.Millisecond)
		close(sess.waited)
	}()

	policy := toolpolicy.New(toolpolicy.Config{
		Mode: toolpolicy.ModeAuto,
		Deny: []models.PolicyRule{{Tool: "shell.exec", Reason: "denied by policy"}},
	})

	result, err := Run(context.Background(), Input{
		Session:    sess,
		RunID:      "run-deny",
		ControlCfg: config.DefaultControlConfig(),
		Policy:     policy,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ExitCode == models.RunnerExitAbort {
		t.Fatal("policy deny should not abort the session")
	}

	time.Sleep(10 * time.Millisecond)
	var cmd models.ControlCommand
	if decErr := json.Unmarshal(bytes.TrimSpace(sess.stdin.Bytes()), &cmd); decErr != nil {
		t.Fatalf("expected a decoded control command on stdin, got %q: %v", sess.stdin.String(), decErr)
	}
	if cmd.Decision != "deny" || cmd.ID != "r1" {
		t.Fatalf("expected deny decision for r1, got %+v", cmd)
	}
}

func TestRunAbortsOnContextCancellation(t *testing.T) {
	sess := newFakeSession("")
	ctx, cancel := context.WithCancel(context.Background())

	cfg := config.DefaultControlConfig()
	cfg.AbortGraceMs = 20

	done := make(chan struct{})
	var result models.RunnerResult
	go func() {
		result, _ = Run(ctx, Input{
			Session:    sess,
			RunID:      "run-cancel",
			ControlCfg: cfg,
		})
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
	close(sess.waited)

	if result.ExitCode != models.RunnerExitAbort {
		t.Fatalf("expected abort exit code, got %d", result.ExitCode)
	}
	if !sess.killed {
		t.Fatal("expected session to be killed after abort grace period")
	}
}
