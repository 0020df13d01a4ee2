package runnerplugin

import (
	"bufio"
	"context"
	"testing"
	"time"

	"github.com/chaorenex1/memex-cli-sub000/pkg/models"
)

func TestSubprocessStartSessionEchoesStdout(t *testing.T) {
	plugin := New("codecli", "")
	sess, err := plugin.StartSession(context.Background(), models.RunnerStartArgs{
		Cmd:  "/bin/sh",
		Args: []string{"-c", "echo hello"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	concrete := sess.(*session)

	scanner := bufio.NewScanner(concrete.Stdout())
	if !scanner.Scan() {
		t.Fatal("expected a line on stdout")
	}
	if got := scanner.Text(); got != "hello" {
		t.Fatalf("expected %q, got %q", "hello", got)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	code, err := concrete.Wait(ctx)
	if err != nil {
		t.Fatalf("unexpected wait error: %v", err)
	}
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
}

func TestSubprocessStartSessionNonZeroExit(t *testing.T) {
	plugin := New("codecli", "")
	sess, err := plugin.StartSession(context.Background(), models.RunnerStartArgs{
		Cmd:  "/bin/sh",
		Args: []string{"-c", "exit 3"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	concrete := sess.(*session)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	code, err := concrete.Wait(ctx)
	if err != nil {
		t.Fatalf("unexpected wait error: %v", err)
	}
	if code != 3 {
		t.Fatalf("expected exit 3, got %d", code)
	}
}
