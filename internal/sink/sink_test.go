package sink

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/chaorenex1/memex-cli-sub000/internal/iopump"
	"github.com/chaorenex1/memex-cli-sub000/pkg/models"
)

func TestStdioSinkWritesRawLineToStdout(t *testing.T) {
	var out, errw bytes.Buffer
	s := &StdioSink{Stdout: &out, Stderr: &errw}

	if err := s.Emit(Event{Raw: &RawLine{Stream: iopump.Stdout, Text: "hello"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.String() != "hello\n" {
		t.Fatalf("stdout = %q", out.String())
	}
}

func TestStdioSinkTruncatesLongStderr(t *testing.T) {
	var out, errw bytes.Buffer
	s := &StdioSink{Stdout: &out, Stderr: &errw}

	long := strings.Repeat("x", stderrPreviewLimit+500)
	if err := s.Emit(Event{Raw: &RawLine{Stream: iopump.Stderr, Text: long}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(errw.String(), "...(truncated)") {
		t.Fatalf("expected truncation marker")
	}
}

func TestStdioSinkWritesToolEventAsJSON(t *testing.T) {
	var out bytes.Buffer
	s := &StdioSink{Stdout: &out}

	ev := &models.CanonicalEvent{EventType: models.AssistantOutput}
	if err := s.Emit(Event{Tool: ev}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), `"event_type":"assistant.output"`) {
		t.Fatalf("unexpected json: %s", out.String())
	}
}

func TestSSESinkFramesMultilinePayload(t *testing.T) {
	var buf bytes.Buffer
	s := &SSESink{W: bufio.NewWriter(&buf)}

	if err := s.Emit(Event{Raw: &RawLine{Stream: iopump.Stdout, Text: "line1\nline2"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := buf.String()
	if !strings.Contains(got, "data: line1\n") || !strings.Contains(got, "data: line2\n") {
		t.Fatalf("missing data lines: %s", got)
	}
	if !strings.HasSuffix(got, "\n\n") {
		t.Fatalf("expected trailing blank line, got %q", got)
	}
}

func TestTUISinkDuplicatesAssistantOutput(t *testing.T) {
	events := make(chan Event, 1)
	assistant := make(chan string, 1)
	s := &TUISink{Events: events, Assistant: assistant}

	out := []byte(`"hi there"`)
	ev := &models.CanonicalEvent{EventType: models.AssistantOutput, Output: out}
	if err := s.Emit(Event{Tool: ev}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case got := <-assistant:
		if got != "hi there" {
			t.Fatalf("assistant channel got %q", got)
		}
	default:
		t.Fatalf("expected a message on assistant channel")
	}
}
