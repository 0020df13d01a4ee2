// Package sink forwards parsed events to stdio, SSE, TUI, or websocket
// consumers, all behind a single Emit(Event) contract.
package sink

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/chaorenex1/memex-cli-sub000/internal/iopump"
	"github.com/chaorenex1/memex-cli-sub000/pkg/models"
)

// Event is either a RawLine or a ToolEvent, per spec.md §4.4.
type Event struct {
	Raw  *RawLine
	Tool *models.CanonicalEvent
}

// RawLine is an unparsed line tapped from a child pipe.
type RawLine struct {
	Stream iopump.Stream
	Text   string
}

const stderrPreviewLimit = 2000

// Sink is the single-method contract all output consumers implement.
type Sink interface {
	Emit(Event) error
}

// StdioSink writes raw lines to stdout/stderr and tool events as compact
// JSON with a trailing newline. Stderr raw lines are preview-truncated.
// Color, when true, wraps stderr lines and tool event JSON in ANSI escapes —
// callers should only set it when the destination is an actual terminal.
type StdioSink struct {
	Stdout io.Writer
	Stderr io.Writer
	Color  bool
}

const (
	ansiRed  = "\x1b[31m"
	ansiCyan = "\x1b[36m"
	ansiDone = "\x1b[0m"
)

func (s *StdioSink) Emit(e Event) error {
	if e.Raw != nil {
		text := e.Raw.Text
		w := s.Stdout
		if e.Raw.Stream == iopump.Stderr {
			w = s.Stderr
			if len(text) > stderrPreviewLimit {
				text = text[:stderrPreviewLimit] + "...(truncated)"
			}
			if s.Color {
				text = ansiRed + text + ansiDone
			}
		}
		if w == nil {
			return nil
		}
		_, err := fmt.Fprintln(w, text)
		return err
	}
	if e.Tool != nil {
		if s.Stdout == nil {
			return nil
		}
		b, err := json.Marshal(e.Tool)
		if err != nil {
			return err
		}
		line := string(b)
		if s.Color {
			line = ansiCyan + line + ansiDone
		}
		_, err = fmt.Fprintln(s.Stdout, line)
		return err
	}
	return nil
}

// SSESink emits Server-Sent-Events framing: "event:" and "data:" lines,
// multi-line payloads split across multiple "data:" lines, terminated by a
// blank line.
type SSESink struct {
	W *bufio.Writer
}

func (s *SSESink) Emit(e Event) error {
	var eventName, payload string
	if e.Raw != nil {
		eventName = "line." + string(e.Raw.Stream)
		payload = e.Raw.Text
	} else if e.Tool != nil {
		eventName = string(e.Tool.EventType)
		b, err := json.Marshal(e.Tool)
		if err != nil {
			return err
		}
		payload = string(b)
	} else {
		return nil
	}

	if _, err := fmt.Fprintf(s.W, "event: %s\n", eventName); err != nil {
		return err
	}
	for _, line := range strings.Split(payload, "\n") {
		if _, err := fmt.Fprintf(s.W, "data: %s\n", line); err != nil {
			return err
		}
	}
	if _, err := s.W.WriteString("\n"); err != nil {
		return err
	}
	return s.W.Flush()
}

// TUISink forwards events to a bounded channel consumed by a terminal UI.
// assistant.output events are duplicated onto a dedicated Assistant channel.
type TUISink struct {
	Events     chan<- Event
	Assistant  chan<- string
}

func (s *TUISink) Emit(e Event) error {
	select {
	case s.Events <- e:
	default:
		return fmt.Errorf("sink: tui events channel full")
	}
	if e.Tool != nil && e.Tool.EventType == models.AssistantOutput && s.Assistant != nil {
		var text string
		_ = json.Unmarshal(e.Tool.Output, &text)
		select {
		case s.Assistant <- text:
		default:
		}
	}
	return nil
}
