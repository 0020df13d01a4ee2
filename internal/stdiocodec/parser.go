// Package stdiocodec normalizes three distinct vendor stream-JSON dialects
// emitted by wrapped backends into one canonical tool-event schema.
package stdiocodec

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chaorenex1/memex-cli-sub000/pkg/models"
)

// ErrNonJSONLine's text is the Reason of the *ParseError returned when a
// line that is not a JSON value at all is fed to the parser. ParseError does
// not wrap it, so errors.Is does not match it.
var ErrNonJSONLine = errors.New("non_json_line")

const toolEventPrefix = "<<TOOL_EVENT>>"

// ParseError describes a line the parser could not turn into JSON.
type ParseError struct {
	Stream     string
	LinePreview string
	Reason     string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("stdiocodec: parse error on %s: %s (%q)", e.Stream, e.Reason, e.LinePreview)
}

// Parser maintains per-stream state: a pending tool_use_id -> tool_name map,
// a discovered run_id, and a timestamp cache refreshed at most every 50ms.
type Parser struct {
	pending  map[string]string
	runID    string
	lastTS   string
	lastTick time.Time
	nowFn    func() time.Time
}

// New creates a parser. nowFn defaults to time.Now when nil (tests may
// inject a deterministic clock).
func New(nowFn func() time.Time) *Parser {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Parser{pending: map[string]string{}, nowFn: nowFn}
}

// RunID returns the run id discovered so far, if any.
func (p *Parser) RunID() string { return p.runID }

func (p *Parser) timestamp() string {
	now := p.nowFn()
	if p.lastTS == "" || now.Sub(p.lastTick) >= 50*time.Millisecond {
		p.lastTS = now.UTC().Format(time.RFC3339Nano)
		p.lastTick = now
	}
	return p.lastTS
}

// ParseLine parses one complete line (already delimited by the I/O pump)
// from the given stream name ("stdout"/"stderr") and returns zero or more
// canonical events. A line that is valid JSON but an unrecognized shape
// yields no events and no error (per SPEC_FULL.md's Open Question
// decision: never re-labeled as a raw line). A line that isn't JSON at all
// yields a *ParseError.
func (p *Parser) ParseLine(stream, line string) ([]models.CanonicalEvent, error) {
	s := line
	if len(s) >= len(toolEventPrefix) && s[:len(toolEventPrefix)] == toolEventPrefix {
		s = s[len(toolEventPrefix):]
	}

	trimmed := trimLeadingSpace(s)
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return nil, &ParseError{Stream: stream, LinePreview: preview(line), Reason: ErrNonJSONLine.Error()}
	}

	var events []models.CanonicalEvent
	dec := json.NewDecoder(stringsReader(trimmed))
	for {
		var raw map[string]json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			if isEOFLike(err) {
				break
			}
			return events, &ParseError{Stream: stream, LinePreview: preview(line), Reason: err.Error()}
		}
		p.captureRunID(raw)
		ev, ok := p.dispatch(raw)
		if ok {
			ev.V = models.CanonicalEventSchemaVersion
			ev.TS = p.timestamp()
			ev.RunID = p.runID
			events = append(events, ev)
		}
	}
	return events, nil
}

func (p *Parser) captureRunID(raw map[string]json.RawMessage) {
	if p.runID != "" {
		return
	}
	for _, key := range []string{"session_id", "run_id", "conversation_id"} {
		if v, ok := raw[key]; ok {
			var s string
			if err := json.Unmarshal(v, &s); err == nil && s != "" {
				p.runID = s
				return
			}
		}
	}
}

func str(raw map[string]json.RawMessage, key string) string {
	v, ok := raw[key]
	if !ok {
		return ""
	}
	var s string
	_ = json.Unmarshal(v, &s)
	return s
}

func boolPtr(b bool) *bool { return &b }

// dispatch maps one decoded JSON object to a canonical event per the
// dialect table in spec.md §4.3. Returns ok=false for unrecognized shapes.
func (p *Parser) dispatch(raw map[string]json.RawMessage) (models.CanonicalEvent, bool) {
	typ := str(raw, "type")

	switch typ {
	case "system":
		return models.CanonicalEvent{
			EventType: models.EventStart,
			Action:    str(raw, "subtype"),
		}, true

	case "result":
		isErr := false
		if v, ok := raw["is_error"]; ok {
			_ = json.Unmarshal(v, &isErr)
		}
		ok := !isErr
		return models.CanonicalEvent{
			EventType: models.EventEnd,
			Action:    str(raw, "subtype"),
			Ok:        boolPtr(ok),
			Output:    raw["result"],
		}, true

	case "assistant":
		return p.dispatchAssistantMessage(raw)

	case "user":
		return p.dispatchUserMessage(raw)

	case "text":
		return models.CanonicalEvent{
			EventType: models.AssistantOutput,
			Output:    raw["text"],
		}, true

	case "thinking":
		return models.CanonicalEvent{
			EventType: models.AssistantReasoning,
			Output:    raw["thinking"],
		}, true

	case "init", "turn.started":
		return models.CanonicalEvent{EventType: models.EventStart}, true

	case "turn.completed":
		return models.CanonicalEvent{
			EventType: models.EventEnd,
			Ok:        boolPtr(true),
			Output:    raw["usage"],
		}, true

	case "item.started", "item.completed", "item.updated":
		return p.dispatchItem(raw, typ)
	}

	return models.CanonicalEvent{}, false
}

func (p *Parser) dispatchAssistantMessage(raw map[string]json.RawMessage) (models.CanonicalEvent, bool) {
	var msg struct {
		Content []struct {
			Type  string          `json:"type"`
			ID    string          `json:"id"`
			Name  string          `json:"name"`
			Input json.RawMessage `json:"input"`
		} `json:"content"`
	}
	if v, ok := raw["message"]; ok {
		_ = json.Unmarshal(v, &msg)
	}
	for _, c := range msg.Content {
		if c.Type == "tool_use" {
			p.pending[c.ID] = c.Name
			return models.CanonicalEvent{
				EventType: models.ToolRequest,
				ID:        c.ID,
				Tool:      c.Name,
				Args:      c.Input,
			}, true
		}
	}
	return models.CanonicalEvent{}, false
}

func (p *Parser) dispatchUserMessage(raw map[string]json.RawMessage) (models.CanonicalEvent, bool) {
	var msg struct {
		Content []struct {
			Type       string          `json:"type"`
			ToolUseID  string          `json:"tool_use_id"`
			Content    json.RawMessage `json:"content"`
		} `json:"content"`
	}
	if v, ok := raw["message"]; ok {
		_ = json.Unmarshal(v, &msg)
	}
	for _, c := range msg.Content {
		if c.Type == "tool_result" {
			tool := p.pending[c.ToolUseID]
			return models.CanonicalEvent{
				EventType: models.ToolResult,
				ID:        c.ToolUseID,
				Tool:      tool,
				Output:    c.Content,
				Ok:        boolPtr(true),
			}, true
		}
	}
	return models.CanonicalEvent{}, false
}

func (p *Parser) dispatchItem(raw map[string]json.RawMessage, typ string) (models.CanonicalEvent, bool) {
	var itemRaw map[string]json.RawMessage
	if v, ok := raw["item"]; ok {
		_ = json.Unmarshal(v, &itemRaw)
	}
	if itemRaw == nil {
		return models.CanonicalEvent{}, false
	}
	itemType := str(itemRaw, "type")

	switch itemType {
	case "mcp_tool_call":
		if typ == "item.started" {
			id := str(itemRaw, "id")
			tool := str(itemRaw, "tool")
			p.pending[id] = tool
			return models.CanonicalEvent{
				EventType: models.ToolRequest,
				ID:        id,
				Tool:      str(itemRaw, "server"),
				Action:    tool,
				Args:      itemRaw["arguments"],
			}, true
		}
		status := str(itemRaw, "status")
		return models.CanonicalEvent{
			EventType: models.ToolResult,
			Ok:        boolPtr(status == "completed"),
			Output:    itemRaw["result"],
			Error:     str(itemRaw, "error"),
		}, true

	case "agent_message":
		return models.CanonicalEvent{
			EventType: models.AssistantOutput,
			Output:    itemRaw["text"],
		}, true

	case "reasoning":
		return models.CanonicalEvent{
			EventType: models.AssistantReasoning,
			Output:    itemRaw["text"],
		}, true

	case "command_execution":
		id := str(itemRaw, "id")
		if id == "" {
			id = str(raw, "id")
		}
		if typ == "item.started" {
			p.pending[id] = "command_execution"
			return models.CanonicalEvent{
				EventType: models.ToolRequest,
				ID:        id,
				Tool:      "command_execution",
				Args:      itemRaw["command"],
			}, true
		}
		var exitCode int
		if v, ok := itemRaw["exit_code"]; ok {
			_ = json.Unmarshal(v, &exitCode)
		}
		return models.CanonicalEvent{
			EventType: models.ToolResult,
			ID:        id,
			Tool:      "command_execution",
			Ok:        boolPtr(exitCode == 0),
			Output:    itemRaw["aggregated_output"],
		}, true
	}

	return models.CanonicalEvent{}, false
}
