package runengine

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/chaorenex1/memex-cli-sub000/pkg/models"
)

// ReplayRun re-parses a previously recorded wrapper-event stream (one
// models.WrapperEvent per line, as written by wrapperevents.Writer) and
// reconstructs the RunnerResult it described, for offline debugging
// without re-invoking a backend. Ported from the run-aggregation half of
// core/src/replay/cmd.rs; the gatekeeper-rerun/diff half is out of scope
// here since it depends on config and gatekeeper state the event file
// does not carry.
func ReplayRun(wrapperEventFile string) (*models.RunnerResult, error) {
	f, err := os.Open(wrapperEventFile)
	if err != nil {
		return nil, fmt.Errorf("open wrapper event file: %w", err)
	}
	defer f.Close()

	var result models.RunnerResult
	sawRunEnd := false

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev models.WrapperEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("parse wrapper event line: %w", err)
		}

		switch ev.Type {
		case models.WrapperRunStart:
			if ev.RunID != "" {
				result.RunID = ev.RunID
			}
		case models.WrapperTeeDrop:
			var data struct {
				DroppedLines uint64 `json:"dropped_lines"`
			}
			if err := json.Unmarshal(ev.Data, &data); err == nil {
				result.DroppedLines = data.DroppedLines
			}
		case models.WrapperRunEnd:
			var data struct {
				ExitCode   int    `json:"exit_code"`
				DurationMs *int64 `json:"duration_ms"`
				StdoutTail string `json:"stdout_tail"`
				StderrTail string `json:"stderr_tail"`
			}
			if err := json.Unmarshal(ev.Data, &data); err != nil {
				return nil, fmt.Errorf("parse run.end event: %w", err)
			}
			result.ExitCode = data.ExitCode
			result.DurationMs = data.DurationMs
			result.StdoutTail = data.StdoutTail
			result.StderrTail = data.StderrTail
			if ev.RunID != "" {
				result.RunID = ev.RunID
			}
			sawRunEnd = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan wrapper event file: %w", err)
	}
	if !sawRunEnd {
		return nil, fmt.Errorf("wrapper event file %s has no run.end event", wrapperEventFile)
	}
	return &result, nil
}
