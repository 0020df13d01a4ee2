// Package stdiotask parses the STDIO multi-task submission format: a
// sequence of ---TASK--- header / ---CONTENT--- body / ---END--- blocks
// read from a single input stream, producing the task list a DAG build
// (internal/taskgraph) consumes.
package stdiotask

import (
	"bufio"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chaorenex1/memex-cli-sub000/pkg/models"
)

const (
	markerTask    = "---TASK---"
	markerContent = "---CONTENT---"
	markerEnd     = "---END---"
)

// recognizedKeys are the only header keys the standard parser accepts;
// anything else is a format error naming the offending line.
var recognizedKeys = map[string]bool{
	"id":             true,
	"backend":        true,
	"workdir":        true,
	"model":          true,
	"model-provider": true,
	"dependencies":   true,
	"stream-format":  true,
	"timeout":        true,
	"retry":          true,
	"files":          true,
	"files-mode":     true,
	"files-encoding": true,
}

type parserState int

const (
	stateBetweenTasks parserState = iota
	stateHeader
	stateContent
)

// ParseTasks parses a multi-task submission. It accumulates every format
// error found across all task blocks rather than stopping at the first,
// returning them together as a ParseErrors once parsing completes.
func ParseTasks(input string) ([]models.Task, error) {
	scanner := bufio.NewScanner(strings.NewReader(input))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var (
		tasks   []models.Task
		errs    ParseErrors
		state   = stateBetweenTasks
		lineNo  int
		headers map[string]string
		content strings.Builder
		taskLn  int
	)

	flushTask := func(endLn int) {
		task, taskErrs := buildTask(headers, content.String(), taskLn)
		errs = append(errs, taskErrs...)
		if len(taskErrs) == 0 {
			tasks = append(tasks, task)
		}
		_ = endLn
	}

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		trimmed := strings.TrimRight(line, "\r")

		switch state {
		case stateBetweenTasks:
			if trimmed == markerTask {
				state = stateHeader
				headers = make(map[string]string)
				content.Reset()
				taskLn = lineNo
			} else if strings.TrimSpace(trimmed) != "" {
				errs = append(errs, parseErr(lineNo, "unexpected content before %q marker", markerTask))
			}

		case stateHeader:
			switch trimmed {
			case markerContent:
				state = stateContent
			case markerTask:
				errs = append(errs, parseErr(lineNo, "nested %q marker before %q", markerTask, markerContent))
			default:
				if strings.TrimSpace(trimmed) == "" {
					continue
				}
				key, val, ok := splitHeaderLine(trimmed)
				if !ok {
					errs = append(errs, parseErr(lineNo, "malformed header line %q (expected \"key: value\")", trimmed))
					continue
				}
				if !recognizedKeys[key] {
					errs = append(errs, parseErr(lineNo, "unrecognized header key %q", key))
					continue
				}
				headers[key] = val
			}

		case stateContent:
			if trimmed == markerEnd {
				flushTask(lineNo)
				state = stateBetweenTasks
			} else {
				if content.Len() > 0 {
					content.WriteByte('\n')
				}
				content.WriteString(line)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, parseErr(lineNo, "read input: %v", err)
	}

	switch state {
	case stateHeader:
		errs = append(errs, parseErr(lineNo, "input ended inside a task header, missing %q", markerContent))
	case stateContent:
		errs = append(errs, parseErr(lineNo, "input ended inside task content, missing %q", markerEnd))
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return tasks, nil
}

func splitHeaderLine(line string) (key, value string, ok bool) {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return "", "", false
	}
	key = strings.ToLower(strings.TrimSpace(line[:idx]))
	value = strings.TrimSpace(line[idx+1:])
	if key == "" {
		return "", "", false
	}
	return key, value, true
}

func buildTask(headers map[string]string, content string, ln int) (models.Task, ParseErrors) {
	var errs ParseErrors

	t := models.Task{
		ID:            headers["id"],
		Backend:       headers["backend"],
		Workdir:       headers["workdir"],
		Model:         headers["model"],
		ModelProvider: headers["model-provider"],
		Retry:         headers["retry"],
		Content:       content,
		StreamFormat:  "text",
		FilesMode:     models.FilesModeAuto,
		FilesEncoding: models.FilesEncodingAuto,
	}

	if t.ID == "" {
		t.ID = generateTaskID()
	}
	if t.Backend == "" {
		errs = append(errs, validationErr(ln, "task %s: missing required header %q", t.ID, "backend"))
	}
	if t.Workdir == "" {
		errs = append(errs, validationErr(ln, "task %s: missing required header %q", t.ID, "workdir"))
	}

	if deps := headers["dependencies"]; deps != "" {
		for _, d := range strings.Split(deps, ",") {
			if d = strings.TrimSpace(d); d != "" {
				t.Dependencies = append(t.Dependencies, d)
			}
		}
	}

	if sf := headers["stream-format"]; sf != "" {
		if sf != "text" && sf != "jsonl" {
			errs = append(errs, validationErr(ln, "task %s: invalid stream-format %q (want text|jsonl)", t.ID, sf))
		} else {
			t.StreamFormat = sf
		}
	}

	if to := headers["timeout"]; to != "" {
		secs, err := strconv.Atoi(to)
		if err != nil || secs < 0 {
			errs = append(errs, validationErr(ln, "task %s: invalid timeout %q (want non-negative seconds)", t.ID, to))
		} else {
			t.Timeout = time.Duration(secs) * time.Second
		}
	}

	if files := headers["files"]; files != "" {
		for _, f := range strings.Split(files, ",") {
			if f = strings.TrimSpace(f); f != "" {
				t.Files = append(t.Files, f)
			}
		}
	}

	if fm := headers["files-mode"]; fm != "" {
		switch models.FilesMode(fm) {
		case models.FilesModeEmbed, models.FilesModeRef, models.FilesModeAuto:
			t.FilesMode = models.FilesMode(fm)
		default:
			errs = append(errs, validationErr(ln, "task %s: invalid files-mode %q", t.ID, fm))
		}
	}

	if fe := headers["files-encoding"]; fe != "" {
		switch models.FilesEncoding(fe) {
		case models.FilesEncodingUTF8, models.FilesEncodingBase64, models.FilesEncodingAuto:
			t.FilesEncoding = models.FilesEncoding(fe)
		default:
			errs = append(errs, validationErr(ln, "task %s: invalid files-encoding %q", t.ID, fe))
		}
	}

	return t, errs
}

// generateTaskID mints an id for a task block that omitted one.
func generateTaskID() string {
	return "task-" + uuid.NewString()[:8]
}
