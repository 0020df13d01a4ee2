package stdiotask

import (
	"strings"
	"testing"
)

func TestParseTasksSingleBlock(t *testing.T) {
	input := strings.Join([]string{
		"---TASK---",
		"id: example",
		"backend: codex",
		"workdir: /tmp",
		"stream-format: jsonl",
		"timeout: 30",
		"---CONTENT---",
		`echo "hello"`,
		"---END---",
	}, "\n")

	tasks, err := ParseTasks(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}
	task := tasks[0]
	if task.ID != "example" || task.Backend != "codex" || task.Workdir != "/tmp" {
		t.Fatalf("unexpected task: %+v", task)
	}
	if task.StreamFormat != "jsonl" {
		t.Fatalf("expected jsonl stream format, got %s", task.StreamFormat)
	}
	if task.Content != `echo "hello"` {
		t.Fatalf("unexpected content: %q", task.Content)
	}
}

func TestParseTasksMultipleBlocksWithDependencies(t *testing.T) {
	input := strings.Join([]string{
		"---TASK---",
		"id: a",
		"backend: claude",
		"workdir: .",
		"---CONTENT---",
		"first",
		"---END---",
		"---TASK---",
		"id: b",
		"backend: claude",
		"workdir: .",
		"dependencies: a",
		"---CONTENT---",
		"second",
		"---END---",
	}, "\n")

	tasks, err := ParseTasks(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	if len(tasks[1].Dependencies) != 1 || tasks[1].Dependencies[0] != "a" {
		t.Fatalf("expected dependency on a, got %v", tasks[1].Dependencies)
	}
}

func TestParseTasksRejectsUnknownHeaderKey(t *testing.T) {
	input := strings.Join([]string{
		"---TASK---",
		"id: a",
		"backend: claude",
		"workdir: .",
		"bogus-key: nope",
		"---CONTENT---",
		"x",
		"---END---",
	}, "\n")

	_, err := ParseTasks(input)
	if err == nil {
		t.Fatal("expected error for unrecognized header key")
	}
	perrs, ok := err.(ParseErrors)
	if !ok || len(perrs) == 0 {
		t.Fatalf("expected ParseErrors, got %T: %v", err, err)
	}
	if perrs[0].Code != ErrCodeParse {
		t.Fatalf("expected parse error code, got %d", perrs[0].Code)
	}
}

func TestParseTasksRejectsMissingRequiredHeaders(t *testing.T) {
	input := strings.Join([]string{
		"---TASK---",
		"id: a",
		"---CONTENT---",
		"x",
		"---END---",
	}, "\n")

	_, err := ParseTasks(input)
	if err == nil {
		t.Fatal("expected error for missing backend/workdir")
	}
}

func TestParseTasksGeneratesIDWhenOmitted(t *testing.T) {
	input := strings.Join([]string{
		"---TASK---",
		"backend: claude",
		"workdir: .",
		"---CONTENT---",
		"x",
		"---END---",
	}, "\n")

	tasks, err := ParseTasks(input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tasks[0].ID == "" {
		t.Fatal("expected a generated task id")
	}
}

func TestParseTasksUnterminatedBlockErrors(t *testing.T) {
	input := strings.Join([]string{
		"---TASK---",
		"id: a",
		"backend: claude",
		"workdir: .",
		"---CONTENT---",
		"x",
	}, "\n")

	_, err := ParseTasks(input)
	if err == nil {
		t.Fatal("expected error for unterminated task block")
	}
}
