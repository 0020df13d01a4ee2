package stdiotask

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chaorenex1/memex-cli-sub000/pkg/models"
)

func TestResolveFilesEmbedsTextContent(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello world"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	task := models.Task{
		Workdir:       dir,
		Files:         []string{"*.txt"},
		FilesMode:     models.FilesModeEmbed,
		FilesEncoding: models.FilesEncodingUTF8,
		Content:       "the prompt",
	}

	resolved, err := ResolveFiles(task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resolved) != 1 {
		t.Fatalf("expected 1 resolved file, got %d", len(resolved))
	}
	if resolved[0].Text != "hello world" {
		t.Fatalf("unexpected text: %q", resolved[0].Text)
	}

	prompt := ComposePrompt(task, resolved)
	if !containsAll(prompt, "a.txt", "hello world", "the prompt") {
		t.Fatalf("composed prompt missing expected content: %s", prompt)
	}
}

func TestResolveFilesRefModeSkipsContent(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("secret"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	task := models.Task{
		Workdir:   dir,
		Files:     []string{"*.txt"},
		FilesMode: models.FilesModeRef,
		Content:   "prompt",
	}

	resolved, err := ResolveFiles(task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	prompt := ComposePrompt(task, resolved)
	if containsAll(prompt, "secret") {
		t.Fatal("ref mode must not embed file content")
	}
	if !containsAll(prompt, "File reference only") {
		t.Fatal("expected ref marker in composed prompt")
	}
}

func TestResolveFilesNoGlobsReturnsEmpty(t *testing.T) {
	task := models.Task{Workdir: t.TempDir(), Content: "x"}
	resolved, err := ResolveFiles(task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resolved) != 0 {
		t.Fatalf("expected no resolved files, got %d", len(resolved))
	}
	if ComposePrompt(task, resolved) != "x" {
		t.Fatal("expected content unchanged when no files")
	}
}

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
