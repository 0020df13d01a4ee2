package stdiotask

import (
	"testing"

	"github.com/chaorenex1/memex-cli-sub000/pkg/models"
)

func TestValidateTaskAcceptsWellFormedTask(t *testing.T) {
	task := models.Task{
		ID:            "a",
		Backend:       "claude",
		Workdir:       ".",
		StreamFormat:  "jsonl",
		FilesMode:     models.FilesModeAuto,
		FilesEncoding: models.FilesEncodingAuto,
		Content:       "hi",
	}
	if err := ValidateTask(task); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}
