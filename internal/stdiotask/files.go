package stdiotask

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/chaorenex1/memex-cli-sub000/pkg/models"
)

const (
	maxFiles          = 100
	maxSingleFileSize = 50 * 1024 * 1024
	maxTotalFileSize  = 200 * 1024 * 1024
	embedSizeLimit    = 1024 * 1024
)

// ResolvedFile is one file attachment resolved from a task's Files globs.
type ResolvedFile struct {
	DisplayPath string
	Mode        models.FilesMode
	Encoding    models.FilesEncoding
	Size        int64
	Modified    time.Time
	Text        string
	Base64      string
	IsBase64    bool
}

// ResolveFiles expands task.Files as globs relative to task.Workdir,
// reading and encoding each match per task.FilesMode/FilesEncoding.
// Oversized files and globs beyond maxFiles/maxTotalFileSize are skipped,
// not errored: attachments are best-effort context, never load-bearing.
func ResolveFiles(task models.Task) ([]ResolvedFile, error) {
	if len(task.Files) == 0 {
		return nil, nil
	}

	baseAbs, err := filepath.Abs(task.Workdir)
	if err != nil {
		return nil, fmt.Errorf("resolve workdir %q: %w", task.Workdir, err)
	}
	if _, err := os.Stat(baseAbs); err != nil {
		return nil, fmt.Errorf("working directory not found: %s", task.Workdir)
	}

	seen := make(map[string]bool)
	var resolved []ResolvedFile
	var totalSize int64
	count := 0

outer:
	for _, pattern := range task.Files {
		matches, err := filepath.Glob(filepath.Join(baseAbs, pattern))
		if err != nil {
			continue
		}
		for _, m := range matches {
			count++
			if count > maxFiles {
				break outer
			}
			rf, ok, err := resolveOne(m, baseAbs, task.FilesMode, task.FilesEncoding, seen)
			if err != nil || !ok {
				continue
			}
			totalSize += rf.Size
			if totalSize > maxTotalFileSize {
				break outer
			}
			resolved = append(resolved, rf)
		}
	}

	sort.Slice(resolved, func(i, j int) bool { return resolved[i].DisplayPath < resolved[j].DisplayPath })
	return resolved, nil
}

func resolveOne(path, baseAbs string, mode models.FilesMode, encoding models.FilesEncoding, seen map[string]bool) (ResolvedFile, bool, error) {
	canon, err := filepath.Abs(path)
	if err != nil {
		return ResolvedFile{}, false, err
	}
	if seen[canon] {
		return ResolvedFile{}, false, nil
	}
	seen[canon] = true

	info, err := os.Stat(canon)
	if err != nil || info.IsDir() {
		return ResolvedFile{}, false, nil
	}
	if info.Size() > maxSingleFileSize {
		return ResolvedFile{}, false, nil
	}

	display := canon
	if rel, err := filepath.Rel(baseAbs, canon); err == nil {
		display = rel
	}

	rf := ResolvedFile{
		DisplayPath: display,
		Mode:        mode,
		Encoding:    encoding,
		Size:        info.Size(),
		Modified:    info.ModTime(),
	}

	if mode == models.FilesModeRef {
		return rf, true, nil
	}

	data, err := os.ReadFile(canon)
	if err != nil {
		return ResolvedFile{}, false, nil
	}

	switch encoding {
	case models.FilesEncodingBase64:
		rf.Base64 = base64.StdEncoding.EncodeToString(data)
		rf.IsBase64 = true
	default: // utf8 or auto
		if utf8.Valid(data) {
			rf.Text = string(data)
		} else {
			rf.Base64 = base64.StdEncoding.EncodeToString(data)
			rf.IsBase64 = true
		}
	}
	return rf, true, nil
}

// ComposePrompt embeds resolved file content (or ref markers) ahead of the
// task's own content, matching the wire shape vendor CLIs see.
func ComposePrompt(task models.Task, files []ResolvedFile) string {
	if len(files) == 0 {
		return task.Content
	}

	var b strings.Builder
	for _, f := range files {
		fmt.Fprintf(&b, "\n\n---FILE: %s---\n", f.DisplayPath)
		b.WriteString(formatFileMetadata(f))
		b.WriteByte('\n')

		switch f.Mode {
		case models.FilesModeRef:
			b.WriteString("[File reference only, content not embedded]\n")
		default:
			writeFileBody(&b, f)
		}
		b.WriteString("\n---END FILE---\n")
	}

	b.WriteString("\n\n")
	b.WriteString(task.Content)
	return b.String()
}

func writeFileBody(b *strings.Builder, f ResolvedFile) {
	content := f.Text
	if f.IsBase64 {
		content = f.Base64
		b.WriteString("[Binary content, base64 encoded]\n")
	}
	if f.Mode == models.FilesModeAuto && len(content) > embedSizeLimit {
		fmt.Fprintf(b, "[Auto mode: content too large (%d bytes), using ref mode]\n", len(content))
		return
	}
	if len(content) > embedSizeLimit {
		fmt.Fprintf(b, "[Content truncated: %d bytes, showing first %d bytes]\n", len(content), embedSizeLimit)
		content = content[:embedSizeLimit]
	}
	b.WriteString(content)
}

func formatFileMetadata(f ResolvedFile) string {
	meta := fmt.Sprintf("<!-- size: %d bytes", f.Size)
	if !f.Modified.IsZero() {
		meta += fmt.Sprintf(", modified: %d", f.Modified.Unix())
	}
	meta += fmt.Sprintf(", encoding: %s -->", f.Encoding)
	return meta
}
