package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/chaorenex1/memex-cli-sub000/pkg/models"
)

// PolicyRuleSet is the allow/deny rule document loaded from a policy rules
// file, independent of the rest of the static config tree.
type PolicyRuleSet struct {
	Deny  []models.PolicyRule `yaml:"deny"`
	Allow []models.PolicyRule `yaml:"allow"`
}

// LoadPolicyRuleSet reads and parses a policy rules file from disk.
func LoadPolicyRuleSet(path string) (PolicyRuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PolicyRuleSet{}, err
	}
	var rs PolicyRuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return PolicyRuleSet{}, fmt.Errorf("parse policy rules %s: %w", path, err)
	}
	return rs, nil
}

// PolicyRuleWatcher hot-reloads a policy rules file referenced by
// toolpolicy.Config, calling back with the newly parsed rule set on every
// write/create/rename event. Reload errors are logged, not fatal — the
// engine keeps running the last good rule set.
type PolicyRuleWatcher struct {
	path    string
	logger  *slog.Logger
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	onLoad  func(PolicyRuleSet)
	stopped bool
}

// NewPolicyRuleWatcher starts watching path's containing directory for
// changes to the file and invokes onLoad with the current rule set
// immediately, then again after every reload.
func NewPolicyRuleWatcher(path string, onLoad func(PolicyRuleSet), logger *slog.Logger) (*PolicyRuleWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rs, err := LoadPolicyRuleSet(path)
	if err != nil {
		return nil, err
	}
	onLoad(rs)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create policy rule watcher: %w", err)
	}
	dir := dirOf(path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch policy rule dir %s: %w", dir, err)
	}

	w := &PolicyRuleWatcher{path: path, logger: logger, watcher: watcher, onLoad: onLoad}
	go w.run()
	return w, nil
}

func (w *PolicyRuleWatcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Name != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			rs, err := LoadPolicyRuleSet(w.path)
			if err != nil {
				w.logger.Warn("policy rule reload failed", "path", w.path, "error", err)
				continue
			}
			w.mu.Lock()
			cb := w.onLoad
			w.mu.Unlock()
			if cb != nil {
				cb(rs)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("policy rule watcher error", "error", err)
		}
	}
}

// Close stops the watcher goroutine and releases the underlying fsnotify
// watcher.
func (w *PolicyRuleWatcher) Close() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	w.mu.Unlock()
	return w.watcher.Close()
}

func dirOf(path string) string {
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		return path[:idx]
	}
	return "."
}
