// Package backendstrategy resolves a backend spec into a concrete runner
// plugin and start args: the "codecli" strategy shells out to a local
// vendor CLI, the "aiservice" strategy streams from an HTTP endpoint.
package backendstrategy

import (
	"fmt"
	"path/filepath"
	"strings"

	execsafety "github.com/chaorenex1/memex-cli-sub000/internal/exec"
	"github.com/chaorenex1/memex-cli-sub000/internal/runengine"
	"github.com/chaorenex1/memex-cli-sub000/internal/runnerplugin"
	"github.com/chaorenex1/memex-cli-sub000/pkg/models"
)

// CodeCLI resolves a backend spec naming a local vendor CLI (codex, claude,
// gemini, or an unrecognized fallback) into argv shaped for that vendor.
// Policy is bypassed entirely for sessions started through this strategy:
// vendor CLIs have no out-of-band command channel to honor a policy
// decision over, so callers must not attach a toolpolicy.Engine when the
// resolved RunnerSpec used this strategy.
type CodeCLI struct {
	// Dir is the working directory child processes are started in; empty
	// uses the wrapper's own.
	Dir string
}

func (CodeCLI) Name() string { return "codecli" }

func (c CodeCLI) Plan(req runengine.BackendPlanRequest) (runengine.RunnerPlugin, models.RunnerStartArgs, error) {
	exe, err := execsafety.SanitizeExecutableValue(req.Backend)
	if err != nil {
		return nil, models.RunnerStartArgs{}, fmt.Errorf("codecli backend %q: %w", req.Backend, err)
	}

	vendor := vendorOf(exe)
	args := buildArgs(vendor, req)

	sanitized, err := execsafety.SanitizeArguments(args)
	if err != nil {
		return nil, models.RunnerStartArgs{}, fmt.Errorf("codecli args: %w", err)
	}

	runner := runnerplugin.New(string(vendor), c.Dir)
	return runner, models.RunnerStartArgs{
		Cmd:  exe,
		Args: sanitized,
		Envs: req.BaseEnvs,
	}, nil
}

type vendor string

const (
	vendorCodex   vendor = "codex"
	vendorClaude  vendor = "claude"
	vendorGemini  vendor = "gemini"
	vendorGeneric vendor = "generic"
)

func vendorOf(exe string) vendor {
	base := strings.ToLower(strings.TrimSuffix(filepath.Base(exe), filepath.Ext(exe)))
	switch {
	case strings.Contains(base, "codex"):
		return vendorCodex
	case strings.Contains(base, "claude"):
		return vendorClaude
	case strings.Contains(base, "gemini"):
		return vendorGemini
	default:
		return vendorGeneric
	}
}

func buildArgs(v vendor, req runengine.BackendPlanRequest) []string {
	wantJSONL := req.StreamFormat == "jsonl"
	resume := strings.TrimSpace(req.ResumeID)

	var args []string
	switch v {
	case vendorCodex:
		// codex exec [--model M] [--json] [resume <id>] <prompt>
		args = append(args, "exec")
		if req.Model != "" {
			args = append(args, "--model", req.Model)
		}
		if wantJSONL {
			args = append(args, "--json")
		}
		if resume != "" {
			args = append(args, "resume", resume)
		}
		if req.Prompt != "" {
			args = append(args, req.Prompt)
		}

	case vendorClaude:
		// claude <prompt> [-p] [--output-format stream-json] [--model M] [-r id]
		if req.Prompt != "" {
			args = append(args, req.Prompt)
		}
		if wantJSONL {
			args = append(args, "-p", "--output-format", "stream-json")
		}
		if req.Model != "" {
			args = append(args, "--model", req.Model)
		}
		if resume != "" {
			args = append(args, "-r", resume)
		}

	case vendorGemini:
		// gemini -p <prompt> [-o stream-json] [-r id] [--model M]
		if req.Prompt != "" {
			args = append(args, "-p", req.Prompt)
		}
		if wantJSONL {
			args = append(args, "-o", "stream-json")
		}
		if resume != "" {
			args = append(args, "-r", resume)
		}
		if req.Model != "" {
			args = append(args, "--model", req.Model)
		}

	default:
		// Unrecognized vendor: plain passthrough, no resume support.
		if req.Model != "" {
			args = append(args, "--model", req.Model)
		}
		if wantJSONL {
			args = append(args, "--stream")
		}
		if req.Prompt != "" {
			args = append(args, req.Prompt)
		}
	}
	return args
}

var _ runengine.BackendStrategy = CodeCLI{}
