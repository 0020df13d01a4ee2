package backendstrategy

import (
	"strings"

	"github.com/chaorenex1/memex-cli-sub000/internal/runengine"
)

// Resolve picks a strategy by explicit kind ("codecli" or "aiservice"),
// falling back to sniffing the backend spec's scheme when kind is empty or
// unrecognized.
func Resolve(kind, backend string, dir string) runengine.BackendStrategy {
	switch kind {
	case "aiservice":
		return AIService{}
	case "codecli":
		return CodeCLI{Dir: dir}
	default:
		return sniff(backend, dir)
	}
}

func sniff(backend, dir string) runengine.BackendStrategy {
	if strings.HasPrefix(backend, "http://") || strings.HasPrefix(backend, "https://") {
		return AIService{}
	}
	return CodeCLI{Dir: dir}
}
