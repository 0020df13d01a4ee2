package backendstrategy

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/chaorenex1/memex-cli-sub000/internal/runengine"
	"github.com/chaorenex1/memex-cli-sub000/internal/runnerplugin"
	"github.com/chaorenex1/memex-cli-sub000/pkg/models"
)

// AIService resolves a backend spec naming an HTTP(S) endpoint into an
// HTTPStream runner: cmd becomes the endpoint URL, args[0] the prompt body,
// and model/stream metadata rides along as MEMEX_-prefixed envs since
// RunnerStartArgs has no dedicated metadata fields.
type AIService struct {
	Client *http.Client
}

func (AIService) Name() string { return "aiservice" }

func (a AIService) Plan(req runengine.BackendPlanRequest) (runengine.RunnerPlugin, models.RunnerStartArgs, error) {
	if !strings.HasPrefix(req.Backend, "http://") && !strings.HasPrefix(req.Backend, "https://") {
		return nil, models.RunnerStartArgs{}, fmt.Errorf("aiservice backend must be a URL (http/https), got: %s", req.Backend)
	}

	envs := make(map[string]string, len(req.BaseEnvs)+3)
	for k, v := range req.BaseEnvs {
		envs[k] = v
	}
	if req.Model != "" {
		envs["MEMEX_MODEL"] = req.Model
	}
	envs["MEMEX_STREAM"] = strconv.FormatBool(req.StreamFormat != "")
	envs["MEMEX_STREAM_FORMAT"] = req.StreamFormat

	runner := runnerplugin.NewHTTPStream("aiservice", a.Client)
	return runner, models.RunnerStartArgs{
		Cmd:  req.Backend,
		Args: []string{req.Prompt},
		Envs: envs,
	}, nil
}

var _ runengine.BackendStrategy = AIService{}
