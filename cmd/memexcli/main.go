// Package main provides the CLI entry point for memexcli, a supervisory
// wrapper that drives an underlying coding-agent CLI (or HTTP backend)
// through one query at a time, or a whole dependency graph of queries in
// one STDIO submission.
//
// # Basic Usage
//
// Run a single query against a backend:
//
//	memexcli run --backend codecli:claude --query "explain this diff"
//
// Plan or execute a multi-task submission read from stdin:
//
//	memexcli graph plan  < tasks.txt
//	memexcli graph exec  < tasks.txt
//	memexcli replay --events run-1.ndjson
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/chaorenex1/memex-cli-sub000/internal/backendstrategy"
	"github.com/chaorenex1/memex-cli-sub000/internal/config"
	"github.com/chaorenex1/memex-cli-sub000/internal/dagexec"
	"github.com/chaorenex1/memex-cli-sub000/internal/iopump"
	"github.com/chaorenex1/memex-cli-sub000/internal/memorysync"
	"github.com/chaorenex1/memex-cli-sub000/internal/observability"
	"github.com/chaorenex1/memex-cli-sub000/internal/profile"
	"github.com/chaorenex1/memex-cli-sub000/internal/runengine"
	"github.com/chaorenex1/memex-cli-sub000/internal/runsession"
	"github.com/chaorenex1/memex-cli-sub000/internal/sink"
	"github.com/chaorenex1/memex-cli-sub000/internal/statemgr"
	"github.com/chaorenex1/memex-cli-sub000/internal/stdiotask"
	"github.com/chaorenex1/memex-cli-sub000/internal/taskgraph"
	"github.com/chaorenex1/memex-cli-sub000/internal/toolpolicy"
	"github.com/chaorenex1/memex-cli-sub000/internal/wrapperevents"
	"github.com/chaorenex1/memex-cli-sub000/pkg/models"
)

var (
	version     = "dev"
	commit      = "none"
	date        = "unknown"
	profileName string
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "memexcli",
		Short:        "memexcli - supervisory engine for coding-agent CLI/HTTP backends",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&profileName, "profile", "", "Profile name (uses ~/.nexus/profiles/<name>.yaml; or set MEMEX_PROFILE)")
	rootCmd.AddCommand(buildRunCmd(), buildGraphCmd(), buildReplayCmd())
	return rootCmd
}

func resolveConfigPath(path string) string {
	active := strings.TrimSpace(profileName)
	if active == "" {
		active = strings.TrimSpace(os.Getenv("MEMEX_PROFILE"))
	}
	if active != "" {
		return profile.ProfileConfigPath(active)
	}
	if strings.TrimSpace(path) == "" || path == profile.DefaultConfigName {
		return profile.DefaultConfigPath()
	}
	return path
}

// buildRunCmd wires a single user query through runengine.Engine: memory
// pre-run, backend-plan resolution, the session runtime, and gatekeeper/
// memory post-run persistence.
func buildRunCmd() *cobra.Command {
	var (
		configPath    string
		backendSpec   string
		query         string
		projectID     string
		sessionID     string
		resumeID      string
		model         string
		modelProvider string
		streamFormat  string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one query against a resolved backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(query) == "" {
				return fmt.Errorf("--query is required")
			}
			if strings.TrimSpace(backendSpec) == "" {
				return fmt.Errorf("--backend is required")
			}
			configPath = resolveConfigPath(configPath)
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			engine, strategy, policy, state, shutdownTracer, err := wireEngine(cfg)
			if err != nil {
				return err
			}
			defer shutdownTracer(context.Background())

			events := wrapperevents.Start(wrapperevents.Config{}, cmd.OutOrStdout())
			defer events.Close()

			tuiEvents, waitDrain := drainToStdio(cmd.OutOrStdout(), cmd.ErrOrStderr())
			defer waitDrain()

			sessionLoop := runengine.NewSessionLoop(runengine.SessionLoopOptions{
				ControlCfg: cfg.Memex.Control,
				Policy:     policy,
				State:      state,
				TUIEvents:  tuiEvents,
				Tracer:     engine.Tracer,
			})

			outcome, err := engine.RunWithQuery(cmd.Context(), runengine.RunQueryArgs{
				UserQuery: query,
				ProjectID: projectID,
				SessionID: sessionID,
				Runner: runengine.RunnerSpec{
					Strategy:      strategy,
					BackendSpec:   backendSpec,
					BaseEnvs:      envFromOS(),
					ResumeID:      resumeID,
					Model:         model,
					ModelProvider: modelProvider,
					StreamFormat:  streamFormat,
				},
				StreamFormat: streamFormat,
				EventsOut:    events,
			}, sessionLoop)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "exit_code=%d duration_ms=%v used_qa=%v\n", outcome.ExitCode, outcome.DurationMs, outcome.UsedQAIDs)
			if outcome.ExitCode != 0 {
				os.Exit(outcome.ExitCode)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", profile.DefaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().StringVar(&backendSpec, "backend", "", `Backend spec, e.g. "codecli:claude" or a backend URL`)
	cmd.Flags().StringVarP(&query, "query", "q", "", "User query to run")
	cmd.Flags().StringVar(&projectID, "project-id", "", "Project id for memory scoping")
	cmd.Flags().StringVar(&sessionID, "session-id", "", "Session id for lifecycle tracking")
	cmd.Flags().StringVar(&resumeID, "resume", "", "Resume an existing backend session by id")
	cmd.Flags().StringVar(&model, "model", "", "Model override")
	cmd.Flags().StringVar(&modelProvider, "model-provider", "", "Model provider override")
	cmd.Flags().StringVar(&streamFormat, "stream-format", "stream-json", "Backend output stream format")
	return cmd
}

// buildReplayCmd reconstructs a past run's RunnerResult from a recorded
// wrapper-event file, for offline debugging without re-invoking a backend.
func buildReplayCmd() *cobra.Command {
	var eventsFile string
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Reconstruct a past run's result from a recorded wrapper-event file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(eventsFile) == "" {
				return fmt.Errorf("--events is required")
			}
			result, err := runengine.ReplayRun(eventsFile)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().StringVar(&eventsFile, "events", "", "Path to a recorded wrapper-event NDJSON file")
	return cmd
}

// buildGraphCmd handles multi-task STDIO submissions: "plan" parses and
// prints the dependency stages without running anything, "exec" runs the
// full DAG through dagexec.
func buildGraphCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Plan or execute a multi-task STDIO submission",
	}
	cmd.AddCommand(buildGraphPlanCmd(), buildGraphExecCmd())
	return cmd
}

func buildGraphPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Parse a STDIO task submission and print its execution stages",
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, graph, err := readTaskGraph(cmd.InOrStdin())
			if err != nil {
				return err
			}
			stages, err := graph.Stages()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, stage := range stages {
				fmt.Fprintf(out, "stage %d: %s\n", i, strings.Join(stage, ", "))
			}
			fmt.Fprintf(out, "%d task(s), %d stage(s)\n", len(tasks), len(stages))
			return nil
		},
	}
	return cmd
}

func buildGraphExecCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "exec",
		Short: "Parse a STDIO task submission and execute it as a DAG",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath = resolveConfigPath(configPath)
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			tasks, graph, err := readTaskGraph(cmd.InOrStdin())
			if err != nil {
				return err
			}
			byID := make(map[string]models.Task, len(tasks))
			for _, t := range tasks {
				byID[t.ID] = t
			}

			engine, strategy, policy, state, shutdownTracer, err := wireEngine(cfg)
			if err != nil {
				return err
			}
			defer shutdownTracer(context.Background())

			runner := taskRunner(cfg, strategy, policy, state, engine.Tracer)
			executor := dagexec.New(dagexec.Config{
				BaseConcurrency: cfg.Memex.Executor.MaxConcurrency,
				Retry:           retryStrategyFor(cfg.Memex.Executor.DefaultRetry),
				Tracer:          engine.Tracer,
				OnTaskEnd: func(taskID string, result models.TaskResult) {
					status := "success"
					if result.ExitCode != 0 || result.Error != "" {
						status = "failed"
					}
					processMetrics().RecordDAGTask(taskID, status, float64(result.DurationMs)/1000)
				},
			}, runner)

			result, err := executor.Run(cmd.Context(), graph, byID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "completed=%d failed=%d duration_ms=%d\n", result.Completed, result.Failed, result.DurationMs)
			for id, r := range result.TaskResults {
				fmt.Fprintf(out, "  %s: exit_code=%d retries=%d\n", id, r.ExitCode, r.RetriesUsed)
			}
			if result.Failed > 0 {
				os.Exit(1)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", profile.DefaultConfigPath(), "Path to YAML configuration file")
	return cmd
}

func readTaskGraph(r io.Reader) ([]models.Task, *taskgraph.Graph[models.Task], error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("read submission: %w", err)
	}
	tasks, err := stdiotask.ParseTasks(string(raw))
	if err != nil {
		return nil, nil, err
	}
	graph, err := taskgraph.FromTasks(tasks)
	if err != nil {
		return nil, nil, err
	}
	if err := graph.Validate(); err != nil {
		return nil, nil, err
	}
	return tasks, graph, nil
}

// taskRunner adapts one task to a dagexec.TaskRunner call by composing its
// prompt (with resolved file attachments), resolving a backend, and running
// it through the session runtime.
func taskRunner(cfg *config.Config, strategy runengine.BackendStrategy, policy *toolpolicy.Engine, state *statemgr.Manager, tracer *observability.Tracer) dagexec.TaskRunner {
	return func(ctx context.Context, task models.Task, depContext string, attempt int) (models.RunnerResult, error) {
		files, err := stdiotask.ResolveFiles(task)
		if err != nil {
			return models.RunnerResult{}, err
		}
		prompt := stdiotask.ComposePrompt(task, files)
		if depContext != "" {
			prompt = depContext + "\n\n" + prompt
		}

		runner, startArgs, err := strategy.Plan(runengine.BackendPlanRequest{
			Backend:       task.Backend,
			BaseEnvs:      envFromOS(),
			Prompt:        prompt,
			Model:         task.Model,
			ModelProvider: task.ModelProvider,
			StreamFormat:  task.StreamFormat,
		})
		if err != nil {
			return models.RunnerResult{}, err
		}

		taskPolicy := policy
		if strings.HasPrefix(task.Backend, "codecli") {
			taskPolicy = nil
		}

		taskCtx := ctx
		if task.Timeout > 0 {
			var cancel context.CancelFunc
			taskCtx, cancel = context.WithTimeout(ctx, task.Timeout)
			defer cancel()
		}

		session, err := runner.StartSession(taskCtx, startArgs)
		if err != nil {
			return models.RunnerResult{}, err
		}
		tuiEvents, waitDrain := drainToStdio(os.Stdout, os.Stderr)
		defer waitDrain()
		sessionLoop := runengine.NewSessionLoop(runengine.SessionLoopOptions{
			ControlCfg: cfg.Memex.Control,
			Policy:     taskPolicy,
			State:      state,
			TUIEvents:  tuiEvents,
			Tracer:     tracer,
		})
		return sessionLoop(taskCtx, runengine.RunSessionInput{
			Session:      session,
			RunID:        fmt.Sprintf("%s-%d", task.ID, attempt),
			StreamFormat: task.StreamFormat,
			StdinPayload: startArgs.StdinPayload,
		})
	}
}

func retryStrategyFor(name string) dagexec.RetryStrategy {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "fixed":
		return dagexec.FixedRetry{MaxAttempts: 2, Delay: time.Second}
	default:
		return dagexec.NoRetry{}
	}
}

var (
	metricsOnce sync.Once
	metrics     *observability.Metrics
)

// processMetrics returns the process-wide Prometheus metrics sink, building
// it (and registering its collectors with the default registry) on first use.
func processMetrics() *observability.Metrics {
	metricsOnce.Do(func() {
		metrics = observability.NewMetrics()
	})
	return metrics
}

// wireEngine builds the shared collaborators a run needs: a backend
// strategy, an optional policy engine (withheld for codecli backends per
// their lack of an out-of-band command channel), session-lifecycle state,
// and the top-level orchestrator.
func wireEngine(cfg *config.Config) (*runengine.Engine, runengine.BackendStrategy, *toolpolicy.Engine, *statemgr.Manager, func(context.Context) error, error) {
	strategy := backendstrategy.Resolve(cfg.Memex.Backend.Kind, cfg.Memex.Backend.Binary, cfg.Memex.Backend.Workdir)

	var policy *toolpolicy.Engine
	if cfg.Memex.Backend.Kind != "codecli" {
		policy = toolpolicy.New(toolpolicy.Config{
			Mode:            toolpolicy.ModeAuto,
			DefaultDecision: "allow",
			DecisionTimeout: 5 * time.Second,
			FailMode:        toolpolicy.FailOpen,
		})
		if rulesFile := cfg.Tools.Policies.RulesFile; rulesFile != "" {
			taskPolicy := policy
			if _, err := config.NewPolicyRuleWatcher(rulesFile, func(rs config.PolicyRuleSet) {
				taskPolicy.SetRules(rs.Deny, rs.Allow)
			}, slog.Default()); err != nil {
				slog.Default().Warn("policy rules file watch failed, using static rules", "path", rulesFile, "error", err)
			}
		}
	}

	state := statemgr.New(statemgr.CleanupPolicy{RetainCompleted: 200}).WithMetrics(processMetrics())
	if driver := cfg.Memex.StateStore.Driver; driver != "" {
		store, err := statemgr.OpenSQLStore(context.Background(), driver, cfg.Memex.StateStore.DSN)
		if err != nil {
			return nil, nil, nil, nil, nil, fmt.Errorf("open state store: %w", err)
		}
		state = state.WithStore(store)
	}

	traceCfg := observability.TraceConfig{ServiceName: cfg.Logging.Tracing.ServiceName}
	if cfg.Logging.Tracing.Enabled {
		traceCfg = observability.TraceConfig{
			ServiceName:    cfg.Logging.Tracing.ServiceName,
			ServiceVersion: cfg.Logging.Tracing.ServiceVersion,
			Environment:    cfg.Logging.Tracing.Environment,
			Endpoint:       cfg.Logging.Tracing.Endpoint,
			SamplingRate:   cfg.Logging.Tracing.SamplingRate,
			EnableInsecure: cfg.Logging.Tracing.Insecure,
			Attributes:     cfg.Logging.Tracing.Attributes,
		}
	}
	tracer, shutdownTracer := observability.NewTracer(traceCfg)

	var memClient *memorysync.Client
	if cfg.Memex.Memory.Enabled {
		memClient = memorysync.New(memorysync.Config{
			BaseURL:  cfg.Memex.Memory.BaseURL,
			AuthMode: memorysync.AuthBearer,
			BearerToken: cfg.Memex.Memory.APIKey,
			Timeout:  time.Duration(cfg.Memex.Memory.TimeoutMs) * time.Millisecond,
		}, slog.Default())
	}

	engCfg := runengine.DefaultConfig()
	engCfg.MemorySearchLimit = cfg.Memex.Memory.Limit
	engCfg.MemoryMinScore = float32(cfg.Memex.Memory.MinScore)

	engine := runengine.New(engCfg, memClient, state, tracer, slog.Default()).WithMetrics(processMetrics())
	return engine, strategy, policy, state, shutdownTracer, nil
}

// drainToStdio drains raw lines and tool events onto a sink.StdioSink until
// the returned wait func closes the channel, then blocks for the drain
// goroutine to finish flushing. Color output is enabled only when stdout is
// an actual terminal, not a pipe or redirected file.
func drainToStdio(stdout, stderr io.Writer) (chan<- runsession.Event, func()) {
	events := make(chan runsession.Event, 256)
	done := make(chan struct{})
	sk := &sink.StdioSink{Stdout: stdout, Stderr: stderr, Color: isTerminalWriter(stdout)}
	go func() {
		defer close(done)
		for ev := range events {
			emitSinkEvent(sk, ev)
		}
	}()
	return events, func() {
		close(events)
		<-done
	}
}

// isTerminalWriter reports whether w is a TTY, so stdio output can switch
// off ANSI coloring when piped or redirected.
func isTerminalWriter(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

func emitSinkEvent(sk sink.Sink, ev runsession.Event) {
	switch ev.Kind {
	case "raw_stdout":
		_ = sk.Emit(sink.Event{Raw: &sink.RawLine{Stream: iopump.Stdout, Text: ev.Line}})
	case "raw_stderr":
		_ = sk.Emit(sink.Event{Raw: &sink.RawLine{Stream: iopump.Stderr, Text: ev.Line}})
	case "tool_event":
		if ev.ToolEvent != nil {
			_ = sk.Emit(sink.Event{Tool: ev.ToolEvent})
		}
	}
}

func envFromOS() map[string]string {
	envs := map[string]string{}
	for _, kv := range os.Environ() {
		if idx := strings.IndexByte(kv, '='); idx > 0 {
			envs[kv[:idx]] = kv[idx+1:]
		}
	}
	return envs
}
