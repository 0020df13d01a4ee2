// Package dagexec runs a validated task graph stage by stage: tasks in a
// stage execute in parallel bounded by a permit semaphore, with per-task
// timeout, retry, and dependency-context propagation.
package dagexec

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/chaorenex1/memex-cli-sub000/internal/observability"
	"github.com/chaorenex1/memex-cli-sub000/internal/taskgraph"
	"github.com/chaorenex1/memex-cli-sub000/pkg/models"
)

// TaskRunner invokes the run engine for one task attempt and returns its
// outcome. attempt starts at 0 for the first try.
type TaskRunner func(ctx context.Context, task models.Task, depContext string, attempt int) (models.RunnerResult, error)

// TaskProcessor rewrites a task's content or produces auxiliary metadata
// before it is handed to the runner; processors run in priority order.
type TaskProcessor interface {
	Process(task models.Task, depContext string) (models.Task, error)
}

// RetryStrategy decides whether a failed task should be retried and how
// long to wait before the next attempt.
type RetryStrategy interface {
	ShouldRetry(attempt int, exitCode int) (retry bool, delay time.Duration)
}

// NoRetry never retries.
type NoRetry struct{}

// ShouldRetry always declines.
func (NoRetry) ShouldRetry(int, int) (bool, time.Duration) { return false, 0 }

// FixedRetry retries up to MaxAttempts times with a constant delay.
type FixedRetry struct {
	MaxAttempts int
	Delay       time.Duration
}

// ShouldRetry retries while attempt is below MaxAttempts.
func (r FixedRetry) ShouldRetry(attempt int, exitCode int) (bool, time.Duration) {
	if exitCode == 0 || attempt >= r.MaxAttempts {
		return false, 0
	}
	return true, r.Delay
}

// SystemInfo is the snapshot a ConcurrencyStrategy reasons over.
type SystemInfo struct {
	CPUCount    int
	CPUUsage    float64
	MemoryUsage float64
}

// ConcurrencyStrategy recommends a per-stage concurrency cap.
type ConcurrencyStrategy interface {
	Recommend(info SystemInfo, activeTasks, baseConcurrency int) int
}

// SystemInfoCache refreshes CPU/memory readings at most once per second,
// guarded by a single mutex; between refreshes Get returns the last
// sampled snapshot.
type SystemInfoCache struct {
	mu       sync.Mutex
	last     SystemInfo
	lastRead time.Time
	sampler  func() SystemInfo
}

// NewSystemInfoCache builds a cache backed by the given sampler function.
func NewSystemInfoCache(sampler func() SystemInfo) *SystemInfoCache {
	return &SystemInfoCache{sampler: sampler}
}

// Get returns the cached snapshot, refreshing it if more than a second old.
func (c *SystemInfoCache) Get(now time.Time) SystemInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Sub(c.lastRead) >= time.Second {
		c.last = c.sampler()
		c.lastRead = now
	}
	return c.last
}

// Config configures the executor.
type Config struct {
	BaseConcurrency int
	Retry           RetryStrategy
	Concurrency     ConcurrencyStrategy
	SystemInfo      *SystemInfoCache
	Processors      []TaskProcessor
	OnTaskStart     func(taskID string)
	OnTaskEnd       func(taskID string, result models.TaskResult)
	Tracer          *observability.Tracer
}

// Executor runs a validated taskgraph.Graph of models.Task.
type Executor struct {
	cfg Config
	run TaskRunner
}

// New builds a DAG executor.
func New(cfg Config, run TaskRunner) *Executor {
	if cfg.BaseConcurrency <= 0 {
		cfg.BaseConcurrency = 4
	}
	if cfg.Retry == nil {
		cfg.Retry = NoRetry{}
	}
	return &Executor{cfg: cfg, run: run}
}

// Run executes every stage of the graph in order; a stage fully completes
// before the next starts. Within a stage, submission of new tasks stops as
// soon as one task fails (fail-fast), though already-started tasks in that
// stage are allowed to finish.
func (e *Executor) Run(ctx context.Context, g *taskgraph.Graph[models.Task], tasksByID map[string]models.Task) (models.DAGResult, error) {
	stages, err := g.Stages()
	if err != nil {
		return models.DAGResult{}, err
	}

	result := models.DAGResult{
		TotalTasks:  len(tasksByID),
		TaskResults: make(map[string]models.TaskResult, len(tasksByID)),
		Stages:      stages,
	}

	start := time.Now()
	outputs := make(map[string]models.TaskResult, len(tasksByID))

	for _, stage := range stages {
		if err := e.runStage(ctx, stage, tasksByID, outputs, &result); err != nil {
			result.DurationMs = time.Since(start).Milliseconds()
			return result, err
		}
		if result.Failed > 0 {
			break
		}
	}

	result.DurationMs = time.Since(start).Milliseconds()
	return result, nil
}

func (e *Executor) runStage(ctx context.Context, stageIDs []string, tasksByID map[string]models.Task, outputs map[string]models.TaskResult, result *models.DAGResult) error {
	capacity := e.cfg.BaseConcurrency
	if e.cfg.Concurrency != nil {
		info := SystemInfo{}
		if e.cfg.SystemInfo != nil {
			info = e.cfg.SystemInfo.Get(time.Now())
		}
		capacity = e.cfg.Concurrency.Recommend(info, len(stageIDs), e.cfg.BaseConcurrency)
	}
	if capacity < 1 {
		capacity = 1
	}

	sem := make(chan struct{}, capacity)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var failed bool

	for _, taskID := range stageIDs {
		mu.Lock()
		stop := failed
		mu.Unlock()
		if stop {
			break
		}

		task := tasksByID[taskID]

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}

		wg.Add(1)
		go func(task models.Task) {
			defer wg.Done()
			defer func() { <-sem }()

			depCtx := dependencyContext(task, outputs)
			taskResult := e.runTask(ctx, task, depCtx)

			mu.Lock()
			outputs[task.ID] = taskResult
			result.TaskResults[task.ID] = taskResult
			if taskResult.ExitCode == 0 {
				result.Completed++
			} else {
				result.Failed++
				failed = true
			}
			mu.Unlock()
		}(task)
	}

	wg.Wait()
	return nil
}

func (e *Executor) runTask(ctx context.Context, task models.Task, depCtx string) models.TaskResult {
	if e.cfg.OnTaskStart != nil {
		e.cfg.OnTaskStart(task.ID)
	}

	var span trace.Span
	if e.cfg.Tracer != nil {
		ctx, span = e.cfg.Tracer.TraceDAGTask(ctx, task.ID, 0)
		defer span.End()
	}

	for _, proc := range e.cfg.Processors {
		processed, err := proc.Process(task, depCtx)
		if err != nil {
			if span != nil {
				e.cfg.Tracer.RecordError(span, err)
			}
			return e.finish(task.ID, models.TaskResult{ExitCode: 1, Error: err.Error()})
		}
		task = processed
	}

	start := time.Now()
	attempt := 0
	var last models.RunnerResult
	var lastErr error

	for {
		taskCtx := ctx
		var cancel context.CancelFunc
		if task.Timeout > 0 {
			taskCtx, cancel = context.WithTimeout(ctx, task.Timeout)
		}

		resultCh := make(chan struct {
			res models.RunnerResult
			err error
		}, 1)
		go func() {
			res, err := e.run(taskCtx, task, depCtx, attempt)
			resultCh <- struct {
				res models.RunnerResult
				err error
			}{res, err}
		}()

		var timedOut bool
		select {
		case out := <-resultCh:
			last, lastErr = out.res, out.err
		case <-taskCtx.Done():
			if taskCtx.Err() == context.DeadlineExceeded {
				timedOut = true
				last = models.RunnerResult{ExitCode: models.TaskTimeoutExitCode}
			} else {
				lastErr = taskCtx.Err()
			}
		}
		if cancel != nil {
			cancel()
		}

		if timedOut || lastErr != nil {
			break
		}

		retry, delay := e.cfg.Retry.ShouldRetry(attempt, last.ExitCode)
		if !retry {
			break
		}
		attempt++

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			lastErr = ctx.Err()
		}
		if lastErr != nil {
			break
		}
	}

	out := models.TaskResult{
		ExitCode:    last.ExitCode,
		DurationMs:  time.Since(start).Milliseconds(),
		Output:      last.StdoutTail,
		RetriesUsed: attempt,
	}
	if lastErr != nil {
		out.Error = lastErr.Error()
		if out.ExitCode == 0 {
			out.ExitCode = 1
		}
		if span != nil {
			e.cfg.Tracer.RecordError(span, lastErr)
		}
	}
	return e.finish(task.ID, out)
}

func (e *Executor) finish(taskID string, r models.TaskResult) models.TaskResult {
	if e.cfg.OnTaskEnd != nil {
		e.cfg.OnTaskEnd(taskID, r)
	}
	return r
}

func dependencyContext(task models.Task, outputs map[string]models.TaskResult) string {
	if len(task.Dependencies) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("=== Dependency Outputs ===\n")
	for _, dep := range task.Dependencies {
		r, ok := outputs[dep]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "--- %s (exit_code=%d) ---\n%s\n", dep, r.ExitCode, r.Output)
	}
	return b.String()
}
