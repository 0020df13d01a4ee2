package dagexec

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chaorenex1/memex-cli-sub000/internal/taskgraph"
	"github.com/chaorenex1/memex-cli-sub000/pkg/models"
)

func buildGraph(t *testing.T, tasks []models.Task) (*taskgraph.Graph[models.Task], map[string]models.Task) {
	t.Helper()
	g, err := taskgraph.FromTasks(tasks)
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Validate(); err != nil {
		t.Fatal(err)
	}
	byID := make(map[string]models.Task, len(tasks))
	for _, task := range tasks {
		byID[task.ID] = task
	}
	return g, byID
}

func TestRunLinearGraphSucceeds(t *testing.T) {
	tasks := []models.Task{
		{ID: "A"},
		{ID: "B", Dependencies: []string{"A"}},
	}
	g, byID := buildGraph(t, tasks)

	run := func(ctx context.Context, task models.Task, depCtx string, attempt int) (models.RunnerResult, error) {
		if task.ID == "B" && depCtx == "" {
			t.Fatal("expected dependency context for B")
		}
		return models.RunnerResult{ExitCode: 0, StdoutTail: "ok:" + task.ID}, nil
	}

	ex := New(Config{BaseConcurrency: 2}, run)
	res, err := ex.Run(context.Background(), g, byID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Completed != 2 || res.Failed != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestFailFastStopsStage(t *testing.T) {
	tasks := []models.Task{{ID: "A"}, {ID: "B"}, {ID: "C"}}
	g, byID := buildGraph(t, tasks)

	var calls int32
	run := func(ctx context.Context, task models.Task, depCtx string, attempt int) (models.RunnerResult, error) {
		atomic.AddInt32(&calls, 1)
		if task.ID == "A" {
			return models.RunnerResult{ExitCode: 1}, nil
		}
		return models.RunnerResult{ExitCode: 0}, nil
	}

	ex := New(Config{BaseConcurrency: 1}, run)
	res, err := ex.Run(context.Background(), g, byID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Failed != 1 {
		t.Fatalf("expected 1 failure, got %+v", res)
	}
}

func TestTaskTimeoutSubstitutesExitCode(t *testing.T) {
	tasks := []models.Task{{ID: "A", Timeout: 10 * time.Millisecond}}
	g, byID := buildGraph(t, tasks)

	run := func(ctx context.Context, task models.Task, depCtx string, attempt int) (models.RunnerResult, error) {
		<-ctx.Done()
		return models.RunnerResult{ExitCode: 0}, nil
	}

	ex := New(Config{BaseConcurrency: 1}, run)
	res, err := ex.Run(context.Background(), g, byID)
	if err != nil {
		t.Fatal(err)
	}
	if res.TaskResults["A"].ExitCode != models.TaskTimeoutExitCode {
		t.Fatalf("expected timeout exit code, got %+v", res.TaskResults["A"])
	}
}

func TestRetryStrategyRetriesUntilSuccess(t *testing.T) {
	tasks := []models.Task{{ID: "A", Retry: "fixed"}}
	g, byID := buildGraph(t, tasks)

	var attempts int32
	run := func(ctx context.Context, task models.Task, depCtx string, attempt int) (models.RunnerResult, error) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			return models.RunnerResult{ExitCode: 1}, nil
		}
		return models.RunnerResult{ExitCode: 0}, nil
	}

	ex := New(Config{
		BaseConcurrency: 1,
		Retry:           FixedRetry{MaxAttempts: 5, Delay: time.Millisecond},
	}, run)
	res, err := ex.Run(context.Background(), g, byID)
	if err != nil {
		t.Fatal(err)
	}
	if res.TaskResults["A"].ExitCode != 0 || res.TaskResults["A"].RetriesUsed != 2 {
		t.Fatalf("expected success after 2 retries, got %+v", res.TaskResults["A"])
	}
}

func TestConcurrencyStrategyClampedToAtLeastOne(t *testing.T) {
	strategy := clampingStrategy{recommend: -5}
	cache := NewSystemInfoCache(func() SystemInfo { return SystemInfo{CPUCount: 4} })

	tasks := []models.Task{{ID: "A"}, {ID: "B"}}
	g, byID := buildGraph(t, tasks)

	run := func(ctx context.Context, task models.Task, depCtx string, attempt int) (models.RunnerResult, error) {
		return models.RunnerResult{ExitCode: 0}, nil
	}

	ex := New(Config{BaseConcurrency: 4, Concurrency: strategy, SystemInfo: cache}, run)
	res, err := ex.Run(context.Background(), g, byID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Completed != 2 {
		t.Fatalf("expected both tasks to complete despite clamped concurrency, got %+v", res)
	}
}

type clampingStrategy struct{ recommend int }

func (c clampingStrategy) Recommend(SystemInfo, int, int) int { return c.recommend }
