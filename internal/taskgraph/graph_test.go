package taskgraph

import (
	"errors"
	"strings"
	"testing"
)

type fakeTask struct {
	id   string
	deps []string
}

func (f fakeTask) TaskID() string             { return f.id }
func (f fakeTask) TaskDependencies() []string { return f.deps }

func task(id string, deps ...string) fakeTask {
	return fakeTask{id: id, deps: deps}
}

func TestTopologicalSortLinear(t *testing.T) {
	g, err := FromTasks([]fakeTask{task("A"), task("B", "A"), task("C", "B")})
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Validate(); err != nil {
		t.Fatal(err)
	}
	stages, err := g.Stages()
	if err != nil {
		t.Fatal(err)
	}
	want := [][]string{{"A"}, {"B"}, {"C"}}
	assertStagesEqual(t, stages, want)
}

func TestTopologicalSortDiamond(t *testing.T) {
	g, err := FromTasks([]fakeTask{
		task("A"), task("B", "A"), task("C", "A"), task("D", "B", "C"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Validate(); err != nil {
		t.Fatal(err)
	}
	stages, err := g.Stages()
	if err != nil {
		t.Fatal(err)
	}
	if len(stages) != 3 {
		t.Fatalf("expected 3 stages, got %d: %v", len(stages), stages)
	}
	assertStagesEqual(t, stages, [][]string{{"A"}, {"B", "C"}, {"D"}})
}

func TestDetectCycleSimple(t *testing.T) {
	g, err := FromTasks([]fakeTask{task("A", "B"), task("B", "A")})
	if err != nil {
		t.Fatal(err)
	}
	err = g.Validate()
	if err == nil {
		t.Fatal("expected cycle error")
	}
	var cycleErr *CircularDependencyError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected CircularDependencyError, got %T: %v", err, err)
	}
	if !strings.Contains(cycleErr.Path, "A") || !strings.Contains(cycleErr.Path, "B") {
		t.Fatalf("expected cycle path to mention A and B, got %q", cycleErr.Path)
	}
}

func TestDetectCycleComplex(t *testing.T) {
	g, err := FromTasks([]fakeTask{
		task("A"), task("B", "A"), task("C", "B"), task("D", "C"), task("E", "D", "B"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := g.Validate(); err != nil {
		t.Fatalf("expected no cycle, got %v", err)
	}

	cyclic, err := FromTasks([]fakeTask{
		task("A"), task("B", "A", "D"), task("C", "B"), task("D", "C"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := cyclic.Validate(); err == nil {
		t.Fatal("expected cycle error for B->A,D D->C C->B")
	}
}

func TestMissingDependency(t *testing.T) {
	g, err := FromTasks([]fakeTask{task("A", "B")})
	if err != nil {
		t.Fatal(err)
	}
	err = g.Validate()
	var depErr *DependencyNotFoundError
	if !errors.As(err, &depErr) {
		t.Fatalf("expected DependencyNotFoundError, got %T: %v", err, err)
	}
	if depErr.TaskID != "A" || depErr.MissingDep != "B" {
		t.Fatalf("unexpected error fields: %+v", depErr)
	}
}

func TestDuplicateTaskID(t *testing.T) {
	_, err := FromTasks([]fakeTask{task("A"), task("A")})
	var dupErr *DuplicateTaskIDError
	if !errors.As(err, &dupErr) {
		t.Fatalf("expected DuplicateTaskIDError, got %T: %v", err, err)
	}
	if dupErr.ID != "A" {
		t.Fatalf("expected id A, got %s", dupErr.ID)
	}
}

func TestSingleLayerPreservesInputOrder(t *testing.T) {
	g, err := FromTasks([]fakeTask{task("C"), task("A"), task("B")})
	if err != nil {
		t.Fatal(err)
	}
	stages, err := g.Stages()
	if err != nil {
		t.Fatal(err)
	}
	assertStagesEqual(t, stages, [][]string{{"C", "A", "B"}})
}

func assertStagesEqual(t *testing.T, got, want [][]string) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("stage count mismatch: got %v want %v", got, want)
	}
	for i := range got {
		if len(got[i]) != len(want[i]) {
			t.Fatalf("stage %d length mismatch: got %v want %v", i, got[i], want[i])
		}
		for j := range got[i] {
			if got[i][j] != want[i][j] {
				t.Fatalf("stage %d mismatch: got %v want %v", i, got[i], want[i])
			}
		}
	}
}
