// Package taskgraph builds a dependency DAG over a task list and computes
// parallel execution stages via Kahn's algorithm.
package taskgraph

import (
	"fmt"
	"strings"
)

// Task is the minimal shape a node needs: a stable id and the ids of
// tasks it depends on.
type Task interface {
	TaskID() string
	TaskDependencies() []string
}

// DuplicateTaskIDError reports a task id seen more than once.
type DuplicateTaskIDError struct{ ID string }

func (e *DuplicateTaskIDError) Error() string { return fmt.Sprintf("duplicate task id: %s", e.ID) }

// DependencyNotFoundError reports a task referencing an unknown dependency.
type DependencyNotFoundError struct{ TaskID, MissingDep string }

func (e *DependencyNotFoundError) Error() string {
	return fmt.Sprintf("task %s depends on missing task %s", e.TaskID, e.MissingDep)
}

// CircularDependencyError reports a cycle, with the literal cycle path.
type CircularDependencyError struct{ Path string }

func (e *CircularDependencyError) Error() string {
	return fmt.Sprintf("circular dependency: %s", e.Path)
}

// Graph is a task dependency DAG (C12).
type Graph[T Task] struct {
	nodes          map[string]T
	edges          map[string][]string
	reverseEdges   map[string][]string
	insertionOrder []string
}

// FromTasks constructs a graph from a task list, rejecting duplicate ids.
func FromTasks[T Task](tasks []T) (*Graph[T], error) {
	g := &Graph[T]{
		nodes:        make(map[string]T, len(tasks)),
		edges:        make(map[string][]string, len(tasks)),
		reverseEdges: make(map[string][]string),
	}

	for _, t := range tasks {
		id := t.TaskID()
		if _, exists := g.nodes[id]; exists {
			return nil, &DuplicateTaskIDError{ID: id}
		}

		deps := append([]string(nil), t.TaskDependencies()...)
		g.nodes[id] = t
		g.edges[id] = deps
		g.insertionOrder = append(g.insertionOrder, id)

		for _, dep := range deps {
			g.reverseEdges[dep] = append(g.reverseEdges[dep], id)
		}
	}

	return g, nil
}

// Validate checks that every dependency exists and that no cycle exists.
func (g *Graph[T]) Validate() error {
	for taskID, deps := range g.edges {
		for _, dep := range deps {
			if _, ok := g.nodes[dep]; !ok {
				return &DependencyNotFoundError{TaskID: taskID, MissingDep: dep}
			}
		}
	}

	if cycle := g.detectCycle(); cycle != "" {
		return &CircularDependencyError{Path: cycle}
	}

	return nil
}

// Stages computes parallel execution stages via Kahn's algorithm: nodes
// with in-degree zero form stage 0, then the in-degrees of their
// dependents are decremented, and so on. Ties within a stage preserve
// original insertion order.
func (g *Graph[T]) Stages() ([][]string, error) {
	inDegree := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		inDegree[id] = 0
	}
	for taskID, deps := range g.edges {
		inDegree[taskID] += len(deps)
	}

	order := make(map[string]int, len(g.insertionOrder))
	for i, id := range g.insertionOrder {
		order[id] = i
	}

	var stages [][]string
	current := zeroDegreeIDs(inDegree, order)
	processed := 0

	for len(current) > 0 {
		stages = append(stages, current)
		processed += len(current)

		nextSet := map[string]bool{}
		for _, taskID := range current {
			for _, dependent := range g.reverseEdges[taskID] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					nextSet[dependent] = true
				}
			}
		}

		var next []string
		for id := range nextSet {
			next = append(next, id)
		}
		sortByOrder(next, order)
		current = next
	}

	if processed != len(g.nodes) {
		return nil, &CircularDependencyError{Path: "unable to complete topological sort (cycle detected)"}
	}

	return stages, nil
}

func zeroDegreeIDs(inDegree map[string]int, order map[string]int) []string {
	var ids []string
	for id, deg := range inDegree {
		if deg == 0 {
			ids = append(ids, id)
		}
	}
	sortByOrder(ids, order)
	return ids
}

func sortByOrder(ids []string, order map[string]int) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && order[ids[j-1]] > order[ids[j]]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}

func (g *Graph[T]) detectCycle() string {
	visited := map[string]bool{}

	for _, id := range g.insertionOrder {
		if visited[id] {
			continue
		}
		var stack []string
		if path := g.dfsCycle(id, visited, &stack); path != "" {
			return path
		}
	}
	return ""
}

func (g *Graph[T]) dfsCycle(node string, visited map[string]bool, stack *[]string) string {
	visited[node] = true
	*stack = append(*stack, node)

	for _, dep := range g.edges[node] {
		if pos := indexOf(*stack, dep); pos >= 0 {
			*stack = append((*stack)[pos:], dep)
			return strings.Join(*stack, " -> ")
		}
		if !visited[dep] {
			if path := g.dfsCycle(dep, visited, stack); path != "" {
				return path
			}
		}
	}

	*stack = (*stack)[:len(*stack)-1]
	return ""
}

func indexOf(ids []string, target string) int {
	for i, id := range ids {
		if id == target {
			return i
		}
	}
	return -1
}
