package scheduler

import (
	"fmt"

	"github.com/gammazero/toposort"
)

// Plan returns tasks in an order where every task comes after the tasks it
// depends on. Only edges between members of tasks are considered; a
// dependency outside the set is treated as external. Duplicate entries are
// collapsed. The order is one valid schedule, not the order the scheduler
// will actually run them in.
func Plan(tasks []*Task) ([]*Task, error) {
	byID := make(map[string]*Task, len(tasks))
	for _, task := range tasks {
		if task == nil {
			return nil, fmt.Errorf("plan: nil task")
		}
		byID[task.ID()] = task
	}

	// Build edges for topological sort
	var edges []toposort.Edge
	for id, task := range byID {
		internal := 0
		for _, dep := range task.Dependencies() {
			if _, ok := byID[dep.ID()]; !ok {
				continue
			}
			// Edge (dep, task) means dep must come before task
			edges = append(edges, toposort.Edge{dep.ID(), id})
			internal++
		}
		if internal == 0 {
			edges = append(edges, toposort.Edge{nil, id})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("plan: dependency graph contains cycle: %w", err)
	}

	order := make([]*Task, 0, len(byID))
	for _, id := range sorted {
		if id != nil {
			order = append(order, byID[id.(string)])
		}
	}
	if len(order) != len(byID) {
		return nil, fmt.Errorf("plan: ordered %d of %d tasks", len(order), len(byID))
	}
	return order, nil
}

// Dependents returns the members of tasks that directly depend on task.
func Dependents(task *Task, tasks []*Task) []*Task {
	var out []*Task
	for _, candidate := range tasks {
		for _, dep := range candidate.Dependencies() {
			if dep == task {
				out = append(out, candidate)
				break
			}
		}
	}
	return out
}
