package models

import (
	"fmt"
)

// TaskPriority orders tasks within a plan.
type TaskPriority string

// Task priorities.
const (
	PriorityHigh   TaskPriority = "high"
	PriorityMedium TaskPriority = "medium"
	PriorityLow    TaskPriority = "low"
)

// Task is a single unit of a task plan, dispatched to exactly one subagent.
type Task struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	Description  string       `json:"description"`
	Priority     TaskPriority `json:"priority"`
	Complexity   string       `json:"estimated_complexity,omitempty"`
	Dependencies []string     `json:"dependencies,omitempty"`
}

// TaskPlan is produced once by the planner and frozen in the agent state.
type TaskPlan struct {
	ProjectDescription string `json:"project_description"`
	Tasks              []Task `json:"tasks"`
}

// Validate checks that every dependency references an existing task and that
// the dependency graph is acyclic.
func (p *TaskPlan) Validate() error {
	ids := make(map[string]bool, len(p.Tasks))
	for _, t := range p.Tasks {
		if t.ID == "" {
			return fmt.Errorf("task with empty id")
		}
		if ids[t.ID] {
			return fmt.Errorf("duplicate task id %q", t.ID)
		}
		ids[t.ID] = true
	}
	for _, t := range p.Tasks {
		for _, dep := range t.Dependencies {
			if !ids[dep] {
				return fmt.Errorf("task %q depends on unknown task %q", t.ID, dep)
			}
		}
	}
	return p.checkAcyclic()
}

// checkAcyclic runs a three-color DFS over the dependency graph.
func (p *TaskPlan) checkAcyclic() error {
	deps := make(map[string][]string, len(p.Tasks))
	for _, t := range p.Tasks {
		deps[t.ID] = t.Dependencies
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(p.Tasks))

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for _, dep := range deps[id] {
			switch color[dep] {
			case gray:
				return fmt.Errorf("dependency cycle involving task %q", dep)
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}

	for _, t := range p.Tasks {
		if color[t.ID] == white {
			if err := visit(t.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// Task returns the task with the given id, or nil.
func (p *TaskPlan) Task(id string) *Task {
	for i := range p.Tasks {
		if p.Tasks[i].ID == id {
			return &p.Tasks[i]
		}
	}
	return nil
}

// EligibleTasks returns the ids of tasks whose dependencies are all in
// completed, excluding tasks already completed or running. Order follows the
// plan's task order.
func (p *TaskPlan) EligibleTasks(completed, running []string) []string {
	done := make(map[string]bool, len(completed))
	for _, id := range completed {
		done[id] = true
	}
	active := make(map[string]bool, len(running))
	for _, id := range running {
		active[id] = true
	}

	var eligible []string
	for _, t := range p.Tasks {
		if done[t.ID] || active[t.ID] {
			continue
		}
		ready := true
		for _, dep := range t.Dependencies {
			if !done[dep] {
				ready = false
				break
			}
		}
		if ready {
			eligible = append(eligible, t.ID)
		}
	}
	return eligible
}
