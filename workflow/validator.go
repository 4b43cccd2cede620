package workflow

import (
	"fmt"
)

// Validate verifies a workflow definition before it is accepted:
// - at least one trigger and one job
// - every needs reference exists
// - no cycles in the dependency graph
// - every job has at least one step, each step exactly one action
// - every condition expression compiles
func (w *Workflow) Validate() error {
	if w.Name == "" {
		return fmt.Errorf("workflow name is required")
	}
	if err := w.On.Validate(); err != nil {
		return fmt.Errorf("workflow %s: %w", w.Name, err)
	}
	if len(w.Jobs) == 0 {
		return fmt.Errorf("workflow %s has no jobs", w.Name)
	}

	for id, job := range w.Jobs {
		for _, need := range job.Needs {
			if _, exists := w.Jobs[need]; !exists {
				return fmt.Errorf("job %q needs non-existent job %q", id, need)
			}
			if need == id {
				return fmt.Errorf("job %q needs itself", id)
			}
		}

		if len(job.Steps) == 0 {
			return fmt.Errorf("job %q has no steps", id)
		}
		for i, step := range job.Steps {
			if step.Uses == "" && step.Run == "" {
				return fmt.Errorf("job %q step %d declares neither uses nor run", id, i+1)
			}
			if step.Uses != "" && step.Run != "" {
				return fmt.Errorf("job %q step %d declares both uses and run", id, i+1)
			}
			if step.If != "" {
				if err := Compile(step.If); err != nil {
					return fmt.Errorf("job %q step %d: %w", id, i+1, err)
				}
			}
		}

		if job.If != "" {
			if err := Compile(job.If); err != nil {
				return fmt.Errorf("job %q: %w", id, err)
			}
		}
		if job.TimeoutMinutes < 0 {
			return fmt.Errorf("job %q has negative timeout", id)
		}
	}

	return w.checkCycles()
}

// checkCycles runs a DFS over the needs graph
func (w *Workflow) checkCycles() error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	var hasCycle func(string) bool
	hasCycle = func(id string) bool {
		visited[id] = true
		recStack[id] = true

		for _, need := range w.Jobs[id].Needs {
			if !visited[need] {
				if hasCycle(need) {
					return true
				}
			} else if recStack[need] {
				return true
			}
		}

		recStack[id] = false
		return false
	}

	for _, id := range w.JobIDs() {
		if !visited[id] {
			if hasCycle(id) {
				return fmt.Errorf("circular dependency detected in workflow %s", w.Name)
			}
		}
	}

	return nil
}
