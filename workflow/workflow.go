package workflow

import "sort"

// Workflow represents a complete workflow definition from YAML
type Workflow struct {
	Name    string            `yaml:"name"`
	On      TriggerConfig     `yaml:"on"`
	Env     map[string]string `yaml:"env,omitempty"`
	Secrets []string          `yaml:"secrets,omitempty"` // secret names injected from the server environment
	Jobs    map[string]Job    `yaml:"jobs"`
}

// Job is a named unit of work: a linear sequence of steps executed in an
// isolated workspace. Jobs without a dependency relationship may run
// concurrently; a job with Needs starts only after every listed job succeeded.
type Job struct {
	Name           string            `yaml:"name,omitempty"`
	Needs          []string          `yaml:"needs,omitempty"`
	If             string            `yaml:"if,omitempty"` // expression, evaluated after needs gating
	Env            map[string]string `yaml:"env,omitempty"`
	TimeoutMinutes int               `yaml:"timeout-minutes,omitempty"`
	Steps          []Step            `yaml:"steps"`
}

// Step is one action within a job. Exactly one of Uses (a registered builtin
// step type) or Run (shell command shorthand) must be set.
type Step struct {
	Name string            `yaml:"name,omitempty"`
	Uses string            `yaml:"uses,omitempty"`
	Run  string            `yaml:"run,omitempty"`
	With map[string]any    `yaml:"with,omitempty"`
	Env  map[string]string `yaml:"env,omitempty"`
	If   string            `yaml:"if,omitempty"`
}

// DisplayName returns the human name of a step, falling back to its action
func (s Step) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Uses != "" {
		return s.Uses
	}
	return s.Run
}

// JobIDs returns the job identifiers in deterministic order
func (w *Workflow) JobIDs() []string {
	ids := make([]string, 0, len(w.Jobs))
	for id := range w.Jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
