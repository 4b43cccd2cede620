package workflow

import (
	"fmt"

	"github.com/gobwas/glob"
	"github.com/mergegate/mergegate/models"
)

// TriggerConfig declares which events instantiate a run
type TriggerConfig struct {
	PullRequest *PullRequestTrigger `yaml:"pull_request,omitempty"`
	Schedule    []ScheduleTrigger   `yaml:"schedule,omitempty"`
}

// PullRequestTrigger scopes pull_request events. Branches match the PR target
// branch; Paths (glob patterns) match against the changed-file list when the
// event carries one. Empty lists mean "any".
type PullRequestTrigger struct {
	Branches []string `yaml:"branches,omitempty"`
	Paths    []string `yaml:"paths,omitempty"`
}

// ScheduleTrigger fires runs on a fixed interval or cron expression
type ScheduleTrigger struct {
	Cron  string `yaml:"cron,omitempty"`
	Every string `yaml:"every,omitempty"` // Go duration shorthand, e.g. "6h"
}

// Matches reports whether the event should start a run of this workflow.
// Only pull_request events against a listed branch qualify; all other
// events are ignored. Manual events always qualify (explicit re-run).
func (t *TriggerConfig) Matches(ev *models.Event) bool {
	switch ev.Kind {
	case models.EventManual:
		return true
	case models.EventSchedule:
		return len(t.Schedule) > 0
	case models.EventPullRequest:
		if t.PullRequest == nil {
			return false
		}
		return t.PullRequest.matches(ev)
	}
	return false
}

func (t *PullRequestTrigger) matches(ev *models.Event) bool {
	if !matchAny(t.Branches, ev.BaseBranch) {
		return false
	}

	// Path filters only apply when the payload told us what changed.
	// An event without a file list is not filtered out here; the forge
	// API lookup happens later, inside the steps that need it.
	if len(t.Paths) > 0 && len(ev.ChangedFiles) > 0 {
		for _, f := range ev.ChangedFiles {
			if matchAny(t.Paths, f) {
				return true
			}
		}
		return false
	}

	return true
}

// matchAny matches a candidate against glob patterns; an empty pattern
// list accepts everything
func matchAny(patterns []string, candidate string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			continue
		}
		if g.Match(candidate) {
			return true
		}
	}
	return false
}

// Validate checks the trigger section for obvious mistakes
func (t *TriggerConfig) Validate() error {
	if t.PullRequest == nil && len(t.Schedule) == 0 {
		return fmt.Errorf("workflow declares no trigger (expected on.pull_request or on.schedule)")
	}
	if t.PullRequest != nil {
		for _, p := range t.PullRequest.Paths {
			if _, err := glob.Compile(p, '/'); err != nil {
				return fmt.Errorf("invalid path filter %q: %w", p, err)
			}
		}
		for _, b := range t.PullRequest.Branches {
			if _, err := glob.Compile(b, '/'); err != nil {
				return fmt.Errorf("invalid branch filter %q: %w", b, err)
			}
		}
	}
	for _, s := range t.Schedule {
		if s.Cron == "" && s.Every == "" {
			return fmt.Errorf("schedule trigger needs either cron or every")
		}
	}
	return nil
}
