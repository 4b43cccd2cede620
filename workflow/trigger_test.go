package workflow

import (
	"testing"

	"github.com/mergegate/mergegate/models"
)

func prEvent(base string, files ...string) *models.Event {
	return &models.Event{
		Kind:         models.EventPullRequest,
		BaseBranch:   base,
		ChangedFiles: files,
	}
}

func TestMatchesPullRequest(t *testing.T) {
	cases := []struct {
		name    string
		trigger TriggerConfig
		ev      *models.Event
		want    bool
	}{
		{
			name:    "exact branch",
			trigger: TriggerConfig{PullRequest: &PullRequestTrigger{Branches: []string{"main"}}},
			ev:      prEvent("main"),
			want:    true,
		},
		{
			name:    "other branch",
			trigger: TriggerConfig{PullRequest: &PullRequestTrigger{Branches: []string{"main"}}},
			ev:      prEvent("develop"),
			want:    false,
		},
		{
			name:    "branch glob",
			trigger: TriggerConfig{PullRequest: &PullRequestTrigger{Branches: []string{"release/*"}}},
			ev:      prEvent("release/1.2"),
			want:    true,
		},
		{
			name:    "any branch when list empty",
			trigger: TriggerConfig{PullRequest: &PullRequestTrigger{}},
			ev:      prEvent("whatever"),
			want:    true,
		},
		{
			name:    "no pull_request trigger declared",
			trigger: TriggerConfig{Schedule: []ScheduleTrigger{{Every: "6h"}}},
			ev:      prEvent("main"),
			want:    false,
		},
		{
			name: "path filter hit",
			trigger: TriggerConfig{PullRequest: &PullRequestTrigger{
				Branches: []string{"main"},
				Paths:    []string{"src/**"},
			}},
			ev:   prEvent("main", "src/lib/core.rs"),
			want: true,
		},
		{
			name: "path filter miss",
			trigger: TriggerConfig{PullRequest: &PullRequestTrigger{
				Branches: []string{"main"},
				Paths:    []string{"src/**"},
			}},
			ev:   prEvent("main", "docs/README.md"),
			want: false,
		},
		{
			name: "path filter ignored without file list",
			trigger: TriggerConfig{PullRequest: &PullRequestTrigger{
				Branches: []string{"main"},
				Paths:    []string{"src/**"},
			}},
			ev:   prEvent("main"),
			want: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.trigger.Matches(tc.ev); got != tc.want {
				t.Fatalf("Matches = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestMatchesOtherEventKinds(t *testing.T) {
	pr := TriggerConfig{PullRequest: &PullRequestTrigger{}}
	if !pr.Matches(&models.Event{Kind: models.EventManual}) {
		t.Error("manual events must always match")
	}
	if pr.Matches(&models.Event{Kind: models.EventSchedule}) {
		t.Error("schedule event must not match a workflow without schedule triggers")
	}

	sched := TriggerConfig{Schedule: []ScheduleTrigger{{Cron: "0 3 * * *"}}}
	if !sched.Matches(&models.Event{Kind: models.EventSchedule}) {
		t.Error("schedule event must match a scheduled workflow")
	}
}

func TestTriggerValidate(t *testing.T) {
	if err := (&TriggerConfig{}).Validate(); err == nil {
		t.Error("expected error for empty trigger config")
	}
	bad := &TriggerConfig{PullRequest: &PullRequestTrigger{Paths: []string{"[unclosed"}}}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for invalid path glob")
	}
	empty := &TriggerConfig{Schedule: []ScheduleTrigger{{}}}
	if err := empty.Validate(); err == nil {
		t.Error("expected error for schedule without cron or every")
	}
	ok := &TriggerConfig{
		PullRequest: &PullRequestTrigger{Branches: []string{"main"}, Paths: []string{"src/**"}},
		Schedule:    []ScheduleTrigger{{Every: "30m"}},
	}
	if err := ok.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
