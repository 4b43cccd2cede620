package models

import (
	"strings"
	"time"
)

// EventKind identifies what produced a trigger event
type EventKind string

const (
	EventPullRequest EventKind = "pull_request"
	EventSchedule    EventKind = "schedule"
	EventManual      EventKind = "manual"
)

// Event is the external occurrence that instantiates a run.
// For pull_request events the PR metadata (labels, changed files) may be
// pre-populated from the webhook payload; steps that need more fall back to
// the forge API.
type Event struct {
	Kind       EventKind `json:"kind"`
	Action     string    `json:"action,omitempty"` // opened, synchronize, reopened, labeled, unlabeled
	DeliveryID string    `json:"delivery_id,omitempty"`

	Owner string `json:"owner,omitempty"`
	Repo  string `json:"repo,omitempty"`

	// Pull request metadata
	Number       int      `json:"number,omitempty"`
	BaseBranch   string   `json:"base_branch,omitempty"` // target branch of the PR
	HeadBranch   string   `json:"head_branch,omitempty"`
	HeadSHA      string   `json:"head_sha,omitempty"`
	CloneURL     string   `json:"clone_url,omitempty"`
	Labels       []string `json:"labels,omitempty"`
	ChangedFiles []string `json:"changed_files,omitempty"`

	ReceivedAt time.Time `json:"received_at"`
}

// HasLabel reports whether the event carries the given PR label.
// Comparison is case-insensitive, matching forge behaviour.
func (e *Event) HasLabel(name string) bool {
	for _, l := range e.Labels {
		if strings.EqualFold(l, name) {
			return true
		}
	}
	return false
}
