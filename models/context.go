package models

import (
	"io"

	"github.com/sirupsen/logrus"
)

// StepContext carries everything a running step may need: the trigger event,
// the job workspace, resolved environment and secrets, and the job log sink.
type StepContext struct {
	RunID     string
	JobID     string
	Workspace string // per-job scratch directory, discarded after the job

	Event   *Event
	Env     map[string]string
	Secrets map[string]string

	// Needs maps dependency job IDs to their terminal status
	Needs map[string]Status

	Log       *logrus.Entry
	LogWriter io.Writer // combined output of the job, persisted by the store
}
