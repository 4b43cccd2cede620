package models

// Status is the lifecycle state of a run or a job
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	// StatusSkipped means the job was never attempted because a dependency
	// did not succeed or its condition evaluated to false
	StatusSkipped Status = "skipped"
)

// Terminal reports whether the status is final
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusSkipped:
		return true
	}
	return false
}

// Passed reports whether the status allows dependent jobs to start
func (s Status) Passed() bool {
	return s == StatusSuccess
}
