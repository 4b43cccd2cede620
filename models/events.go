package models

import (
	"time"
)

// NotificationType rappresenta the type of notification emitted by a run
type NotificationType string

const (
	// Run notifications
	NotifyRunStarted   NotificationType = "run.started"
	NotifyRunCompleted NotificationType = "run.completed"

	// Job notifications
	NotifyJobStarted   NotificationType = "job.started"
	NotifyJobCompleted NotificationType = "job.completed"
	NotifyJobSkipped   NotificationType = "job.skipped"

	// Step notifications
	NotifyStepStarted   NotificationType = "step.started"
	NotifyStepCompleted NotificationType = "step.completed"
	NotifyStepError     NotificationType = "step.error"
)

// Notification is a generic run lifecycle event delivered to listeners
type Notification struct {
	Type      NotificationType       `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Listener is implemented to receive notifications from a run
type Listener interface {
	OnNotification(n Notification)
}

// ListenerFunc is an adapter to use plain functions as Listeners
type ListenerFunc func(n Notification)

func (f ListenerFunc) OnNotification(n Notification) {
	f(n)
}
