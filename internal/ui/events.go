package ui

import "github.com/bamsammich/partsync/internal/event"

// Event is re-exported for presenters.
type Event = event.Event

// Re-export event types for convenience.
const (
	RunStarted    = event.RunStarted
	RunComplete   = event.RunComplete
	TaskStarted   = event.TaskStarted
	TaskCompleted = event.TaskCompleted
	TaskSkipped   = event.TaskSkipped
	TaskRetrying  = event.TaskRetrying
	TaskFailed    = event.TaskFailed
)
