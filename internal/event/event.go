package event

import "time"

// Type identifies the kind of event.
type Type int

const (
	RunStarted Type = iota + 1
	RunComplete
	TaskStarted
	TaskCompleted
	TaskSkipped
	TaskRetrying
	TaskFailed
)

var typeNames = [...]string{
	RunStarted:    "RunStarted",
	RunComplete:   "RunComplete",
	TaskStarted:   "TaskStarted",
	TaskCompleted: "TaskCompleted",
	TaskSkipped:   "TaskSkipped",
	TaskRetrying:  "TaskRetrying",
	TaskFailed:    "TaskFailed",
}

func (t Type) String() string {
	if t > 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "Unknown"
}

// Event is one progress notification from a run.
type Event struct {
	Type      Type
	Timestamp time.Time
	// Direction is the run that emitted the event: plan, upload, fetch,
	// apply or copy.
	Direction string
	Name      string
	Size      int64 // bytes for the task, or total bytes (RunStarted)
	Total     int64 // task count (RunStarted)
	Attempt   int
	Reason    string // why a task was skipped
	Error     error
	WorkerID  int
}

// Emit sends ev on ch, stamping the time. A nil channel drops the event.
func Emit(ch chan<- Event, ev Event) {
	if ch == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	ch <- ev
}
