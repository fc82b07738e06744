package engine

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/bamsammich/partsync/internal/event"
	"github.com/bamsammich/partsync/internal/stats"
)

// Direction names a kind of run in events and the journal.
type Direction string

const (
	DirPlan   Direction = "plan"
	DirUpload Direction = "upload"
	DirFetch  Direction = "fetch"
	DirApply  Direction = "apply"
	DirCopy   Direction = "copy"
)

// Status is the final state of one item.
type Status string

const (
	StatusDone    Status = "done"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Outcome is the result of one item in a run.
type Outcome struct {
	Name     string
	Status   Status
	Attempts int
	Bytes    int64
	Reason   string // why the item was skipped
	Err      error
}

// Report collects outcomes in completion order.
type Report struct {
	Outcomes []Outcome
}

// Count returns how many outcomes have status s.
func (r Report) Count(s Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == s {
			n++
		}
	}
	return n
}

// Failed returns the failed outcomes.
func (r Report) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Status == StatusFailed {
			out = append(out, o)
		}
	}
	return out
}

// Err joins every failure, or returns nil when the run had none.
func (r Report) Err() error {
	var errs []error
	for _, o := range r.Failed() {
		errs = append(errs, fmt.Errorf("%s: %w", o.Name, o.Err))
	}
	return errors.Join(errs...)
}

// Observer is where a run reports progress. Every field is optional.
type Observer struct {
	Events  chan<- event.Event
	Stats   *stats.Collector
	Journal *Journal
}

func (o Observer) started(dir Direction, name string, size int64, worker int) {
	event.Emit(o.Events, event.Event{
		Type: event.TaskStarted, Direction: string(dir), Name: name, Size: size, WorkerID: worker,
	})
}

func (o Observer) retrying(dir Direction, name string, attempt int, err error) {
	slog.Warn("attempt failed", "direction", dir, "name", name, "attempt", attempt, "error", err)
	if o.Stats != nil {
		o.Stats.AddRetries(1)
	}
	event.Emit(o.Events, event.Event{
		Type: event.TaskRetrying, Direction: string(dir), Name: name, Attempt: attempt, Error: err,
	})
}

func (o Observer) finished(dir Direction, out Outcome) {
	ev := event.Event{
		Direction: string(dir),
		Name:      out.Name,
		Size:      out.Bytes,
		Attempt:   out.Attempts,
		Reason:    out.Reason,
		Error:     out.Err,
	}
	switch out.Status {
	case StatusDone:
		ev.Type = event.TaskCompleted
		if o.Stats != nil {
			o.Stats.AddCompleted(1)
			o.Stats.AddBytesMoved(out.Bytes)
		}
	case StatusSkipped:
		ev.Type = event.TaskSkipped
		if o.Stats != nil {
			o.Stats.AddSkipped(1)
		}
	case StatusFailed:
		ev.Type = event.TaskFailed
		slog.Error("task failed", "direction", dir, "name", out.Name, "error", out.Err)
		if o.Stats != nil {
			o.Stats.AddFailed(1)
		}
	}
	event.Emit(o.Events, ev)

	if o.Journal != nil {
		if err := o.Journal.Record(dir, out); err != nil {
			slog.Warn("journal write failed", "name", out.Name, "error", err)
		}
	}
}

func (o Observer) runStarted(dir Direction, tasks int, bytes int64) {
	if o.Stats != nil {
		o.Stats.SetTotals(int64(tasks), bytes)
	}
	event.Emit(o.Events, event.Event{
		Type: event.RunStarted, Direction: string(dir), Total: int64(tasks), Size: bytes,
	})
}

func (o Observer) runComplete(dir Direction) {
	event.Emit(o.Events, event.Event{Type: event.RunComplete, Direction: string(dir)})
}
