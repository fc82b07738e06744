package ui

import (
	"fmt"
	"io"
	"time"

	"github.com/bamsammich/partsync/internal/stats"
)

// plainPresenter outputs one line per finished task to w, and periodic
// progress to errW.
type plainPresenter struct {
	w          io.Writer
	errW       io.Writer
	stats      *stats.Collector
	noProgress bool
	barWidth   int
}

func (p *plainPresenter) Run(events <-chan Event) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			p.handleEvent(ev)
		case <-ticker.C:
			p.stats.Tick()
			if !p.noProgress {
				p.printProgress()
			}
		}
	}
}

func (p *plainPresenter) handleEvent(ev Event) {
	switch ev.Type {
	case RunStarted:
		fmt.Fprintf(p.errW, "%s: %s tasks, %s\n", ev.Direction, FormatCount(ev.Total), FormatBytes(ev.Size))
	case TaskCompleted:
		speed := p.stats.RollingSpeed(5)
		fmt.Fprintf(p.w, "%s  %s  %s  %s\n",
			ev.Name, styleDone.Render("done"), FormatBytes(ev.Size), FormatRate(speed))
	case TaskSkipped:
		reason := "skipped"
		if ev.Reason != "" {
			reason += " (" + ev.Reason + ")"
		}
		fmt.Fprintf(p.w, "%s  %s\n", ev.Name, styleSkipped.Render(reason))
	case TaskRetrying:
		fmt.Fprintf(p.errW, "%s  %s\n", ev.Name,
			styleRetry.Render(fmt.Sprintf("attempt %d failed: %v", ev.Attempt, ev.Error)))
	case TaskFailed:
		fmt.Fprintln(p.w, failureLine(ev))
	case TaskStarted, RunComplete:
		// nothing to print
	}
}

func failureLine(ev Event) string {
	errMsg := "error"
	if ev.Error != nil {
		errMsg = ev.Error.Error()
	}
	return ErrorLine(fmt.Sprintf("%s  FAILED  %s", ev.Name, errMsg))
}

func (p *plainPresenter) printProgress() {
	snap := p.stats.Snapshot()
	if snap.TasksTotal == 0 {
		return
	}
	pct := float64(snap.Done()) / float64(snap.TasksTotal)
	fmt.Fprintf(p.errW, "progress: %s %.0f%% %s/%s tasks %s %s eta %s\n",
		ProgressBar(pct, p.barWidth),
		pct*100,
		FormatCount(snap.Done()), FormatCount(snap.TasksTotal),
		FormatBytes(snap.BytesMoved),
		FormatRate(p.stats.RollingSpeed(10)),
		FormatETA(p.stats.ETA()),
	)
}

func (p *plainPresenter) Summary() string {
	return CompletionSummary(p.stats.Snapshot())
}
