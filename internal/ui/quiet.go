package ui

import (
	"fmt"
	"io"

	"github.com/bamsammich/partsync/internal/stats"
)

// quietPresenter prints nothing but failures.
type quietPresenter struct {
	errW  io.Writer
	stats *stats.Collector
}

func (p *quietPresenter) Run(events <-chan Event) error {
	for ev := range events {
		if ev.Type == TaskFailed {
			fmt.Fprintln(p.errW, failureLine(ev))
		}
	}
	return nil
}

func (p *quietPresenter) Summary() string {
	return ""
}
