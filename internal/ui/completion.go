package ui

import (
	"fmt"

	"github.com/bamsammich/partsync/internal/stats"
)

// CompletionSummary builds a final summary line from a snapshot.
// Format: done ✓  tasks 48  skipped 3  size 2.1 GiB  avg 641.0 MiB/s  time 3m 17s  retries 0  errors 0
func CompletionSummary(snap stats.Snapshot) string {
	avgSpeed := 0.0
	if snap.Elapsed.Seconds() > 0 {
		avgSpeed = float64(snap.BytesMoved) / snap.Elapsed.Seconds()
	}

	icon := "✓"
	if snap.TasksFailed > 0 {
		icon = "✗"
	}

	return fmt.Sprintf("done %s  tasks %s  skipped %s  size %s  avg %s  time %s  retries %d  errors %d",
		icon,
		FormatCount(snap.TasksCompleted),
		FormatCount(snap.TasksSkipped),
		FormatBytes(snap.BytesMoved),
		FormatRate(avgSpeed),
		FormatDuration(snap.Elapsed),
		snap.Retries,
		snap.TasksFailed,
	)
}
