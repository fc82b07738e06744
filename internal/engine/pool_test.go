package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/partsync/internal/event"
	"github.com/bamsammich/partsync/internal/stats"
)

var errFlaky = errors.New("flaky")

// failTimes returns a Do that fails n times and then succeeds.
func failTimes(n int) func(context.Context) (Result, error) {
	var calls atomic.Int32
	return func(context.Context) (Result, error) {
		if int(calls.Add(1)) <= n {
			return Result{}, errFlaky
		}
		return doneResult, nil
	}
}

func outcomesByName(r Report) map[string]Outcome {
	m := make(map[string]Outcome, len(r.Outcomes))
	for _, o := range r.Outcomes {
		m[o.Name] = o
	}
	return m
}

func TestPoolRetries(t *testing.T) {
	st := stats.NewCollector()
	p := &Pool{Observer: Observer{Stats: st}}

	report := p.Run(context.Background(), []Item{
		{Name: "ok", Size: 10, Do: failTimes(0)},
		{Name: "flaky", Size: 20, Do: failTimes(2)},
		{Name: "broken", Size: 30, Do: failTimes(5)},
	})
	got := outcomesByName(report)
	require.Len(t, got, 3)

	assert.Equal(t, Outcome{Name: "ok", Status: StatusDone, Attempts: 1, Bytes: 10}, got["ok"])
	assert.Equal(t, Outcome{Name: "flaky", Status: StatusDone, Attempts: 3, Bytes: 20}, got["flaky"])

	assert.Equal(t, StatusFailed, got["broken"].Status)
	assert.Equal(t, DefaultAttempts, got["broken"].Attempts)
	assert.ErrorIs(t, got["broken"].Err, errFlaky)

	snap := st.Snapshot()
	assert.Equal(t, int64(2), snap.TasksCompleted)
	assert.Equal(t, int64(1), snap.TasksFailed)
	// Two retries for flaky, two for broken (its last failure is final).
	assert.Equal(t, int64(4), snap.Retries)
	assert.Equal(t, int64(30), snap.BytesMoved)
	assert.Equal(t, int64(60), snap.BytesTotal)

	require.Len(t, report.Failed(), 1)
	assert.ErrorContains(t, report.Err(), "broken")
}

func TestPoolPermanentErrorStopsRetrying(t *testing.T) {
	var calls atomic.Int32
	p := &Pool{Attempts: 5}

	report := p.Run(context.Background(), []Item{{
		Name: "bad",
		Do: func(context.Context) (Result, error) {
			calls.Add(1)
			return Result{}, Permanent(errFlaky)
		},
	}})

	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, 1, report.Outcomes[0].Attempts)
	assert.Equal(t, int32(1), calls.Load())
	assert.ErrorIs(t, report.Outcomes[0].Err, errFlaky)
}

func TestPoolIntegrityErrorsArePermanent(t *testing.T) {
	p := &Pool{Attempts: 5}
	report := p.Run(context.Background(), []Item{{
		Name: "corrupt",
		Do: func(context.Context) (Result, error) {
			return Result{}, fmt.Errorf("apply: %w", digestMismatch("x", "a", "b"))
		},
	}})
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, 1, report.Outcomes[0].Attempts)
}

func TestPoolSkippedItems(t *testing.T) {
	p := &Pool{}
	report := p.Run(context.Background(), []Item{{
		Name: "present",
		Size: 100,
		Do:   func(context.Context) (Result, error) { return skipped("present"), nil },
	}})

	require.Len(t, report.Outcomes, 1)
	o := report.Outcomes[0]
	assert.Equal(t, StatusSkipped, o.Status)
	assert.Equal(t, "present", o.Reason)
	assert.Zero(t, o.Bytes)
	assert.NoError(t, report.Err())
}

func TestPoolBoundsConcurrency(t *testing.T) {
	var (
		running atomic.Int32
		peak    atomic.Int32
	)
	items := make([]Item, 20)
	for i := range items {
		items[i] = Item{
			Name: fmt.Sprintf("item-%d", i),
			Do: func(context.Context) (Result, error) {
				n := running.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				running.Add(-1)
				return doneResult, nil
			},
		}
	}

	report := (&Pool{Workers: 3}).Run(context.Background(), items)
	assert.Len(t, report.Outcomes, 20)
	assert.LessOrEqual(t, peak.Load(), int32(3))
	assert.Equal(t, 20, report.Count(StatusDone))
}

func TestPoolCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	report := (&Pool{}).Run(ctx, []Item{
		{Name: "a", Do: func(context.Context) (Result, error) { calls.Add(1); return doneResult, nil }},
		{Name: "b", Do: func(context.Context) (Result, error) { calls.Add(1); return doneResult, nil }},
	})
	assert.Empty(t, report.Outcomes)
	assert.Zero(t, calls.Load())
}

func TestPoolCancelStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{Workers: 1, Attempts: 10, Backoff: time.Hour}

	report := p.Run(ctx, []Item{{
		Name: "a",
		Do: func(context.Context) (Result, error) {
			cancel()
			return Result{}, errFlaky
		},
	}})

	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, StatusFailed, report.Outcomes[0].Status)
	assert.Equal(t, 1, report.Outcomes[0].Attempts)
}

func TestPoolBackoff(t *testing.T) {
	p := &Pool{Backoff: 10 * time.Millisecond, MaxBackoff: 15 * time.Millisecond}

	start := time.Now()
	report := p.Run(context.Background(), []Item{{Name: "a", Do: failTimes(2)}})
	elapsed := time.Since(start)

	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, StatusDone, report.Outcomes[0].Status)
	// Two waits of at least half the (capped) delay each.
	assert.GreaterOrEqual(t, elapsed, 10*time.Millisecond)
}

func TestPoolEvents(t *testing.T) {
	events := make(chan event.Event, 16)
	p := &Pool{Direction: DirUpload, Observer: Observer{Events: events}}

	p.Run(context.Background(), []Item{{Name: "a", Size: 5, Do: failTimes(1)}})
	close(events)

	var types []event.Type
	for ev := range events {
		assert.Equal(t, "upload", ev.Direction)
		types = append(types, ev.Type)
	}
	assert.Equal(t, []event.Type{
		event.RunStarted, event.TaskStarted, event.TaskRetrying, event.TaskCompleted, event.RunComplete,
	}, types)
}

func TestPoolJournal(t *testing.T) {
	j, err := OpenJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	p := &Pool{Direction: DirFetch, Observer: Observer{Journal: j}}
	p.Run(context.Background(), []Item{
		{Name: "a", Do: failTimes(0)},
		{Name: "b", Do: failTimes(9)},
	})

	entries, err := j.Entries(DirFetch)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, StatusDone, entries[0].Status)
	assert.Equal(t, StatusFailed, entries[1].Status)
	assert.Equal(t, DefaultAttempts, entries[1].Attempts)
	assert.Contains(t, entries[1].Error, "flaky")
}

func TestPoolOutcomeOrderIsCompletionOrder(t *testing.T) {
	var mu sync.Mutex
	var finished []string
	slow := func(name string, d time.Duration) Item {
		return Item{Name: name, Do: func(context.Context) (Result, error) {
			time.Sleep(d)
			mu.Lock()
			finished = append(finished, name)
			mu.Unlock()
			return doneResult, nil
		}}
	}

	report := (&Pool{Workers: 2}).Run(context.Background(), []Item{
		slow("slow", 50*time.Millisecond),
		slow("fast", 0),
	})

	require.Len(t, report.Outcomes, 2)
	assert.Equal(t, "fast", report.Outcomes[0].Name)
	assert.Equal(t, []string{"fast", "slow"}, finished)
}
