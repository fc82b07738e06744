package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bamsammich/partsync/internal/digest"
	"github.com/bamsammich/partsync/internal/event"
	"github.com/bamsammich/partsync/internal/ledger"
	"github.com/bamsammich/partsync/internal/stats"
	"github.com/bamsammich/partsync/internal/task"
	"github.com/bamsammich/partsync/internal/transport"
	"github.com/bamsammich/partsync/internal/transport/movertest"
)

func TestApplyAppendsPart(t *testing.T) {
	f := newPartialFixture(t, "c2pFull.0.tch", pattern(1000, 1), 600)
	l := ledger.New("")

	require.NoError(t, f.applier(newSampler(), l).Apply(context.Background(), f.task))

	assert.Equal(t, f.data, readFile(t, f.task.DstPath))
	assert.True(t, l.Contains("c2pFull.0.tch"))
	assert.FileExists(t, f.partPath())
}

func TestApplyWithLimiter(t *testing.T) {
	f := newPartialFixture(t, "c2pFull.0.tch", pattern(3<<20, 2), 1<<20)
	a := f.applier(newSampler(), ledger.New(""))
	a.Limiter = NewBWLimiter(1 << 30)

	require.NoError(t, a.Apply(context.Background(), f.task))
	assert.Equal(t, f.data, readFile(t, f.task.DstPath))
}

func TestApplyIsIdempotent(t *testing.T) {
	f := newPartialFixture(t, "c2pFull.0.tch", pattern(1000, 3), 600)
	require.NoError(t, f.applier(newSampler(), ledger.New("")).Apply(context.Background(), f.task))

	// A fresh ledger forces the already-applied check instead of the
	// ledger short-circuit.
	require.NoError(t, os.Remove(f.partPath()))
	l := ledger.New("")
	res, err := f.applier(newSampler(), l).apply(context.Background(), f.task)
	require.NoError(t, err)

	assert.Equal(t, StatusSkipped, res.Status)
	assert.Equal(t, f.data, readFile(t, f.task.DstPath))
	assert.True(t, l.Contains(f.task.Name()))
}

func TestApplyRejectsBadPart(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(t *testing.T, path string)
		target  error
	}{
		{
			name: "flipped byte",
			corrupt: func(t *testing.T, path string) {
				data := readFile(t, path)
				data[10] ^= 0xff
				writeFile(t, path, data)
			},
			target: ErrIntegrity,
		},
		{
			name: "truncated",
			corrupt: func(t *testing.T, path string) {
				require.NoError(t, os.Truncate(path, 100))
			},
			target: ErrIntegrity,
		},
		{
			name: "missing",
			corrupt: func(t *testing.T, path string) {
				require.NoError(t, os.Remove(path))
			},
			target: ErrPrecondition,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newPartialFixture(t, "c2pFull.0.tch", pattern(1000, 4), 600)
			tt.corrupt(t, f.partPath())
			l := ledger.New("")

			err := f.applier(newSampler(), l).Apply(context.Background(), f.task)
			require.ErrorIs(t, err, tt.target)
			assert.True(t, IsPermanent(err))

			assert.Equal(t, f.data[:600], readFile(t, f.task.DstPath))
			assert.False(t, l.Contains(f.task.Name()))
		})
	}
}

func TestApplyIntegrityErrorDetails(t *testing.T) {
	f := newPartialFixture(t, "c2pFull.0.tch", pattern(1000, 4), 600)
	require.NoError(t, os.Truncate(f.partPath(), 100))

	err := f.applier(newSampler(), ledger.New("")).Apply(context.Background(), f.task)
	var ie *IntegrityError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "size", ie.Check)
	assert.Equal(t, "400", ie.Want)
	assert.Equal(t, "100", ie.Got)
}

func TestApplyDestinationPreconditions(t *testing.T) {
	t.Run("shorter than skip", func(t *testing.T) {
		f := newPartialFixture(t, "a_1.tch", pattern(1000, 5), 600)
		require.NoError(t, os.Truncate(f.task.DstPath, 599))

		err := f.applier(newSampler(), ledger.New("")).Apply(context.Background(), f.task)
		var pe *PreconditionError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, f.task.DstPath, pe.Path)

		info, err := os.Stat(f.task.DstPath)
		require.NoError(t, err)
		assert.Equal(t, int64(599), info.Size())
	})

	t.Run("missing", func(t *testing.T) {
		f := newPartialFixture(t, "a_1.tch", pattern(1000, 5), 600)
		require.NoError(t, os.Remove(f.task.DstPath))

		err := f.applier(newSampler(), ledger.New("")).Apply(context.Background(), f.task)
		require.ErrorIs(t, err, ErrPrecondition)
		assert.NoFileExists(t, f.task.DstPath)
	})
}

func TestApplyRepairsInterruptedAppend(t *testing.T) {
	for _, have := range []int64{601, 750, 999} {
		t.Run(fmt.Sprintf("%d bytes", have), func(t *testing.T) {
			f := newPartialFixture(t, "c2pFull.2.tch", pattern(1000, 6), 600)
			writeFile(t, f.task.DstPath, f.data[:have])

			require.NoError(t, f.applier(newSampler(), ledger.New("")).Apply(context.Background(), f.task))
			assert.Equal(t, f.data, readFile(t, f.task.DstPath))
		})
	}
}

func TestApplyRewritesCorruptTail(t *testing.T) {
	f := newPartialFixture(t, "c2pFull.2.tch", pattern(1000, 7), 600)
	bad := append(append([]byte(nil), f.data[:600]...), pattern(400, 99)...)
	writeFile(t, f.task.DstPath, bad)

	require.NoError(t, f.applier(newSampler(), ledger.New("")).Apply(context.Background(), f.task))
	assert.Equal(t, f.data, readFile(t, f.task.DstPath))
}

func TestApplyLedgerShortCircuit(t *testing.T) {
	f := newPartialFixture(t, "c2pFull.3.tch", pattern(1000, 8), 600)
	l := ledger.New("")
	require.NoError(t, l.Add(f.task.Name()))

	counting := &digest.Counting{Digester: newSampler()}
	require.NoError(t, f.applier(counting, l).Apply(context.Background(), f.task))

	assert.Zero(t, counting.Calls)
	assert.Equal(t, f.data[:600], readFile(t, f.task.DstPath))
}

func TestApplyAllSecondRunDoesNoDigestWork(t *testing.T) {
	f := newPartialFixture(t, "c2pFull.4.tch", pattern(1000, 9), 600)
	ledgerPath := filepath.Join(t.TempDir(), "exclude.txt")

	first, err := ledger.Open(ledgerPath)
	require.NoError(t, err)
	report := f.applier(newSampler(), first).ApplyAll(context.Background(), []task.Task{f.task})
	require.NoError(t, report.Err())
	assert.Equal(t, 1, report.Count(StatusDone))

	second, err := ledger.Open(ledgerPath)
	require.NoError(t, err)
	counting := &digest.Counting{Digester: newSampler()}
	report = f.applier(counting, second).ApplyAll(context.Background(), []task.Task{f.task})

	require.NoError(t, report.Err())
	assert.Equal(t, 1, report.Count(StatusSkipped))
	assert.Zero(t, counting.Calls)
}

func TestApplyAllIsolatesFailures(t *testing.T) {
	good := newPartialFixture(t, "good_1.tch", pattern(1000, 10), 600)
	// bad's part lives in its own cache, which the applier does not read.
	bad := newPartialFixture(t, "bad_1.tch", pattern(1000, 11), 600)

	events := make(chan event.Event, 16)
	st := stats.NewCollector()
	a := good.applier(newSampler(), ledger.New(""))
	a.Observer = Observer{Events: events, Stats: st}

	tasks := []task.Task{bad.task, &good.task.Copy, good.task}
	report := a.ApplyAll(context.Background(), tasks)
	close(events)

	require.Len(t, report.Outcomes, 2)
	assert.Equal(t, StatusFailed, report.Outcomes[0].Status)
	assert.ErrorIs(t, report.Outcomes[0].Err, ErrPrecondition)
	assert.Equal(t, StatusDone, report.Outcomes[1].Status)
	assert.Equal(t, good.data, readFile(t, good.task.DstPath))
	assert.Error(t, report.Err())

	snap := st.Snapshot()
	assert.Equal(t, int64(2), snap.TasksTotal)
	assert.Equal(t, int64(1), snap.TasksCompleted)
	assert.Equal(t, int64(1), snap.TasksFailed)
	assert.Equal(t, int64(400), snap.BytesMoved)

	var types []event.Type
	for ev := range events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []event.Type{
		event.RunStarted,
		event.TaskStarted, event.TaskFailed,
		event.TaskStarted, event.TaskCompleted,
		event.RunComplete,
	}, types)
}

func TestApplyRemovesCompletedParts(t *testing.T) {
	ctx := context.Background()
	f := newPartialFixture(t, "c2pFull.5.tch", pattern(1000, 12), 600)
	fake := movertest.New()
	require.NoError(t, fake.Put(ctx, f.task.PartName(), f.data[600:]))

	a := f.applier(newSampler(), ledger.New(""))
	a.Completer.Mover = fake
	a.Completer.Remove = true

	require.NoError(t, a.Apply(ctx, f.task))

	assert.NoFileExists(t, f.partPath())
	_, err := fake.Mover.Size(ctx, f.task.PartName())
	assert.ErrorIs(t, err, transport.ErrNotFound)
	_, err = fake.Mover.Size(ctx, ledger.MarkerPath(f.task.PartName()))
	assert.NoError(t, err)
}

func TestApplyUnknownRemoteSizeIsNotAFailure(t *testing.T) {
	ctx := context.Background()
	f := newPartialFixture(t, "c2pFull.0.tch", pattern(1000, 12), 600)
	fake := movertest.New()
	fake.OpaqueMissing = true

	l := ledger.New("")
	a := f.applier(newSampler(), l)
	a.Completer.Mover = fake
	a.Completer.Remove = true

	require.NoError(t, a.Apply(ctx, f.task))
	require.NoError(t, a.Apply(ctx, f.task), "rerun after completion stays clean")

	assert.True(t, l.Contains("c2pFull.0.tch"))
	assert.Equal(t, f.data, readFile(t, f.task.DstPath))
	assert.NoFileExists(t, f.partPath())
	assert.Equal(t, 0, fake.Count("delete"))
}
