package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bamsammich/partsync/internal/engine"
	"github.com/bamsammich/partsync/internal/ledger"
	"github.com/bamsammich/partsync/internal/task"
	"github.com/bamsammich/partsync/internal/transport"
)

func readTasks(path string) ([]task.Task, error) {
	var (
		tasks []task.Task
		err   error
	)
	if path == "-" {
		tasks, err = task.Read(os.Stdin)
	} else {
		tasks, err = task.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read tasks: %w", err)
	}
	return tasks, nil
}

// transferRun is the shared skeleton of every transfer command: signal
// handling, task loading, remote and journal setup, and temp file cleanup
// on interrupt.
func (g *globals) transferRun(
	taskFile string,
	needRemote bool,
	body func(ctx context.Context, tasks []task.Task, m transport.Mover, s *session) (engine.Report, error),
) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer func() {
		if ctx.Err() != nil {
			engine.CleanupTmpFiles()
		}
	}()

	tasks, err := readTasks(taskFile)
	if err != nil {
		return err
	}

	m, err := g.openRemote(ctx, needRemote)
	if err != nil {
		return err
	}
	if m != nil {
		defer m.Close()
	}

	journal, err := g.openJournal()
	if err != nil {
		slog.Warn("journal disabled", "error", err)
		journal = nil
	}

	s := g.startSession(journal)
	report, err := body(ctx, tasks, m, s)
	if err != nil {
		_ = s.finish(engine.Report{}) //nolint:errcheck // run error takes precedence
		return err
	}
	return s.finish(report)
}

func newUploadCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "upload TASKFILE",
		Short: "Stream the new tail of every partial task to remote storage",
		Long: `upload reads the appended bytes of each partial task's source file and
stores them as a part under --remote. Parts the remote already holds at
the right size, or has a completion marker for, are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return g.transferRun(args[0], true,
				func(ctx context.Context, tasks []task.Task, m transport.Mover, s *session) (engine.Report, error) {
					pool := g.pool()
					pool.Observer = s.observer()
					u := &engine.Uploader{Mover: m, Pool: pool, Limiter: g.limiter}
					return u.Run(ctx, tasks)
				})
		},
	}
}

func newFetchCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch TASKFILE",
		Short: "Download and verify the part of every partial task into the cache",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return g.transferRun(args[0], true,
				func(ctx context.Context, tasks []task.Task, m transport.Mover, s *session) (engine.Report, error) {
					l, err := g.openLedger(ctx, m)
					if err != nil {
						return engine.Report{}, err
					}
					pool := g.pool()
					pool.Observer = s.observer()
					f := &engine.Fetcher{
						Mover:    m,
						Digester: g.sampler,
						CacheDir: g.cacheDir,
						Ledger:   l,
						Pool:     pool,
						Limiter:  g.limiter,
					}
					return f.Run(ctx, tasks)
				})
		},
	}
}

func newApplyCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "apply TASKFILE",
		Short: "Append cached parts to their destination files",
		Long: `apply verifies each cached part, checks that the destination still
holds the prefix it was planned against, appends the part and verifies
the result. A destination left between its old and new length by an
interrupted run is repaired.

With --remove, applied parts are deleted from the cache and, when
--remote is set, marked completed and deleted remotely.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return g.transferRun(args[0], false,
				func(ctx context.Context, tasks []task.Task, m transport.Mover, s *session) (engine.Report, error) {
					l, err := g.openLedger(ctx, m)
					if err != nil {
						return engine.Report{}, err
					}
					a := &engine.Applier{
						Digester:  g.sampler,
						CacheDir:  g.cacheDir,
						Completer: &ledger.Completer{Ledger: l, Mover: m, Remove: g.remove},
						Limiter:   g.limiter,
						Observer:  s.observer(),
					}
					return a.ApplyAll(ctx, tasks), nil
				})
		},
	}
}

func newCopyCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "copy TASKFILE",
		Short: "Copy every file the destination lacks or holds a diverged copy of",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return g.transferRun(args[0], false,
				func(ctx context.Context, tasks []task.Task, _ transport.Mover, s *session) (engine.Report, error) {
					l, err := g.openLedger(ctx, nil)
					if err != nil {
						return engine.Report{}, err
					}
					pool := g.pool()
					pool.Observer = s.observer()
					c := &engine.Copier{
						Digester:  g.sampler,
						Completer: &ledger.Completer{Ledger: l},
						Pool:      pool,
						Limiter:   g.limiter,
					}
					return c.Run(ctx, tasks), nil
				})
		},
	}
}
