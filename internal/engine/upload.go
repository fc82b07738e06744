package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/samber/lo"
	"golang.org/x/time/rate"

	"github.com/bamsammich/partsync/internal/ledger"
	"github.com/bamsammich/partsync/internal/task"
	"github.com/bamsammich/partsync/internal/transport"
)

// Uploader pushes the missing tail of every partial task to remote storage
// under its part name.
type Uploader struct {
	Mover   transport.Mover
	Pool    Pool
	Limiter *rate.Limiter
}

// Run uploads the parts of every partial task. The remote completion
// markers are listed once up front; failing to list them is the only error
// that stops the run.
func (u *Uploader) Run(ctx context.Context, tasks []task.Task) (Report, error) {
	completed, err := ledger.RemoteCompleted(ctx, u.Mover, "")
	if err != nil {
		return Report{}, err
	}
	exclude := lo.SliceToMap(completed, func(k string) (string, struct{}) { return k, struct{}{} })
	slog.Debug("remote completion markers", "count", len(exclude))

	items := lo.Map(task.Partials(tasks), func(p *task.Partial, _ int) Item {
		return Item{
			Name: p.PartName(),
			Size: p.Size,
			Do: func(ctx context.Context) (Result, error) {
				if _, ok := exclude[p.PartName()]; ok {
					return skipped("completed"), nil
				}
				return u.upload(ctx, p)
			},
		}
	})

	pool := u.Pool
	pool.Direction = DirUpload
	return pool.Run(ctx, items), nil
}

func (u *Uploader) upload(ctx context.Context, p *task.Partial) (Result, error) {
	key := p.PartName()

	// A remote object of the right length is trusted without a digest. A
	// failed size lookup means the size is unknown and the part is uploaded.
	size, err := u.Mover.Size(ctx, key)
	switch {
	case err == nil && size == p.Size:
		return skipped("present"), nil
	case err != nil && !errors.Is(err, transport.ErrNotFound):
		slog.Debug("remote size unknown", "part", key, "error", err)
	}

	src, err := os.Open(p.SrcPath)
	if err != nil {
		return Result{}, Permanent(fmt.Errorf("open source: %w", err))
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return Result{}, fmt.Errorf("stat source: %w", err)
	}
	if info.Size() < p.Total() {
		return Result{}, &PreconditionError{
			Path:   p.SrcPath,
			Reason: fmt.Sprintf("source has %d bytes, part ends at %d", info.Size(), p.Total()),
		}
	}

	if _, err := src.Seek(p.Skip, io.SeekStart); err != nil {
		return Result{}, fmt.Errorf("seek source: %w", err)
	}
	r := limitReader(ctx, io.LimitReader(src, p.Size), u.Limiter)
	if err := u.Mover.Stream(ctx, r, key); err != nil {
		return Result{}, fmt.Errorf("stream %s: %w", key, err)
	}

	got, err := u.Mover.Size(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("verify %s: %w", key, err)
	}
	if got != p.Size {
		return Result{}, fmt.Errorf("verify %s: remote has %d bytes, want %d", key, got, p.Size)
	}
	slog.Info("uploaded part", "name", p.Name(), "part", key, "bytes", p.Size)
	return doneResult, nil
}
