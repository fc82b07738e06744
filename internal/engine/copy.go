package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/samber/lo"
	"golang.org/x/time/rate"

	"github.com/bamsammich/partsync/internal/digest"
	"github.com/bamsammich/partsync/internal/ledger"
	"github.com/bamsammich/partsync/internal/platform"
	"github.com/bamsammich/partsync/internal/task"
)

// Copier executes full-copy tasks whose source is reachable on the local
// filesystem.
type Copier struct {
	Digester  digest.Digester
	Completer *ledger.Completer
	Pool      Pool
	Limiter   *rate.Limiter
}

// Run copies every Copy task on the pool, after sweeping temp files an
// interrupted run left next to the destinations.
func (c *Copier) Run(ctx context.Context, tasks []task.Task) Report {
	copies := task.Copies(tasks)
	for _, dir := range lo.Uniq(lo.Map(copies, func(t *task.Copy, _ int) string { return filepath.Dir(t.DstPath) })) {
		if n, err := SweepTmpFiles(dir, TmpSuffix); err != nil {
			slog.Warn("cannot sweep stale temp files", "dir", dir, "error", err)
		} else if n > 0 {
			slog.Info("removed stale temp files", "dir", dir, "count", n)
		}
	}

	items := lo.Map(copies, func(t *task.Copy, _ int) Item {
		return Item{
			Name: t.Name(),
			Size: t.Size,
			Do:   func(ctx context.Context) (Result, error) { return c.copy(ctx, t) },
		}
	})

	pool := c.Pool
	pool.Direction = DirCopy
	return pool.Run(ctx, items)
}

func (c *Copier) complete(ctx context.Context, t *task.Copy) error {
	if err := c.Completer.Complete(ctx, ledger.Artifact{Name: t.Name()}); err != nil {
		return fmt.Errorf("complete %s: %w", t.Name(), err)
	}
	return nil
}

func (c *Copier) copy(ctx context.Context, t *task.Copy) (Result, error) {
	if c.Completer.Ledger.Contains(t.Name()) {
		return skipped("completed"), nil
	}

	ok, err := c.matches(t.DstPath, t)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Result{}, err
	}
	if ok {
		return skipped("current"), c.complete(ctx, t)
	}

	src, err := os.Open(t.SrcPath)
	if err != nil {
		return Result{}, Permanent(fmt.Errorf("open source: %w", err))
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return Result{}, fmt.Errorf("stat source: %w", err)
	}
	if info.Size() < t.Size {
		return Result{}, &PreconditionError{
			Path:   t.SrcPath,
			Reason: fmt.Sprintf("source has %d bytes, expected %d", info.Size(), t.Size),
		}
	}

	if err := os.MkdirAll(filepath.Dir(t.DstPath), 0o755); err != nil {
		return Result{}, fmt.Errorf("create destination dir: %w", err)
	}

	tmp := tmpPath(t.DstPath)
	if err := c.writeTmp(ctx, src, tmp, t); err != nil {
		os.Remove(tmp)
		DeregisterTmp(tmp)
		return Result{}, err
	}

	if err := os.Rename(tmp, t.DstPath); err != nil {
		os.Remove(tmp)
		DeregisterTmp(tmp)
		return Result{}, fmt.Errorf("rename into place: %w", err)
	}
	DeregisterTmp(tmp)

	slog.Info("copied file", "name", t.Name(), "bytes", t.Size)
	return doneResult, c.complete(ctx, t)
}

func (c *Copier) writeTmp(ctx context.Context, src *os.File, tmp string, t *task.Copy) error {
	dst, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	RegisterTmp(tmp)
	platform.Preallocate(dst, t.Size)

	var written int64
	if c.Limiter == nil {
		var res platform.CopyResult
		res, err = platform.CopyRange(platform.RangeParams{Src: src, Dst: dst, Length: t.Size})
		written = res.BytesWritten
		slog.Debug("copy method", "name", t.Name(), "method", res.Method)
	} else {
		written, err = io.Copy(dst, limitReader(ctx, io.LimitReader(src, t.Size), c.Limiter))
	}
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("copy %s: %w", t.SrcPath, err)
	}
	if written != t.Size {
		return sizeMismatch(tmp, t.Size, written)
	}

	// Preallocation may have extended the file; the copy must define its length.
	if err := os.Truncate(tmp, t.Size); err != nil {
		return fmt.Errorf("truncate temp file: %w", err)
	}

	sum, err := c.Digester.Digest(tmp, 0, t.Size)
	if err != nil {
		return fmt.Errorf("digest copy: %w", err)
	}
	if sum != t.Digest {
		return digestMismatch(t.DstPath, t.Digest, sum)
	}
	return nil
}

// matches reports whether path already has the size and digest t promises.
func (c *Copier) matches(path string, t *task.Copy) (bool, error) {
	size, err := fileSize(path)
	if err != nil || size != t.Size {
		return false, err
	}
	sum, err := c.Digester.Digest(path, 0, size)
	if err != nil {
		return false, fmt.Errorf("digest destination: %w", err)
	}
	return sum == t.Digest, nil
}
