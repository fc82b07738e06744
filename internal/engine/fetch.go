package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/time/rate"

	"github.com/bamsammich/partsync/internal/digest"
	"github.com/bamsammich/partsync/internal/ledger"
	"github.com/bamsammich/partsync/internal/task"
	"github.com/bamsammich/partsync/internal/transport"
)

// Fetcher downloads parts from remote storage into the local cache, where
// the Applier picks them up.
type Fetcher struct {
	Mover    transport.Mover
	Digester digest.Digester
	CacheDir string
	Ledger   *ledger.Ledger
	Pool     Pool
	Limiter  *rate.Limiter
}

// Run fetches the part of every partial task that is neither completed nor
// already cached.
func (f *Fetcher) Run(ctx context.Context, tasks []task.Task) (Report, error) {
	if err := os.MkdirAll(f.CacheDir, 0o755); err != nil {
		return Report{}, fmt.Errorf("create cache dir: %w", err)
	}
	if n, err := SweepTmpFiles(f.CacheDir, PartialSuffix); err != nil {
		slog.Warn("cannot sweep stale downloads", "dir", f.CacheDir, "error", err)
	} else if n > 0 {
		slog.Info("removed stale downloads", "count", n)
	}

	items := lo.Map(task.Partials(tasks), func(p *task.Partial, _ int) Item {
		return Item{
			Name: p.PartName(),
			Size: p.Size,
			Do:   func(ctx context.Context) (Result, error) { return f.fetch(ctx, p) },
		}
	})

	pool := f.Pool
	pool.Direction = DirFetch
	return pool.Run(ctx, items), nil
}

func (f *Fetcher) fetch(ctx context.Context, p *task.Partial) (Result, error) {
	if f.Ledger != nil && f.Ledger.Contains(p.Name()) {
		return skipped("completed"), nil
	}

	key := p.PartName()
	dst := filepath.Join(f.CacheDir, key)

	ok, err := f.verify(dst, p)
	switch {
	case err == nil && ok:
		return skipped("cached"), nil
	case err == nil:
		slog.Warn("discarding corrupt cached part", "part", key)
		if err := os.Remove(dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Result{}, fmt.Errorf("remove cached part: %w", err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return Result{}, err
	}

	size, err := f.Mover.Size(ctx, key)
	if errors.Is(err, transport.ErrNotFound) {
		return Result{}, Permanent(fmt.Errorf("part %s not uploaded: %w", key, err))
	}
	if err != nil {
		return Result{}, fmt.Errorf("size %s: %w", key, err)
	}
	if size != p.Size {
		return Result{}, sizeMismatch(key, p.Size, size)
	}

	tmp := filepath.Join(f.CacheDir, "."+key+"."+uuid.New().String()[:8]+PartialSuffix)
	if err := f.download(ctx, key, tmp); err != nil {
		return Result{}, err
	}

	ok, err = f.verify(tmp, p)
	if err != nil || !ok {
		os.Remove(tmp)
		DeregisterTmp(tmp)
		if err == nil {
			err = fmt.Errorf("downloaded %s does not match its size or digest", key)
		}
		return Result{}, err
	}

	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		DeregisterTmp(tmp)
		return Result{}, fmt.Errorf("rename part: %w", err)
	}
	DeregisterTmp(tmp)
	slog.Info("fetched part", "name", p.Name(), "part", key, "bytes", p.Size)
	return doneResult, nil
}

func (f *Fetcher) download(ctx context.Context, key, tmp string) error {
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	RegisterTmp(tmp)

	err = f.Mover.Fetch(ctx, key, limitWriter(ctx, out, f.Limiter))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		DeregisterTmp(tmp)
		return fmt.Errorf("fetch %s: %w", key, err)
	}
	return nil
}

// verify reports whether path holds exactly the part p expects. A missing
// file returns fs.ErrNotExist.
func (f *Fetcher) verify(path string, p *task.Partial) (bool, error) {
	size, err := fileSize(path)
	if err != nil {
		return false, err
	}
	if size != p.Size {
		return false, nil
	}
	sum, err := f.Digester.Digest(path, 0, size)
	if err != nil {
		return false, fmt.Errorf("digest %s: %w", path, err)
	}
	return sum == p.PartDigest, nil
}
