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

	"golang.org/x/time/rate"

	"github.com/bamsammich/partsync/internal/digest"
	"github.com/bamsammich/partsync/internal/ledger"
	"github.com/bamsammich/partsync/internal/platform"
	"github.com/bamsammich/partsync/internal/task"
)

// Applier appends cached parts to destination files. Every step is safe to
// repeat: a crash at any point leaves a state the next Apply repairs or
// recognises as done.
type Applier struct {
	Digester  digest.Digester
	CacheDir  string
	Completer *ledger.Completer
	// Limiter throttles the bytes written. Nil is unlimited.
	Limiter *rate.Limiter
	Observer
}

// Apply brings p.DstPath to p.Total() bytes with digest p.Digest using the
// cached part, then runs the completion side effects.
func (a *Applier) Apply(ctx context.Context, p *task.Partial) error {
	_, err := a.apply(ctx, p)
	return err
}

// ApplyAll applies every partial task in order. A failing task does not stop
// the ones after it.
func (a *Applier) ApplyAll(ctx context.Context, tasks []task.Task) Report {
	partials := task.Partials(tasks)

	var bytes int64
	for _, p := range partials {
		bytes += p.Size
	}
	a.runStarted(DirApply, len(partials), bytes)
	defer a.runComplete(DirApply)

	var report Report
	for _, p := range partials {
		if ctx.Err() != nil {
			break
		}
		a.started(DirApply, p.Name(), p.Size, 0)

		out := Outcome{Name: p.Name(), Attempts: 1}
		res, err := a.apply(ctx, p)
		switch {
		case err != nil:
			out.Status, out.Err = StatusFailed, err
		case res.Status == StatusDone:
			out.Status, out.Bytes = StatusDone, p.Size
		default:
			out.Status, out.Reason = res.Status, res.Reason
		}
		a.finished(DirApply, out)
		report.Outcomes = append(report.Outcomes, out)
	}
	return report
}

func (a *Applier) artifact(p *task.Partial) ledger.Artifact {
	return ledger.Artifact{
		Name:       p.Name(),
		LocalPath:  a.partPath(p),
		RemotePath: p.PartName(),
	}
}

func (a *Applier) partPath(p *task.Partial) string {
	return filepath.Join(a.CacheDir, p.PartName())
}

func (a *Applier) complete(ctx context.Context, p *task.Partial) error {
	if err := a.Completer.Complete(ctx, a.artifact(p)); err != nil {
		return fmt.Errorf("complete %s: %w", p.Name(), err)
	}
	return nil
}

func (a *Applier) apply(ctx context.Context, p *task.Partial) (Result, error) {
	name := p.Name()

	if a.Completer.Ledger.Contains(name) {
		slog.Debug("already completed", "name", name)
		return skipped("completed"), a.complete(ctx, p)
	}

	size, err := fileSize(p.DstPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Result{}, fmt.Errorf("stat destination: %w", err)
	}
	dstExists := err == nil

	if dstExists && size == p.Total() {
		sum, err := a.digest(p.DstPath, 0, size)
		if err != nil {
			return Result{}, fmt.Errorf("digest destination: %w", err)
		}
		if sum == p.Digest {
			slog.Debug("already applied", "name", name)
			return skipped("applied"), a.complete(ctx, p)
		}
	}

	if err := a.validatePart(p); err != nil {
		return Result{}, err
	}

	if !dstExists {
		return Result{}, &PreconditionError{Path: p.DstPath, Reason: "destination does not exist"}
	}
	if size < p.Skip {
		return Result{}, &PreconditionError{
			Path:   p.DstPath,
			Reason: fmt.Sprintf("destination has %d bytes, expected at least %d", size, p.Skip),
		}
	}

	truncate := size > p.Skip
	if size == p.Skip {
		origin, err := a.digest(p.DstPath, 0, p.Skip)
		if err != nil {
			return Result{}, fmt.Errorf("digest destination head: %w", err)
		}
		if origin != p.OriginDigest {
			slog.Warn("destination head does not match plan, rewriting tail", "name", name)
		}
	} else {
		slog.Warn("destination longer than expected, truncating", "name", name, "size", size, "skip", p.Skip)
	}

	if err := a.writePart(ctx, p, truncate); err != nil {
		return Result{}, err
	}

	if err := a.verifyDestination(p); err != nil {
		return Result{}, err
	}
	slog.Info("applied part", "name", name, "bytes", p.Size)
	return doneResult, a.complete(ctx, p)
}

func (a *Applier) validatePart(p *task.Partial) error {
	path := a.partPath(p)
	size, err := fileSize(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &PreconditionError{Path: path, Reason: "part not in cache"}
	}
	if err != nil {
		return fmt.Errorf("stat part: %w", err)
	}
	if size != p.Size {
		return sizeMismatch(path, p.Size, size)
	}
	sum, err := a.digest(path, 0, size)
	if err != nil {
		return fmt.Errorf("digest part: %w", err)
	}
	if sum != p.PartDigest {
		return digestMismatch(path, p.PartDigest, sum)
	}
	return nil
}

func (a *Applier) writePart(ctx context.Context, p *task.Partial, truncate bool) error {
	part, err := os.Open(a.partPath(p))
	if err != nil {
		return fmt.Errorf("open part: %w", err)
	}
	defer part.Close()

	dst, err := os.OpenFile(p.DstPath, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open destination: %w", err)
	}

	if truncate {
		if err := dst.Truncate(p.Skip); err != nil {
			dst.Close()
			return fmt.Errorf("truncate destination: %w", err)
		}
	}

	var written int64
	if a.Limiter == nil {
		var res platform.CopyResult
		res, err = platform.CopyRange(platform.RangeParams{
			Src:       part,
			Dst:       dst,
			DstOffset: p.Skip,
			Length:    p.Size,
		})
		written = res.BytesWritten
	} else {
		src := limitReader(ctx, io.LimitReader(part, p.Size), a.Limiter)
		written, err = io.Copy(io.NewOffsetWriter(dst, p.Skip), src)
	}
	if err != nil {
		dst.Close()
		return fmt.Errorf("write part: %w", err)
	}
	if err := dst.Close(); err != nil {
		return fmt.Errorf("close destination: %w", err)
	}
	if written != p.Size {
		return sizeMismatch(a.partPath(p), p.Size, written)
	}
	return nil
}

func (a *Applier) verifyDestination(p *task.Partial) error {
	size, err := fileSize(p.DstPath)
	if err != nil {
		return fmt.Errorf("stat destination: %w", err)
	}
	if size != p.Total() {
		return sizeMismatch(p.DstPath, p.Total(), size)
	}
	sum, err := a.digest(p.DstPath, 0, size)
	if err != nil {
		return fmt.Errorf("digest destination: %w", err)
	}
	if sum != p.Digest {
		return digestMismatch(p.DstPath, p.Digest, sum)
	}
	return nil
}

func (a *Applier) digest(path string, skip, size int64) (string, error) {
	if a.Stats != nil {
		a.Stats.AddDigests(1)
	}
	return a.Digester.Digest(path, skip, size)
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
