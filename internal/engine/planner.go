package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bamsammich/partsync/internal/digest"
	"github.com/bamsammich/partsync/internal/filter"
	"github.com/bamsammich/partsync/internal/inventory"
	"github.com/bamsammich/partsync/internal/stats"
	"github.com/bamsammich/partsync/internal/task"
)

// Planner compares a source inventory with a destination inventory and
// decides, per file, whether to skip it, copy it whole or append its
// missing tail. It reads source files to digest them but never writes.
type Planner struct {
	Digester digest.Digester
	// InferPath places files the destination does not have yet.
	InferPath func(name string) (string, error)
	// Filter restricts planning to matching base names. Nil plans everything.
	Filter *filter.Chain
	Stats  *stats.Collector
}

// PlanFailure is a source file the planner could not decide on.
type PlanFailure struct {
	Name string
	Err  error
}

// PlanResult holds the tasks in source discovery order.
type PlanResult struct {
	Tasks    []task.Task
	Skipped  int
	Filtered int
	Failures []PlanFailure
}

// Plan runs one planning pass. It returns an error only when ctx is
// cancelled; per-file problems are collected in Failures.
func (p *Planner) Plan(ctx context.Context, src, dst *inventory.Index) (PlanResult, error) {
	var res PlanResult
	for _, name := range src.Names() {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		f, _ := src.Lookup(name)
		if !p.Filter.Match(name, f.Size) {
			res.Filtered++
			continue
		}

		t, err := p.planFile(f, dst)
		switch {
		case err != nil:
			slog.Warn("cannot plan file", "name", name, "error", err)
			res.Failures = append(res.Failures, PlanFailure{Name: name, Err: err})
		case t == nil:
			slog.Debug("up to date", "name", name)
			res.Skipped++
		default:
			res.Tasks = append(res.Tasks, t)
		}
	}
	return res, nil
}

// planFile returns nil, nil when the destination is already current.
func (p *Planner) planFile(f inventory.FileRecord, dst *inventory.Index) (task.Task, error) {
	name := f.Name()
	d, ok := dst.Lookup(name)
	if !ok {
		path, err := p.InferPath(name)
		if err != nil {
			return nil, err
		}
		slog.Debug("new file", "name", name, "dst", path)
		return &task.Copy{SrcPath: f.Path, DstPath: path, Size: f.Size, Digest: f.Digest}, nil
	}

	full := &task.Copy{SrcPath: f.Path, DstPath: d.Path, Size: f.Size, Digest: f.Digest}
	if f.Size < d.Size {
		slog.Warn("destination larger than source, copying whole file",
			"name", name, "src_size", f.Size, "dst_size", d.Size)
		return full, nil
	}

	head, err := p.digest(f.Path, 0, d.Size)
	if err != nil {
		return nil, fmt.Errorf("digest source head: %w", err)
	}
	if head != d.Digest {
		slog.Warn("destination diverged from source, copying whole file", "name", name)
		return full, nil
	}
	if f.Size == d.Size {
		return nil, nil
	}

	tailSize := f.Size - d.Size
	tail, err := p.digest(f.Path, d.Size, tailSize)
	if err != nil {
		return nil, fmt.Errorf("digest source tail: %w", err)
	}
	return &task.Partial{
		Copy:         task.Copy{SrcPath: f.Path, DstPath: d.Path, Size: tailSize, Digest: f.Digest},
		Skip:         d.Size,
		OriginDigest: d.Digest,
		PartDigest:   tail,
	}, nil
}

func (p *Planner) digest(path string, skip, size int64) (string, error) {
	if p.Stats != nil {
		p.Stats.AddDigests(1)
	}
	return p.Digester.Digest(path, skip, size)
}
