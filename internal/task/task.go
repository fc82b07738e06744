// Package task defines the copy tasks produced by the planner and the
// line-oriented file format they are exchanged in.
package task

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// Kind tags a task variant on the wire.
type Kind string

const (
	KindCopy    Kind = "copy"
	KindPartial Kind = "partial"
)

// Task is either a *Copy or a *Partial. Callers dispatch with a type switch.
type Task interface {
	Kind() Kind
	// Name is the destination base name, the identity used by the ledger.
	Name() string
	// Full returns the whole-file view of the task.
	Full() *Copy
}

// Copy copies Size bytes from SrcPath into a fresh or truncated DstPath.
// The finished destination has length Size and digest Digest.
type Copy struct {
	SrcPath string `json:"src_path" validate:"required"`
	DstPath string `json:"dst_path" validate:"required"`
	Size    int64  `json:"size"     validate:"gte=0"`
	Digest  string `json:"digest"   validate:"required"`
}

func (*Copy) Kind() Kind       { return KindCopy }
func (c *Copy) Name() string   { return filepath.Base(c.DstPath) }
func (c *Copy) Full() *Copy    { return c }
func (c *Copy) String() string { return fmt.Sprintf("copy %s -> %s (%d bytes)", c.SrcPath, c.DstPath, c.Size) }

// Partial appends Size bytes to a destination that already holds Skip
// validated bytes (digest OriginDigest). The appended bytes have digest
// PartDigest; the finished file has length Skip+Size and digest Digest.
type Partial struct {
	Copy
	Skip         int64  `json:"skip"          validate:"gte=0"`
	OriginDigest string `json:"origin_digest" validate:"required"`
	PartDigest   string `json:"part_digest"   validate:"required"`
}

func (*Partial) Kind() Kind { return KindPartial }

// Total is the destination length once the part is applied.
func (p *Partial) Total() int64 { return p.Skip + p.Size }

// PartName is the content address of this task's tail fragment.
func (p *Partial) PartName() string {
	return PartName(filepath.Base(p.SrcPath), p.Size, p.PartDigest)
}

func (p *Partial) String() string {
	return fmt.Sprintf("partial %s -> %s (+%d bytes at %d)", p.SrcPath, p.DstPath, p.Size, p.Skip)
}

const partInfix = ".part."

// PartName names a part artifact deterministically from the file it belongs
// to, its length and its digest.
func PartName(base string, size int64, digest string) string {
	return base + partInfix + strconv.FormatInt(size, 10) + "." + digest
}

// ParsePartName splits a part name back into its components.
func ParsePartName(name string) (base string, size int64, digest string, err error) {
	idx := strings.LastIndex(name, partInfix)
	if idx <= 0 {
		return "", 0, "", fmt.Errorf("not a part name: %q", name)
	}
	base = name[:idx]
	sizeStr, digest, ok := strings.Cut(name[idx+len(partInfix):], ".")
	if !ok || digest == "" {
		return "", 0, "", fmt.Errorf("not a part name: %q", name)
	}
	size, err = strconv.ParseInt(sizeStr, 10, 64)
	if err != nil || size < 0 {
		return "", 0, "", fmt.Errorf("bad size in part name %q", name)
	}
	return base, size, digest, nil
}

// Partials returns the partial-copy tasks in order.
func Partials(tasks []Task) []*Partial {
	return lo.FilterMap(tasks, func(t Task, _ int) (*Partial, bool) {
		p, ok := t.(*Partial)
		return p, ok
	})
}

// Copies returns the full-copy tasks in order.
func Copies(tasks []Task) []*Copy {
	return lo.FilterMap(tasks, func(t Task, _ int) (*Copy, bool) {
		c, ok := t.(*Copy)
		return c, ok
	})
}
