package ledger

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/bamsammich/partsync/internal/transport"
)

// MarkerSuffix is appended to a remote part key to form its completion
// marker.
const MarkerSuffix = ".completed"

// MarkerPath returns the completion marker key for a remote part.
func MarkerPath(remotePath string) string { return remotePath + MarkerSuffix }

// Artifact names everything completion touches for one finished item.
type Artifact struct {
	// Name is the ledger entry.
	Name string
	// LocalPath is the cached part, if any.
	LocalPath string
	// RemotePath is the part key in remote storage, if any.
	RemotePath string
}

// Completer runs the completion side effects. With Remove unset only the
// ledger is updated.
type Completer struct {
	Ledger *Ledger
	Mover  transport.Mover
	Remove bool

	// Now is stubbed in tests.
	Now func() time.Time
}

// Complete records a.Name and, when Remove is set, deletes the local and
// remote copies of the part. The remote marker is always written before the
// remote part is deleted, so a crash in between still leaves a record.
// Every step is idempotent.
func (c *Completer) Complete(ctx context.Context, a Artifact) error {
	if err := c.Ledger.Add(a.Name); err != nil {
		return fmt.Errorf("record %s: %w", a.Name, err)
	}
	if !c.Remove {
		return nil
	}

	if a.LocalPath != "" {
		if err := os.Remove(a.LocalPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove cached part: %w", err)
		}
	}

	if a.RemotePath == "" || c.Mover == nil {
		return nil
	}
	// An unknown size counts as absent: the ledger entry stands and the
	// remote part is left alone.
	size, err := c.Mover.Size(ctx, a.RemotePath)
	if err != nil && !errors.Is(err, transport.ErrNotFound) {
		slog.Warn("remote part size unknown, not removing it", "name", a.Name, "remote", a.RemotePath, "error", err)
	}
	if err != nil || size == 0 {
		return nil
	}

	marker := MarkerPath(a.RemotePath)
	if _, err := c.Mover.Size(ctx, marker); err != nil {
		if !errors.Is(err, transport.ErrNotFound) {
			slog.Debug("completion marker size unknown", "marker", marker, "error", err)
		}
		stamp := c.now().UTC().Format(time.RFC3339)
		if err := c.Mover.Stream(ctx, strings.NewReader(stamp), marker); err != nil {
			return fmt.Errorf("write completion marker: %w", err)
		}
	}

	if err := c.Mover.Delete(ctx, a.RemotePath); err != nil && !errors.Is(err, transport.ErrNotFound) {
		return fmt.Errorf("delete remote part: %w", err)
	}
	slog.Debug("removed completed part", "name", a.Name, "remote", a.RemotePath)
	return nil
}

func (c *Completer) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// RemoteCompleted lists prefix once and returns the part keys that have a
// completion marker, with the marker suffix stripped.
func RemoteCompleted(ctx context.Context, m transport.Mover, prefix string) ([]string, error) {
	keys, err := m.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list completion markers: %w", err)
	}
	return lo.FilterMap(keys, func(k string, _ int) (string, bool) {
		return strings.CutSuffix(k, MarkerSuffix)
	}), nil
}
