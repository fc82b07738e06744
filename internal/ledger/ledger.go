// Package ledger records which artifacts are finished end to end so that
// later runs skip them before doing any digest work.
package ledger

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/samber/lo"
)

// Ledger is the exclude set: base names that are fully synchronized. The
// backing file is newline delimited and only ever appended to. Names are
// never removed.
type Ledger struct {
	path string

	mu    sync.RWMutex
	names map[string]struct{}
}

// New returns an empty ledger backed by path. An empty path keeps the
// ledger in memory only.
func New(path string) *Ledger {
	return &Ledger{path: path, names: make(map[string]struct{})}
}

// Open creates a ledger and loads its file.
func Open(path string) (*Ledger, error) {
	l := New(path)
	if err := l.Load(); err != nil {
		return nil, err
	}
	return l, nil
}

// Path returns the backing file.
func (l *Ledger) Path() string { return l.path }

// Load reads the backing file into memory. A missing file is an empty set;
// duplicate lines are harmless.
func (l *Ledger) Load() error {
	if l.path == "" {
		return nil
	}
	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	l.mu.Lock()
	defer l.mu.Unlock()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if name := strings.TrimSpace(sc.Text()); name != "" {
			l.names[name] = struct{}{}
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read ledger %s: %w", l.path, err)
	}
	return nil
}

// Contains reports whether name is recorded as complete.
func (l *Ledger) Contains(name string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.names[name]
	return ok
}

// Add records name and appends it to the backing file. Adding a name that
// is already present does nothing.
func (l *Ledger) Add(name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.names[name]; ok {
		return nil
	}
	if l.path != "" {
		if err := appendLine(l.path, name); err != nil {
			return err
		}
	}
	l.names[name] = struct{}{}
	return nil
}

func appendLine(path, line string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	// O_APPEND keeps concurrent writers from other processes line-atomic.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger for append: %w", err)
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		f.Close()
		return fmt.Errorf("append to ledger: %w", err)
	}
	return f.Close()
}

// Merge adds names in memory without touching the backing file. It is used
// for completion markers found in remote storage.
func (l *Ledger) Merge(names ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, n := range names {
		l.names[n] = struct{}{}
	}
}

// Len returns the number of recorded names.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.names)
}

// Names returns the recorded names in sorted order.
func (l *Ledger) Names() []string {
	l.mu.RLock()
	names := lo.Keys(l.names)
	l.mu.RUnlock()
	sort.Strings(names)
	return names
}
