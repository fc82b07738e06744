// Package movertest provides an in-memory transport.Mover that records
// calls and injects failures.
package movertest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"gocloud.dev/blob/memblob"

	"github.com/bamsammich/partsync/internal/transport"
)

// ErrInjected is returned by operations configured to fail.
var ErrInjected = errors.New("injected failure")

// Fake is a memblob-backed mover. Every call is appended to Calls as
// "<op> <key>".
type Fake struct {
	transport.Mover

	// OpaqueMissing makes Size on an absent key fail with a plain error,
	// the way rclone exits non-zero instead of reporting zero objects.
	OpaqueMissing bool

	mu    sync.Mutex
	calls []string
	fail  map[string]int
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		Mover: transport.NewBlobMover(memblob.OpenBucket(nil), ""),
		fail:  make(map[string]int),
	}
}

// FailNext makes the next n calls of op ("size", "stream", "fetch",
// "delete", "list") fail with ErrInjected.
func (f *Fake) FailNext(op string, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[op] += n
}

// Calls returns a copy of the call log.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Count returns how many times op was called.
func (f *Fake) Count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, op+" ") {
			n++
		}
	}
	return n
}

func (f *Fake) record(op, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op+" "+key)
	if f.fail[op] > 0 {
		f.fail[op]--
		return fmt.Errorf("%s %s: %w", op, key, ErrInjected)
	}
	return nil
}

// Put stores data under key without recording a call.
func (f *Fake) Put(ctx context.Context, key string, data []byte) error {
	return f.Mover.Stream(ctx, bytes.NewReader(data), key)
}

// Get returns the stored bytes under key without recording a call.
func (f *Fake) Get(ctx context.Context, key string) ([]byte, error) {
	var buf bytes.Buffer
	if err := f.Mover.Fetch(ctx, key, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (f *Fake) Size(ctx context.Context, key string) (int64, error) {
	if err := f.record("size", key); err != nil {
		return 0, err
	}
	n, err := f.Mover.Size(ctx, key)
	if f.OpaqueMissing && errors.Is(err, transport.ErrNotFound) {
		return 0, fmt.Errorf("rclone size %s: exit status 3: directory not found", key)
	}
	return n, err
}

func (f *Fake) Stream(ctx context.Context, r io.Reader, key string) error {
	if err := f.record("stream", key); err != nil {
		return err
	}
	return f.Mover.Stream(ctx, r, key)
}

func (f *Fake) Fetch(ctx context.Context, key string, w io.Writer) error {
	if err := f.record("fetch", key); err != nil {
		return err
	}
	return f.Mover.Fetch(ctx, key, w)
}

func (f *Fake) Delete(ctx context.Context, key string) error {
	if err := f.record("delete", key); err != nil {
		return err
	}
	return f.Mover.Delete(ctx, key)
}

func (f *Fake) List(ctx context.Context, prefix string) ([]string, error) {
	if err := f.record("list", prefix); err != nil {
		return nil, err
	}
	return f.Mover.List(ctx, prefix)
}
