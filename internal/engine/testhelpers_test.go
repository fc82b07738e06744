package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bamsammich/partsync/internal/digest"
	"github.com/bamsammich/partsync/internal/inventory"
	"github.com/bamsammich/partsync/internal/ledger"
	"github.com/bamsammich/partsync/internal/task"
)

// pattern returns n deterministic bytes that differ per seed.
func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*31+i/253) ^ seed
	}
	return b
}

func writeFile(t *testing.T, path string, data []byte) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func newSampler() *digest.Sampler { return digest.NewSampler(digest.Blake3) }

func mustDigest(t *testing.T, d digest.Digester, path string, skip, size int64) string {
	t.Helper()
	sum, err := d.Digest(path, skip, size)
	require.NoError(t, err)
	return sum
}

// record describes an existing file the way an inventory would.
func record(t *testing.T, path string) inventory.FileRecord {
	t.Helper()
	info, err := os.Stat(path)
	require.NoError(t, err)
	return inventory.FileRecord{Path: path, Size: info.Size(), Digest: mustDigest(t, newSampler(), path, 0, -1)}
}

// partialFixture is a destination holding the first skip bytes of data, a
// source holding all of it and the cached part for the difference.
type partialFixture struct {
	data  []byte
	task  *task.Partial
	cache string
}

func newPartialFixture(t *testing.T, name string, data []byte, skip int64) *partialFixture {
	t.Helper()
	dir := t.TempDir()
	s := newSampler()

	src := writeFile(t, filepath.Join(dir, "src", name), data)
	dst := writeFile(t, filepath.Join(dir, "dst", name), data[:skip])

	p := &task.Partial{
		Copy: task.Copy{
			SrcPath: src,
			DstPath: dst,
			Size:    int64(len(data)) - skip,
			Digest:  mustDigest(t, s, src, 0, -1),
		},
		Skip:         skip,
		OriginDigest: mustDigest(t, s, dst, 0, -1),
		PartDigest:   mustDigest(t, s, src, skip, -1),
	}

	cache := filepath.Join(dir, "cache")
	writeFile(t, filepath.Join(cache, p.PartName()), data[skip:])

	return &partialFixture{data: data, task: p, cache: cache}
}

func (f *partialFixture) partPath() string {
	return filepath.Join(f.cache, f.task.PartName())
}

func (f *partialFixture) applier(d digest.Digester, l *ledger.Ledger) *Applier {
	return &Applier{
		Digester:  d,
		CacheDir:  f.cache,
		Completer: &ledger.Completer{Ledger: l},
	}
}
