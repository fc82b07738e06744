package digest

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "f.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/251)
	}
	return b
}

func TestDigestWindowMatchesStandaloneFile(t *testing.T) {
	data := pattern(1000)
	whole := writeFile(t, data)
	tail := writeFile(t, data[600:])
	head := writeFile(t, data[:600])

	for _, alg := range []Algorithm{Blake3, XXHash, MD5} {
		t.Run(string(alg), func(t *testing.T) {
			s := NewSampler(alg)

			gotTail, err := s.Digest(whole, 600, 400)
			require.NoError(t, err)
			wantTail, err := s.File(tail)
			require.NoError(t, err)
			assert.Equal(t, wantTail, gotTail)

			gotHead, err := s.Digest(whole, 0, 600)
			require.NoError(t, err)
			wantHead, err := s.File(head)
			require.NoError(t, err)
			assert.Equal(t, wantHead, gotHead)

			assert.NotEqual(t, gotHead, gotTail)
		})
	}
}

func TestDigestToEOF(t *testing.T) {
	path := writeFile(t, pattern(300))
	s := NewSampler(Blake3)

	a, err := s.Digest(path, 100, -1)
	require.NoError(t, err)
	b, err := s.Digest(path, 100, 200)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestDigestShortFile(t *testing.T) {
	path := writeFile(t, pattern(100))
	s := NewSampler(Blake3)

	_, err := s.Digest(path, 50, 51)
	require.ErrorIs(t, err, ErrShortFile)

	_, err = s.Digest(path, -1, 10)
	require.Error(t, err)

	_, err = s.Digest(filepath.Join(t.TempDir(), "missing"), 0, 1)
	require.Error(t, err)
}

func TestDigestEmptyWindow(t *testing.T) {
	path := writeFile(t, nil)
	s := NewSampler(Blake3)

	d, err := s.File(path)
	require.NoError(t, err)
	assert.NotEmpty(t, d)
}

func TestSampledDigest(t *testing.T) {
	s := &Sampler{Algorithm: Blake3, Threshold: 1024, BlockSize: 64, Samples: 4}
	data := pattern(8192)
	path := writeFile(t, data)

	base, err := s.File(path)
	require.NoError(t, err)

	t.Run("deterministic", func(t *testing.T) {
		again, err := s.File(path)
		require.NoError(t, err)
		assert.Equal(t, base, again)
	})

	t.Run("sampled block change is detected", func(t *testing.T) {
		changed := bytes.Clone(data)
		changed[len(changed)-1] ^= 0xff
		d, err := s.File(writeFile(t, changed))
		require.NoError(t, err)
		assert.NotEqual(t, base, d)
	})

	t.Run("unsampled byte is not read", func(t *testing.T) {
		// Stride is (8192-64)/3 = 2709; byte 1000 falls between samples.
		changed := bytes.Clone(data)
		changed[1000] ^= 0xff
		d, err := s.File(writeFile(t, changed))
		require.NoError(t, err)
		assert.Equal(t, base, d)
	})

	t.Run("length is part of the fingerprint", func(t *testing.T) {
		d, err := s.Digest(path, 0, 8191)
		require.NoError(t, err)
		assert.NotEqual(t, base, d)
	})
}

func TestParseAlgorithm(t *testing.T) {
	a, err := ParseAlgorithm("")
	require.NoError(t, err)
	assert.Equal(t, Blake3, a)

	a, err = ParseAlgorithm("md5")
	require.NoError(t, err)
	assert.Equal(t, MD5, a)

	_, err = ParseAlgorithm("sha1")
	assert.Error(t, err)
}

func TestCounting(t *testing.T) {
	path := writeFile(t, pattern(10))
	c := &Counting{Digester: NewSampler(XXHash)}

	_, err := c.Digest(path, 0, 10)
	require.NoError(t, err)
	_, err = c.Digest(path, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Calls)
}
