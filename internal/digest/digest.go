// Package digest computes reproducible fingerprints of byte windows of a
// file. Small windows are hashed completely; large windows are sampled so
// that multi-gigabyte shards can be compared without reading every byte.
package digest

import (
	"crypto/md5" //nolint:gosec // compatibility digest, not used for security
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/zeebo/blake3"
)

// Algorithm selects the hash function behind a Sampler.
type Algorithm string

const (
	Blake3 Algorithm = "blake3"
	XXHash Algorithm = "xxhash"
	MD5    Algorithm = "md5"
)

// Defaults for the sampling policy.
const (
	DefaultThreshold = 16 << 20 // 16 MiB
	DefaultBlockSize = 1 << 20  // 1 MiB
	DefaultSamples   = 16
)

// ErrShortFile is returned when the requested window extends past EOF.
var ErrShortFile = errors.New("window extends past end of file")

// Digester fingerprints size bytes of the file at path starting at skip.
// A negative size means "to the end of the file".
type Digester interface {
	Digest(path string, skip, size int64) (string, error)
}

// Sampler is the Digester used by every component. The same configuration
// must be used when planning and when verifying.
type Sampler struct {
	Algorithm Algorithm
	Threshold int64
	BlockSize int64
	Samples   int
}

// NewSampler returns a Sampler with the default policy for alg.
func NewSampler(alg Algorithm) *Sampler {
	return &Sampler{
		Algorithm: alg,
		Threshold: DefaultThreshold,
		BlockSize: DefaultBlockSize,
		Samples:   DefaultSamples,
	}
}

// ParseAlgorithm validates an algorithm name.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch a := Algorithm(s); a {
	case Blake3, XXHash, MD5:
		return a, nil
	case "":
		return Blake3, nil
	default:
		return "", fmt.Errorf("unknown digest algorithm %q (use blake3, xxhash or md5)", s)
	}
}

func (s *Sampler) newHash() (hash.Hash, error) {
	switch s.Algorithm {
	case Blake3, "":
		return blake3.New(), nil
	case XXHash:
		return xxhash.New(), nil
	case MD5:
		return md5.New(), nil //nolint:gosec // see import
	default:
		return nil, fmt.Errorf("unknown digest algorithm %q", s.Algorithm)
	}
}

// Digest implements Digester.
func (s *Sampler) Digest(path string, skip, size int64) (string, error) {
	if skip < 0 {
		return "", fmt.Errorf("digest %s: negative offset %d", path, skip)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}

	if size < 0 {
		size = info.Size() - skip
	}
	if skip+size > info.Size() || size < 0 {
		return "", fmt.Errorf("digest %s [%d,+%d) of %d bytes: %w", path, skip, size, info.Size(), ErrShortFile)
	}

	h, err := s.newHash()
	if err != nil {
		return "", err
	}
	if err := s.hashWindow(h, f, skip, size); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// File digests the whole file at path.
func (s *Sampler) File(path string) (string, error) {
	return s.Digest(path, 0, -1)
}

func (s *Sampler) hashWindow(h hash.Hash, r io.ReaderAt, skip, size int64) error {
	threshold := s.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	block := s.BlockSize
	if block <= 0 {
		block = DefaultBlockSize
	}
	samples := s.Samples
	if samples < 2 {
		samples = DefaultSamples
	}

	if size <= threshold || int64(samples)*block >= size {
		buf := make([]byte, 32*1024)
		_, err := io.CopyBuffer(h, io.NewSectionReader(r, skip, size), buf)
		return err
	}

	// Mix the window length in first so windows that share sampled blocks
	// but differ in length never collide.
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(size))
	h.Write(lenBuf[:])

	buf := make([]byte, block)
	stride := (size - block) / int64(samples-1)
	for i := range samples {
		off := skip + int64(i)*stride
		if i == samples-1 {
			off = skip + size - block
		}
		if _, err := r.ReadAt(buf, off); err != nil {
			return err
		}
		h.Write(buf)
	}
	return nil
}

// Counting wraps a Digester and counts calls. It is safe for sequential use
// only, which is how the planner and applier call it.
type Counting struct {
	Digester
	Calls int
}

func (c *Counting) Digest(path string, skip, size int64) (string, error) {
	c.Calls++
	return c.Digester.Digest(path, skip, size)
}
