package engine

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// NewBWLimiter returns a limiter capping aggregate throughput at bytesPerSec
// across every reader that shares it. A non-positive rate returns nil, which
// callers treat as unlimited.
func NewBWLimiter(bytesPerSec int64) *rate.Limiter {
	if bytesPerSec <= 0 {
		return nil
	}
	burst := 1 << 20 // 1 MiB
	if bytesPerSec < int64(burst) {
		burst = int(bytesPerSec)
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), burst)
}

type rateLimitedReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

// limitReader throttles r by limiter. A nil limiter returns r unchanged.
func limitReader(ctx context.Context, r io.Reader, limiter *rate.Limiter) io.Reader {
	if limiter == nil {
		return r
	}
	return &rateLimitedReader{ctx: ctx, r: r, limiter: limiter}
}

func (rl *rateLimitedReader) Read(p []byte) (int, error) {
	// WaitN fails outright for n above the burst.
	if burst := rl.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}
	n, err := rl.r.Read(p)
	if n > 0 {
		if waitErr := rl.limiter.WaitN(rl.ctx, n); waitErr != nil {
			return n, waitErr
		}
	}
	return n, err
}

type rateLimitedWriter struct {
	ctx     context.Context
	w       io.Writer
	limiter *rate.Limiter
}

// limitWriter throttles w by limiter. A nil limiter returns w unchanged.
func limitWriter(ctx context.Context, w io.Writer, limiter *rate.Limiter) io.Writer {
	if limiter == nil {
		return w
	}
	return &rateLimitedWriter{ctx: ctx, w: w, limiter: limiter}
}

func (rw *rateLimitedWriter) Write(p []byte) (int, error) {
	burst := rw.limiter.Burst()
	written := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > burst {
			chunk = chunk[:burst]
		}
		if err := rw.limiter.WaitN(rw.ctx, len(chunk)); err != nil {
			return written, err
		}
		n, err := rw.w.Write(chunk)
		written += n
		if err != nil {
			return written, err
		}
		p = p[n:]
	}
	return written, nil
}
