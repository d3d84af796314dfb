package resource

import (
	"context"
	"io"
)

// ioChunkSize bounds a single IO reservation. Reserving per chunk keeps one
// large snapshot write from exceeding the limiter's burst, which would
// block forever.
const ioChunkSize = 64 * 1024

// RateLimitedWriter throttles writes through a Controller's IO budget.
type RateLimitedWriter struct {
	w   io.Writer
	rc  *Controller
	ctx context.Context
}

// NewRateLimitedWriter wraps w so every write reserves IO budget first.
func NewRateLimitedWriter(w io.Writer, rc *Controller, ctx context.Context) *RateLimitedWriter {
	return &RateLimitedWriter{w: w, rc: rc, ctx: ctx}
}

func (w *RateLimitedWriter) Write(p []byte) (int, error) {
	var written int
	for len(p) > 0 {
		chunk := min(len(p), ioChunkSize)
		if err := w.rc.AcquireIO(w.ctx, chunk); err != nil {
			return written, err
		}
		n, err := w.w.Write(p[:chunk])
		written += n
		if err != nil {
			return written, err
		}
		p = p[chunk:]
	}
	return written, nil
}

// RateLimitedReader throttles reads through a Controller's IO budget.
type RateLimitedReader struct {
	r   io.Reader
	rc  *Controller
	ctx context.Context
}

// NewRateLimitedReader wraps r so every read reserves IO budget first.
func NewRateLimitedReader(r io.Reader, rc *Controller, ctx context.Context) *RateLimitedReader {
	return &RateLimitedReader{r: r, rc: rc, ctx: ctx}
}

// Read reserves before reading; the actual read size is unknown up front,
// so the reservation covers the (chunk-capped) buffer size.
func (r *RateLimitedReader) Read(p []byte) (int, error) {
	chunk := min(len(p), ioChunkSize)
	if err := r.rc.AcquireIO(r.ctx, chunk); err != nil {
		return 0, err
	}
	return r.r.Read(p[:chunk])
}
