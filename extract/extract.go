// Package extract defines the feature extraction boundary.
//
// Extraction turns an opaque image payload into zero or more embedding
// vectors. The tracker only accepts inputs that yield exactly one vector;
// zero or multiple vectors become rejected classifications upstream.
package extract

import (
	"context"

	"github.com/hupe1980/idtrack/model"
)

// Extractor produces embedding vectors from an image payload.
// Implementations must be safe for concurrent use.
type Extractor interface {
	Extract(ctx context.Context, payload []byte) ([]model.Vector, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, payload []byte) ([]model.Vector, error)

// Extract calls f.
func (f ExtractorFunc) Extract(ctx context.Context, payload []byte) ([]model.Vector, error) {
	return f(ctx, payload)
}

// Static returns the same canned vectors for every payload.
// Intended for tests and demos.
type Static struct {
	Vectors []model.Vector
}

// NewStatic creates a static extractor with the given vectors.
func NewStatic(vectors ...model.Vector) *Static {
	return &Static{Vectors: vectors}
}

// Extract returns the canned vectors, honoring context cancellation.
func (s *Static) Extract(ctx context.Context, _ []byte) ([]model.Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]model.Vector, len(s.Vectors))
	for i, v := range s.Vectors {
		out[i] = v.Clone()
	}
	return out, nil
}
