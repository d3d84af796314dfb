// Package testutil provides seeded random vector generation for tests and
// benchmarks.
//
//	rng := testutil.NewRNG(42)
//	vecs := rng.UniformVectors(100, model.DefaultDimension)
//	probe := rng.Perturb(vecs[0], 0.01)
package testutil

import (
	"math"
	"math/rand"
	"sync"

	"github.com/hupe1980/idtrack/model"
)

// RNG is a seeded, thread-safe random vector generator.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// UniformVectors generates random vectors with values in range [0, 1).
func (r *RNG) UniformVectors(num, dim int) []model.Vector {
	r.mu.Lock()
	defer r.mu.Unlock()

	vectors := make([]model.Vector, num)
	for i := range vectors {
		vec := make(model.Vector, dim)
		for j := range vec {
			vec[j] = r.rand.Float32()
		}
		vectors[i] = vec
	}
	return vectors
}

// GaussianVectors generates random vectors drawn from a standard normal
// distribution.
func (r *RNG) GaussianVectors(num, dim int) []model.Vector {
	r.mu.Lock()
	defer r.mu.Unlock()

	vectors := make([]model.Vector, num)
	for i := range vectors {
		vec := make(model.Vector, dim)
		for j := range vec {
			vec[j] = float32(r.rand.NormFloat64())
		}
		vectors[i] = vec
	}
	return vectors
}

// UnitVector generates a single L2-normalized random vector.
func (r *RNG) UnitVector(dim int) model.Vector {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unitVectorLocked(dim)
}

func (r *RNG) unitVectorLocked(dim int) model.Vector {
	vec := make(model.Vector, dim)
	var norm float64
	for j := range vec {
		v := r.rand.NormFloat64()
		vec[j] = float32(v)
		norm += v * v
	}
	if norm == 0 {
		norm = 1
	}
	invNorm := float32(1.0 / math.Sqrt(norm))
	for j := range vec {
		vec[j] *= invNorm
	}
	return vec
}

// UnitVectors generates L2-normalized random vectors (on the hypersphere).
func (r *RNG) UnitVectors(num, dim int) []model.Vector {
	r.mu.Lock()
	defer r.mu.Unlock()

	vectors := make([]model.Vector, num)
	for i := range vectors {
		vectors[i] = r.unitVectorLocked(dim)
	}
	return vectors
}

// ClusteredVectors generates vectors clustered around random unit centroids.
// Useful for building datasets where each cluster acts as one subject seen
// from slightly different angles.
func (r *RNG) ClusteredVectors(num, dim, clusters int, spread float32) []model.Vector {
	centroids := r.UnitVectors(clusters, dim)

	r.mu.Lock()
	defer r.mu.Unlock()

	vectors := make([]model.Vector, num)
	for i := range vectors {
		centroid := centroids[i%clusters]
		vec := make(model.Vector, dim)
		for j := range vec {
			vec[j] = centroid[j] + float32(r.rand.NormFloat64())*spread
		}
		vectors[i] = vec
	}
	return vectors
}

// Perturb returns a copy of v with Gaussian noise of the given magnitude
// added to every component. The result has a different content hash but
// stays close to v in L2 distance for small magnitudes.
func (r *RNG) Perturb(v model.Vector, magnitude float32) model.Vector {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := v.Clone()
	for j := range out {
		out[j] += float32(r.rand.NormFloat64()) * magnitude
	}
	return out
}
