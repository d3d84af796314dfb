// Package storetest provides a contract test suite that every store backend
// must pass.
package storetest

import (
	"context"
	"testing"

	"github.com/hupe1980/idtrack/model"
	"github.com/hupe1980/idtrack/store"
	"github.com/stretchr/testify/require"
)

// Factory creates a fresh store for one test. Cleanup is the caller's
// responsibility via t.Cleanup.
type Factory func(t *testing.T) store.Store

// vec returns a 128-dim vector with the given leading components.
func vec(components ...float32) model.Vector {
	v := make(model.Vector, model.DefaultDimension)
	copy(v, components)
	return v
}

// Run executes the backend contract suite.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndRead", func(t *testing.T) { testCreateAndRead(t, newStore(t)) })
	t.Run("DimensionValidation", func(t *testing.T) { testDimensionValidation(t, newStore(t)) })
	t.Run("DuplicateHashAtCreate", func(t *testing.T) { testDuplicateHashAtCreate(t, newStore(t)) })
	t.Run("DuplicateHashAtAppendIsNoop", func(t *testing.T) { testDuplicateAppend(t, newStore(t)) })
	t.Run("AppendUnknownIdentity", func(t *testing.T) { testAppendUnknown(t, newStore(t)) })
	t.Run("EvictNearestAtCapacity", func(t *testing.T) { testEvictNearest(t, newStore(t)) })
	t.Run("AppearanceCount", func(t *testing.T) { testAppearanceCount(t, newStore(t)) })
	t.Run("ClearAll", func(t *testing.T) { testClearAll(t, newStore(t)) })
}

func testCreateAndRead(t *testing.T, s store.Store) {
	ctx := context.Background()

	id, err := s.CreateIdentity(ctx, vec(1))
	require.NoError(t, err)

	count, err := s.AppearanceCount(ctx, id)
	require.NoError(t, err)
	require.Equal(t, uint64(1), count)

	vecs, err := s.GetEmbeddings(ctx, id)
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	require.Equal(t, float32(1), vecs[0][0])

	require.NoError(t, s.AppendEmbedding(ctx, id, vec(2)))

	snapshot, err := s.GetAllEmbeddings(ctx)
	require.NoError(t, err)
	require.Len(t, snapshot, 1)
	require.Len(t, snapshot[id], 2)
}

func testDimensionValidation(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.CreateIdentity(ctx, model.Vector{1, 2, 3})
	require.ErrorIs(t, err, model.ErrInvalidDimension)

	var ve *model.ValidationError
	require.ErrorAs(t, err, &ve)
	require.Equal(t, 3, ve.Got)
	require.Equal(t, model.DefaultDimension, ve.Want)

	// No partial mutation.
	snapshot, err := s.GetAllEmbeddings(ctx)
	require.NoError(t, err)
	require.Empty(t, snapshot)
}

func testDuplicateHashAtCreate(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.CreateIdentity(ctx, vec(1))
	require.NoError(t, err)

	_, err = s.CreateIdentity(ctx, vec(1))
	require.ErrorIs(t, err, store.ErrDuplicateEmbedding)

	var de *store.DuplicateEmbeddingError
	require.ErrorAs(t, err, &de)
	require.Equal(t, model.HashVector(vec(1)), de.Hash)
}

func testDuplicateAppend(t *testing.T, s store.Store) {
	ctx := context.Background()

	id, err := s.CreateIdentity(ctx, vec(1))
	require.NoError(t, err)

	// Same vector again: silent no-op, even across identities' embeddings.
	require.NoError(t, s.AppendEmbedding(ctx, id, vec(1)))

	vecs, err := s.GetEmbeddings(ctx, id)
	require.NoError(t, err)
	require.Len(t, vecs, 1)
}

func testAppendUnknown(t *testing.T, s store.Store) {
	ctx := context.Background()

	err := s.AppendEmbedding(ctx, 42, vec(1))
	require.ErrorIs(t, err, store.ErrNotFound)

	var nf *store.NotFoundError
	require.ErrorAs(t, err, &nf)
	require.Equal(t, model.IdentityID(42), nf.ID)
}

func testEvictNearest(t *testing.T, s store.Store) {
	ctx := context.Background()

	// Fill an identity to capacity with vectors at distinct positions.
	id, err := s.CreateIdentity(ctx, vec(10))
	require.NoError(t, err)
	for _, x := range []float32{20, 30, 40, 50} {
		require.NoError(t, s.AppendEmbedding(ctx, id, vec(x)))
	}

	vecs, err := s.GetEmbeddings(ctx, id)
	require.NoError(t, err)
	require.Len(t, vecs, store.MaxEmbeddingsPerIdentity)

	// Incoming vector at 31: nearest stored embedding is 30, which must go.
	require.NoError(t, s.AppendEmbedding(ctx, id, vec(31)))

	vecs, err = s.GetEmbeddings(ctx, id)
	require.NoError(t, err)
	require.Len(t, vecs, store.MaxEmbeddingsPerIdentity)

	var firsts []float32
	for _, v := range vecs {
		firsts = append(firsts, v[0])
	}
	require.ElementsMatch(t, []float32{10, 20, 40, 50, 31}, firsts)
}

func testAppearanceCount(t *testing.T, s store.Store) {
	ctx := context.Background()

	id, err := s.CreateIdentity(ctx, vec(1))
	require.NoError(t, err)

	require.NoError(t, s.IncrementAppearance(ctx, id))
	require.NoError(t, s.IncrementAppearance(ctx, id))

	count, err := s.AppearanceCount(ctx, id)
	require.NoError(t, err)
	require.Equal(t, uint64(3), count)

	_, err = s.AppearanceCount(ctx, 999)
	require.ErrorIs(t, err, store.ErrNotFound)

	err = s.IncrementAppearance(ctx, 999)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testClearAll(t *testing.T, s store.Store) {
	ctx := context.Background()

	idA, err := s.CreateIdentity(ctx, vec(1))
	require.NoError(t, err)
	_, err = s.CreateIdentity(ctx, vec(2))
	require.NoError(t, err)

	require.NoError(t, s.ClearAll(ctx))

	snapshot, err := s.GetAllEmbeddings(ctx)
	require.NoError(t, err)
	require.Empty(t, snapshot)

	_, err = s.AppearanceCount(ctx, idA)
	require.ErrorIs(t, err, store.ErrNotFound)

	// The hash index must be cleared too: re-creating the same vector works.
	_, err = s.CreateIdentity(ctx, vec(1))
	require.NoError(t, err)
}
